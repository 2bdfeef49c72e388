// Package bladerftest provides an in-memory bladerf.Driver for tests.
package bladerftest

import (
	"fmt"
	"sync"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
)

// Driver records every call it receives and serves programmable RX data.
// Failures are injected through Errors, keyed by operation name ("sync_rx")
// or by operation and channel ("enable TX2").
type Driver struct {
	mu sync.Mutex

	Params      bladerf.OpenParams
	Calls       []string
	SyncConfigs []bladerf.SyncConfig
	Errors      map[string]error

	// RxData is copied into the caller's buffer on every SyncRX.
	RxData      []byte
	RxStatus    bladerf.MetaStatus
	RxTimestamp uint64
	// RxActual overrides the reported actual count when non-zero.
	RxActual int
	RxFlags  []bladerf.MetaFlag

	TxData   []byte
	TxMeta   []bladerf.Metadata
	TxStatus bladerf.MetaStatus

	Enabled    map[bladerf.Channel]bool
	Gains      map[bladerf.Channel]int
	Freqs      map[bladerf.Channel]uint64
	Rates      map[bladerf.Channel]uint32
	Bandwidths map[bladerf.Channel]uint32
	GainModes  map[bladerf.Channel]bladerf.GainMode
	TuningMode bladerf.TuningMode
	Ticks      uint64
	Closed     bool
}

func New() *Driver {
	return &Driver{
		Errors:     make(map[string]error),
		Enabled:    make(map[bladerf.Channel]bool),
		Gains:      make(map[bladerf.Channel]int),
		Freqs:      make(map[bladerf.Channel]uint64),
		Rates:      make(map[bladerf.Channel]uint32),
		Bandwidths: make(map[bladerf.Channel]uint32),
		GainModes:  make(map[bladerf.Channel]bladerf.GainMode),
	}
}

// Opener returns an opener that hands out d.
func (d *Driver) Opener() bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.Params = params
		if err := d.fail("open"); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// Count returns how many calls to op were recorded. Channel specific calls are
// recorded as "op CH", e.g. "enable RX1"; Count("enable") matches all of them.
func (d *Driver) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.Calls {
		if c == op || (len(c) > len(op) && c[:len(op)] == op && c[len(op)] == ' ') {
			n++
		}
	}
	return n
}

// Log returns a copy of the recorded calls.
func (d *Driver) Log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Calls...)
}

func (d *Driver) record(op string, ch ...bladerf.Channel) error {
	name := op
	if len(ch) > 0 {
		name = fmt.Sprintf("%s %s", op, ch[0])
	}
	d.Calls = append(d.Calls, name)
	if err := d.fail(op); err != nil {
		return err
	}
	return d.fail(name)
}

func (d *Driver) fail(key string) error {
	if err, ok := d.Errors[key]; ok {
		return err
	}
	return nil
}

func (d *Driver) SyncConfig(cfg bladerf.SyncConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("sync_config"); err != nil {
		return err
	}
	d.SyncConfigs = append(d.SyncConfigs, cfg)
	return nil
}

func (d *Driver) EnableModule(ch bladerf.Channel, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	op := "disable"
	if enable {
		op = "enable"
	}
	if err := d.record(op, ch); err != nil {
		return err
	}
	d.Enabled[ch] = enable
	return nil
}

func (d *Driver) SyncRX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("sync_rx"); err != nil {
		return err
	}
	d.RxFlags = append(d.RxFlags, md.Flags)
	copy(buf, d.RxData)
	md.Timestamp = d.RxTimestamp
	md.Status = d.RxStatus
	md.ActualCount = n
	if d.RxActual != 0 {
		md.ActualCount = d.RxActual
	}
	d.Ticks += uint64(n)
	return nil
}

func (d *Driver) SyncTX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TxMeta = append(d.TxMeta, *md)
	if err := d.record("sync_tx"); err != nil {
		return err
	}
	d.TxData = append([]byte(nil), buf...)
	md.Status = d.TxStatus
	md.ActualCount = n
	return nil
}

func (d *Driver) SetSampleRate(ch bladerf.Channel, rate uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_sample_rate", ch); err != nil {
		return 0, err
	}
	d.Rates[ch] = rate
	return rate, nil
}

func (d *Driver) SetBandwidth(ch bladerf.Channel, bw uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_bandwidth", ch); err != nil {
		return 0, err
	}
	d.Bandwidths[ch] = bw
	return bw, nil
}

func (d *Driver) SetGain(ch bladerf.Channel, gain int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_gain", ch); err != nil {
		return err
	}
	d.Gains[ch] = gain
	return nil
}

func (d *Driver) Gain(ch bladerf.Channel) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("gain", ch); err != nil {
		return 0, err
	}
	return d.Gains[ch], nil
}

func (d *Driver) GainRange(ch bladerf.Channel) (bladerf.Range, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("gain_range", ch); err != nil {
		return bladerf.Range{}, err
	}
	if ch.Direction() == bladerf.TX {
		return bladerf.Range{Min: -23.75, Max: 66, Step: 1}, nil
	}
	return bladerf.Range{Min: -15, Max: 60, Step: 1}, nil
}

func (d *Driver) SetGainMode(ch bladerf.Channel, mode bladerf.GainMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_gain_mode", ch); err != nil {
		return err
	}
	d.GainModes[ch] = mode
	return nil
}

func (d *Driver) SetFrequency(ch bladerf.Channel, freq uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_frequency", ch); err != nil {
		return err
	}
	d.Freqs[ch] = freq
	return nil
}

func (d *Driver) Frequency(ch bladerf.Channel) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("frequency", ch); err != nil {
		return 0, err
	}
	return d.Freqs[ch], nil
}

func (d *Driver) Timestamp(dir bladerf.Direction) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("timestamp"); err != nil {
		return 0, err
	}
	return d.Ticks, nil
}

func (d *Driver) SetTuningMode(mode bladerf.TuningMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("set_tuning_mode"); err != nil {
		return err
	}
	d.TuningMode = mode
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("close"); err != nil {
		return err
	}
	d.Closed = true
	return nil
}
