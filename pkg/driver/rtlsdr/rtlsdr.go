// Package rtlsdr drives an RTL2832U dongle as a receive-only, single channel,
// sc8 bladerf.Driver.
package rtlsdr

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/driver/syncbridge"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	MaxSampleRate = 3.2e6

	maxGain    = 49
	sampleSize = 2
)

// tuner is the subset of *gsdr.Context used by the driver.
type tuner interface {
	SetCenterFreq(freq int) error
	SetSampleRate(rate int) error
	SetTunerGainMode(manualMode bool) error
	SetTunerGain(gain int) error
	ResetBuffer() error
	ReadAsync(f gsdr.ReadAsyncCbT, userctx *gsdr.UserCtx, bufNum, bufLen int) error
	CancelAsync() error
	Close() error
}

type Driver struct {
	device tuner
	bridge *syncbridge.Bridge
	logger zerolog.Logger

	mu   sync.Mutex
	wg   sync.WaitGroup
	rxOn bool
	freq uint64
	gain int
}

type Option func(d *Driver) error

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// Opener opens the dongle whose index is given as the device identifier. An
// empty identifier selects the first dongle.
func Opener(opts ...Option) bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		idx := 0
		if params.DeviceID != "" {
			var err error
			idx, err = strconv.Atoi(params.DeviceID)
			if err != nil {
				return nil, &bladerf.StatusError{Code: -7, Message: fmt.Sprintf("invalid rtl-sdr index %q", params.DeviceID)}
			}
		}
		dev, err := gsdr.Open(idx)
		if err != nil {
			return nil, &bladerf.StatusError{Code: -7, Message: err.Error()}
		}
		d, err := newDriver(dev, params, opts...)
		if err != nil {
			dev.Close()
			return nil, err
		}
		return d, nil
	}
}

func newDriver(dev tuner, params bladerf.OpenParams, opts ...Option) (*Driver, error) {
	d := &Driver{
		device: dev,
		bridge: syncbridge.New(sampleSize, syncbridge.DefaultDepth),
		logger: log.Logger,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With().Str("driver", "rtlsdr").Logger().Level(params.Verbosity)
	return d, nil
}

func statusError(err error) error {
	return &bladerf.StatusError{Code: -1, Message: err.Error()}
}

func checkChannel(ch bladerf.Channel) error {
	if ch.Direction() == bladerf.TX {
		return fmt.Errorf("%w: rtl-sdr cannot transmit", bladerf.ErrUnsupported)
	}
	if ch.Index() != 0 {
		return fmt.Errorf("%w: rtl-sdr has no channel %s", bladerf.ErrUnsupported, ch)
	}
	return nil
}

func (d *Driver) SyncConfig(cfg bladerf.SyncConfig) error {
	if cfg.Layout.Direction() == bladerf.TX {
		return fmt.Errorf("%w: rtl-sdr cannot transmit", bladerf.ErrUnsupported)
	}
	if cfg.Layout.Channels() != 1 {
		return fmt.Errorf("%w: rtl-sdr has a single channel", bladerf.ErrUnsupported)
	}
	if cfg.Format.Width != 1 {
		return fmt.Errorf("%w: rtl-sdr streams sc8 only", bladerf.ErrUnsupported)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.rxOn {
		d.bridge.Reset()
	}
	return nil
}

// callback converts offset binary samples to signed 8-bit in place.
func (d *Driver) callback(buf []byte) {
	for i, b := range buf {
		buf[i] = b ^ 0x80
	}
	d.bridge.Push(buf)
}

func (d *Driver) EnableModule(ch bladerf.Channel, enable bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if enable == d.rxOn {
		return nil
	}
	if !enable {
		err := d.device.CancelAsync()
		d.wg.Wait()
		d.rxOn = false
		if err != nil {
			return statusError(err)
		}
		return nil
	}

	if err := d.device.ResetBuffer(); err != nil {
		return statusError(err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.device.ReadAsync(d.callback, nil, 0, 0); err != nil {
			d.logger.Error().Err(err).Msg("async read stopped")
		}
	}()
	d.rxOn = true
	return nil
}

func (d *Driver) SyncRX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	return d.bridge.Read(buf, n, md, timeout)
}

func (d *Driver) SyncTX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	return fmt.Errorf("%w: rtl-sdr cannot transmit", bladerf.ErrUnsupported)
}

func (d *Driver) SetSampleRate(ch bladerf.Channel, rate uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	if rate > MaxSampleRate {
		return 0, &bladerf.StatusError{Code: -4, Message: fmt.Sprintf("sample rate %d above %d", rate, int(MaxSampleRate))}
	}
	if err := d.device.SetSampleRate(int(rate)); err != nil {
		return 0, statusError(err)
	}
	return rate, nil
}

// SetBandwidth is accepted and ignored; the tuner picks its own IF filter.
func (d *Driver) SetBandwidth(ch bladerf.Channel, bw uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return bw, nil
}

// SetGain takes dB; the tuner works in tenths of a dB.
func (d *Driver) SetGain(ch bladerf.Channel, gain int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if gain < 0 {
		gain = 0
	}
	if gain > maxGain {
		gain = maxGain
	}
	if err := d.device.SetTunerGain(gain * 10); err != nil {
		return statusError(err)
	}
	d.mu.Lock()
	d.gain = gain
	d.mu.Unlock()
	return nil
}

func (d *Driver) Gain(ch bladerf.Channel) (int, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, nil
}

func (d *Driver) GainRange(ch bladerf.Channel) (bladerf.Range, error) {
	if err := checkChannel(ch); err != nil {
		return bladerf.Range{}, err
	}
	return bladerf.Range{Min: 0, Max: 49.6, Step: 1}, nil
}

func (d *Driver) SetGainMode(ch bladerf.Channel, mode bladerf.GainMode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := d.device.SetTunerGainMode(mode == bladerf.GainModeManual); err != nil {
		return statusError(err)
	}
	return nil
}

func (d *Driver) SetFrequency(ch bladerf.Channel, freq uint64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := d.device.SetCenterFreq(int(freq)); err != nil {
		return statusError(err)
	}
	d.mu.Lock()
	d.freq = freq
	d.mu.Unlock()
	return nil
}

func (d *Driver) Frequency(ch bladerf.Channel) (uint64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq, nil
}

func (d *Driver) Timestamp(dir bladerf.Direction) (uint64, error) {
	return d.bridge.Timestamp(dir), nil
}

func (d *Driver) SetTuningMode(mode bladerf.TuningMode) error {
	if mode != bladerf.TuningModeHost {
		return fmt.Errorf("%w: tuning mode %s", bladerf.ErrUnsupported, mode)
	}
	return nil
}

func (d *Driver) Close() error {
	if err := d.EnableModule(bladerf.ChannelRX(0), false); err != nil {
		d.logger.Warn().Err(err).Msg("error stopping async read")
	}
	d.bridge.Close()
	if err := d.device.Close(); err != nil {
		return statusError(err)
	}
	return nil
}
