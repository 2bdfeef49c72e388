// Package hackrf drives a HackRF One as a single channel, half duplex,
// sc8-only bladerf.Driver.
package hackrf

import (
	"fmt"
	"sync"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/driver/syncbridge"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samuel/go-hackrf/hackrf"
)

const (
	MaxSampleRate = 20e6

	maxLNAGain   = 40
	lnaGainStep  = 8
	maxVGAGain   = 62
	maxTXVGAGain = 47

	sampleSize = 2
)

// radio is the subset of *hackrf.Device used by the driver.
type radio interface {
	SetFreq(freqHz uint64) error
	SetSampleRateManual(freqHz, divider int) error
	SetLNAGain(value int) error
	SetVGAGain(value int) error
	SetTXVGAGain(value int) error
	SetBasebandFilterBandwidth(hz int) error
	SetAmpEnable(value bool) error
	StartRX(cb hackrf.Callback) error
	StopRX() error
	StartTX(cb hackrf.Callback) error
	StopTX() error
	Close() error
}

type Driver struct {
	device radio
	bridge *syncbridge.Bridge
	logger zerolog.Logger
	amp    bool

	mu     sync.Mutex
	rate   uint32
	freq   uint64
	rxGain int
	txGain int
	rxOn   bool
	txOn   bool
}

type Option func(d *Driver) error

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// WithAmp enables the front end RF amplifier.
func WithAmp(enable bool) Option {
	return func(d *Driver) error {
		d.amp = enable
		return nil
	}
}

// Opener opens the first HackRF on the bus.
func Opener(opts ...Option) bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		dev, err := hackrf.Open()
		if err != nil {
			return nil, &bladerf.StatusError{Code: -1, Message: err.Error()}
		}
		d, err := newDriver(dev, params, opts...)
		if err != nil {
			dev.Close()
			return nil, err
		}
		return d, nil
	}
}

func newDriver(dev radio, params bladerf.OpenParams, opts ...Option) (*Driver, error) {
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
	d.logger = d.logger.With().Str("driver", "hackrf").Logger().Level(params.Verbosity)

	if params.DeviceID != "" {
		d.logger.Warn().Str("device_id", params.DeviceID).Msg("device selection not supported, using first device")
	}
	if err := d.device.SetAmpEnable(d.amp); err != nil {
		return nil, statusError(err)
	}
	return d, nil
}

func statusError(err error) error {
	return &bladerf.StatusError{Code: -1, Message: err.Error()}
}

func checkChannel(ch bladerf.Channel) error {
	if ch.Index() != 0 {
		return fmt.Errorf("%w: hackrf has no channel %s", bladerf.ErrUnsupported, ch)
	}
	return nil
}

func (d *Driver) SyncConfig(cfg bladerf.SyncConfig) error {
	if cfg.Layout.Channels() != 1 {
		return fmt.Errorf("%w: hackrf has a single channel per direction", bladerf.ErrUnsupported)
	}
	if cfg.Format.Width != 1 {
		return fmt.Errorf("%w: hackrf streams sc8 only", bladerf.ErrUnsupported)
	}
	d.mu.Lock()
	streaming := d.rxOn || d.txOn
	d.mu.Unlock()
	if !streaming {
		d.bridge.Reset()
	}
	d.logger.Debug().Int("layout", int(cfg.Layout)).Int("buffer_size", cfg.BufferSize).Msg("configured sync interface")
	return nil
}

func (d *Driver) EnableModule(ch bladerf.Channel, enable bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch.Direction() == bladerf.RX {
		switch {
		case enable == d.rxOn:
			return nil
		case enable && d.txOn:
			return fmt.Errorf("%w: hackrf is half duplex, TX is running", bladerf.ErrUnsupported)
		case enable:
			if err := d.device.StartRX(d.receive); err != nil {
				return statusError(err)
			}
		default:
			if err := d.device.StopRX(); err != nil {
				return statusError(err)
			}
		}
		d.rxOn = enable
		return nil
	}

	switch {
	case enable == d.txOn:
		return nil
	case enable && d.rxOn:
		return fmt.Errorf("%w: hackrf is half duplex, RX is running", bladerf.ErrUnsupported)
	case enable:
		if err := d.device.StartTX(d.transmit); err != nil {
			return statusError(err)
		}
	default:
		if err := d.device.StopTX(); err != nil {
			return statusError(err)
		}
	}
	d.txOn = enable
	return nil
}

func (d *Driver) receive(buf []byte) error {
	d.bridge.Push(buf)
	return nil
}

func (d *Driver) transmit(buf []byte) error {
	d.bridge.Pull(buf)
	return nil
}

func (d *Driver) SyncRX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	return d.bridge.Read(buf, n, md, timeout)
}

func (d *Driver) SyncTX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	return d.bridge.Write(buf, n, md, timeout)
}

// SetSampleRate programs both directions; the HackRF has a single sample clock.
func (d *Driver) SetSampleRate(ch bladerf.Channel, rate uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	if rate > MaxSampleRate {
		return 0, &bladerf.StatusError{Code: -4, Message: fmt.Sprintf("sample rate %d above %d", rate, int(MaxSampleRate))}
	}
	if err := d.device.SetSampleRateManual(int(rate)*2, 2); err != nil {
		return 0, statusError(err)
	}
	d.mu.Lock()
	d.rate = rate
	d.mu.Unlock()
	return rate, nil
}

func (d *Driver) SetBandwidth(ch bladerf.Channel, bw uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	if err := d.device.SetBasebandFilterBandwidth(int(bw)); err != nil {
		return 0, statusError(err)
	}
	return bw, nil
}

// splitRxGain distributes a total RX gain over the LNA (8 dB steps) and the
// baseband VGA (2 dB steps), LNA first.
func splitRxGain(gain int) (lna, vga int) {
	lna = clamp(gain, 0, maxLNAGain)
	lna -= lna % lnaGainStep
	vga = clamp(gain-lna, 0, maxVGAGain)
	vga -= vga % 2
	return lna, vga
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (d *Driver) SetGain(ch bladerf.Channel, gain int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch.Direction() == bladerf.TX {
		g := clamp(gain, 0, maxTXVGAGain)
		if err := d.device.SetTXVGAGain(g); err != nil {
			return statusError(err)
		}
		d.txGain = g
		return nil
	}

	lna, vga := splitRxGain(gain)
	if err := d.device.SetLNAGain(lna); err != nil {
		return statusError(err)
	}
	if err := d.device.SetVGAGain(vga); err != nil {
		return statusError(err)
	}
	d.rxGain = lna + vga
	d.logger.Debug().Int("lna", lna).Int("vga", vga).Msg("set rx gain")
	return nil
}

func (d *Driver) Gain(ch bladerf.Channel) (int, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch.Direction() == bladerf.TX {
		return d.txGain, nil
	}
	return d.rxGain, nil
}

func (d *Driver) GainRange(ch bladerf.Channel) (bladerf.Range, error) {
	if err := checkChannel(ch); err != nil {
		return bladerf.Range{}, err
	}
	if ch.Direction() == bladerf.TX {
		return bladerf.Range{Min: 0, Max: maxTXVGAGain, Step: 1}, nil
	}
	return bladerf.Range{Min: 0, Max: maxLNAGain + maxVGAGain, Step: 2}, nil
}

// SetGainMode accepts manual gain only; the HackRF has no AGC.
func (d *Driver) SetGainMode(ch bladerf.Channel, mode bladerf.GainMode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if mode != bladerf.GainModeManual {
		return fmt.Errorf("%w: hackrf has no automatic gain control", bladerf.ErrUnsupported)
	}
	return nil
}

// SetFrequency tunes the shared synthesizer.
func (d *Driver) SetFrequency(ch bladerf.Channel, freq uint64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := d.device.SetFreq(freq); err != nil {
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
	d.mu.Lock()
	if d.rxOn {
		if err := d.device.StopRX(); err != nil {
			d.logger.Warn().Err(err).Msg("error stopping rx")
		}
		d.rxOn = false
	}
	if d.txOn {
		if err := d.device.StopTX(); err != nil {
			d.logger.Warn().Err(err).Msg("error stopping tx")
		}
		d.txOn = false
	}
	d.mu.Unlock()

	d.bridge.Close()
	if err := d.device.Close(); err != nil {
		return statusError(err)
	}
	return nil
}
