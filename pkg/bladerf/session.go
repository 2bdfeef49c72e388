// Package bladerf adapts a bladeRF-style SDR transport to the radio frontend
// used by the baseband chain: it opens and configures the device, streams
// timestamped sample buffers in both directions and reports hardware faults.
package bladerf

import (
	"fmt"
	"math"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bladerf/pkg/iq"
	"github.com/norasector/bladerf/pkg/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const devName = "bladeRF"

// DefaultScratchSize is the per-direction conversion buffer size in bytes.
const DefaultScratchSize = 128 * 1024 * 2

// Info describes the opened device.
type Info struct {
	Name       string `json:"name"`
	Format     string `json:"format"`
	RxChannels int    `json:"rx_channels"`
	TxChannels int    `json:"tx_channels"`
	RxGain     Range  `json:"rx_gain"`
	TxGain     Range  `json:"tx_gain"`
}

// Session owns an open device. Receive and Transmit may run on two different
// goroutines, one per direction; every other method must be serialized by the
// caller.
type Session struct {
	driver   Driver
	opener   Opener
	logger   zerolog.Logger
	writeAPI api.WriteAPI

	args        Args
	format      iq.Format
	scratchSize int

	rxRate uint32
	txRate uint32

	rx *stream
	tx *stream

	faults faultReporter
	info   Info
	closed bool
}

type Option func(s *Session) error

// WithDriver selects the transport opened by Open. It is required.
func WithDriver(opener Opener) Option {
	return func(s *Session) error {
		s.opener = opener
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

// WithInfluxDB writes fault and transfer points to writeAPI.
func WithInfluxDB(writeAPI api.WriteAPI) Option {
	return func(s *Session) error {
		s.writeAPI = writeAPI
		return nil
	}
}

// WithScratchSize sets the per-direction conversion buffer size in bytes.
func WithScratchSize(size int) Option {
	return func(s *Session) error {
		if size <= 0 {
			return configError("open", "invalid scratch size %d", size)
		}
		s.scratchSize = size
		return nil
	}
}

// WithFaultHandler registers h before the session starts streaming.
func WithFaultHandler(h FaultHandler) Option {
	return func(s *Session) error {
		s.faults.handler = h
		return nil
	}
}

// Open parses args, opens the device through the configured driver and
// prepares it for streaming on up to channels channels per direction.
func Open(args string, channels int, opts ...Option) (*Session, error) {
	s := &Session{
		logger:      log.Logger,
		writeAPI:    &util.DiscardWriteAPI{},
		scratchSize: DefaultScratchSize,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	parsed, err := ParseArgs(args, channels)
	if err != nil {
		s.logger.Error().Err(err).Str("args", args).Msg("invalid device arguments")
		return nil, err
	}
	if s.opener == nil {
		return nil, configError("open", "no driver configured")
	}

	s.args = parsed
	s.format = parsed.Format.WithMeta()
	s.logger = s.logger.With().Str("device", devName).Logger()
	s.faults.logger = s.logger
	s.faults.writeAPI = s.writeAPI

	s.logger.Info().Str("device_id", parsed.DeviceID).Msg("opening device")
	drv, err := s.opener(OpenParams{DeviceID: parsed.DeviceID, Verbosity: parsed.LogLevel})
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to open device")
		return nil, transportError("open", err)
	}
	s.driver = drv

	if err := s.configure(); err != nil {
		if cerr := drv.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("error closing device after failed open")
		}
		return nil, err
	}

	s.rx = newStream(RX, s.scratchSize)
	s.tx = newStream(TX, s.scratchSize)

	s.info = Info{
		Name:       devName,
		Format:     parsed.Format.Name,
		RxChannels: parsed.RxChannels,
		TxChannels: parsed.TxChannels,
		RxGain:     s.gainRange(ChannelRX(0)),
		TxGain:     s.gainRange(ChannelTX(0)),
	}

	return s, nil
}

func (s *Session) configure() error {
	s.logger.Debug().Str("tuning_mode", s.args.TuningMode.String()).Msg("setting tuning mode")
	if err := s.driver.SetTuningMode(s.args.TuningMode); err != nil {
		s.logger.Error().Err(err).Msg("unable to set tuning mode")
		return transportError("set tuning mode", err)
	}

	s.logger.Debug().Msg("setting manual gain")
	for i := 0; i < s.args.RxChannels; i++ {
		ch := ChannelRX(i)
		if err := s.driver.SetGainMode(ch, GainModeManual); err != nil {
			s.logger.Error().Err(err).Str("channel", ch.String()).Msg("unable to set gain mode")
			return transportError("set gain mode", err)
		}
	}
	return nil
}

func (s *Session) gainRange(ch Channel) Range {
	r, err := s.driver.GainRange(ch)
	if err != nil {
		s.logger.Debug().Err(err).Str("channel", ch.String()).Msg("gain range unavailable")
		return Range{}
	}
	return r
}

// Close stops any running stream and releases the device. It is safe to call
// more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	stopErr := s.StopStream()
	if stopErr != nil {
		s.logger.Warn().Err(stopErr).Msg("error stopping streams on close")
	}

	s.logger.Info().Msg("closing device")
	closeErr := s.driver.Close()
	s.closed = true

	if stopErr != nil {
		return stopErr
	}
	if closeErr != nil {
		return transportError("close", closeErr)
	}
	return nil
}

func (s *Session) Name() string { return devName }

func (s *Session) Info() Info { return s.info }

func (s *Session) Args() Args { return s.args }

// HasRSSI reports whether the device exposes a received signal strength.
func (s *Session) HasRSSI() bool { return false }

// Channels returns the number of active channels for dir.
func (s *Session) Channels(dir Direction) int {
	if dir == TX {
		return s.args.TxChannels
	}
	return s.args.RxChannels
}

// SampleRate returns the last rate accepted by the device for dir.
func (s *Session) SampleRate(dir Direction) float64 {
	if dir == TX {
		return float64(s.txRate)
	}
	return float64(s.rxRate)
}

// RegisterFaultHandler replaces the fault handler. It must not be called while
// a stream is running.
func (s *Session) RegisterFaultHandler(h FaultHandler) {
	s.faults.handler = h
}

// SetSampleRate programs the sample rate of dir and the matching analog
// filter bandwidth: 90% of the rate for RX, the full rate for TX. It returns
// the rate the device settled on. A bandwidth failure leaves the new rate in
// place.
func (s *Session) SetSampleRate(dir Direction, hz float64) (float64, error) {
	const op = "set sample rate"
	if s.closed {
		return 0, transportError(op, ErrClosed)
	}

	ch := channelFor(dir, 0)
	actual, err := s.driver.SetSampleRate(ch, uint32(hz))
	if err != nil {
		s.logger.Error().Err(err).Str("channel", ch.String()).Uint32("rate", uint32(hz)).Msg("failed to set sample rate")
		return 0, transportError(op, err)
	}
	if dir == TX {
		s.txRate = actual
	} else {
		s.rxRate = actual
	}

	bw := actual
	if dir == RX {
		bw = uint32(float64(actual) * 0.9)
	}
	gotBW, err := s.driver.SetBandwidth(ch, bw)
	if err != nil {
		s.logger.Error().Err(err).Str("channel", ch.String()).Uint32("bandwidth", bw).Msg("failed to set bandwidth")
		return 0, transportError("set bandwidth", err)
	}

	s.logger.Info().
		Str("direction", dir.String()).
		Str("sample_rate", util.HzToString(float64(actual))).
		Str("filter_bw", util.HzToString(float64(gotBW))).
		Msg("set sample rate")

	return float64(actual), nil
}

func (s *Session) SetRxSampleRate(hz float64) (float64, error) {
	return s.SetSampleRate(RX, hz)
}

func (s *Session) SetTxSampleRate(hz float64) (float64, error) {
	return s.SetSampleRate(TX, hz)
}

// SetGain sets the gain of every active channel of dir, channel 1 first.
func (s *Session) SetGain(dir Direction, db float64) error {
	for i := 0; i < s.Channels(dir); i++ {
		if err := s.SetChannelGain(dir, i, db); err != nil {
			return err
		}
	}
	return nil
}

// SetChannelGain sets the gain of a single channel.
func (s *Session) SetChannelGain(dir Direction, idx int, db float64) error {
	const op = "set gain"
	if s.closed {
		return transportError(op, ErrClosed)
	}
	if err := s.checkChannel(op, dir, idx); err != nil {
		return err
	}

	ch := channelFor(dir, idx)
	s.logger.Debug().Str("channel", ch.String()).Float64("gain", db).Msg("setting gain")
	if err := s.driver.SetGain(ch, int(db)); err != nil {
		s.logger.Error().Err(err).Str("channel", ch.String()).Msg("failed to set gain")
		return transportError(op, err)
	}
	return nil
}

// Gain returns the gain of channel 1 of dir.
func (s *Session) Gain(dir Direction) (float64, error) {
	const op = "get gain"
	if s.closed {
		return 0, transportError(op, ErrClosed)
	}
	g, err := s.driver.Gain(channelFor(dir, 0))
	if err != nil {
		s.logger.Error().Err(err).Str("direction", dir.String()).Msg("failed to get gain")
		return 0, transportError(op, err)
	}
	return float64(g), nil
}

// SetFrequency tunes a channel and returns the frequency read back from the
// device, or the requested frequency when the read back fails.
func (s *Session) SetFrequency(dir Direction, idx int, hz float64) (float64, error) {
	const op = "set frequency"
	if s.closed {
		return 0, transportError(op, ErrClosed)
	}
	if err := s.checkChannel(op, dir, idx); err != nil {
		return 0, err
	}
	if hz < 0 {
		return 0, configError(op, "invalid frequency %f", hz)
	}

	ch := channelFor(dir, idx)
	if err := s.driver.SetFrequency(ch, uint64(math.Round(hz))); err != nil {
		s.logger.Error().Err(err).Str("channel", ch.String()).Float64("frequency", hz).Msg("failed to set frequency")
		return 0, transportError(op, err)
	}

	actual, err := s.driver.Frequency(ch)
	if err != nil {
		s.logger.Debug().Err(err).Str("channel", ch.String()).Msg("could not read back frequency")
		return hz, nil
	}
	s.logger.Info().Str("channel", ch.String()).Str("frequency", util.HzToString(float64(actual))).Msg("set frequency")
	return float64(actual), nil
}

// Time returns the current RX hardware time.
func (s *Session) Time() (Timestamp, error) {
	const op = "get time"
	if s.closed {
		return Timestamp{}, transportError(op, ErrClosed)
	}
	ticks, err := s.driver.Timestamp(RX)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get current RX timestamp")
		return Timestamp{}, transportError(op, err)
	}
	return TimestampFromTicks(ticks, float64(s.rxRate)), nil
}

func (s *Session) checkChannel(op string, dir Direction, idx int) error {
	if idx < 0 || idx >= s.Channels(dir) {
		return configError(op, "invalid %s channel %d, session has %d", dir, idx, s.Channels(dir))
	}
	return nil
}

func (s *Session) String() string {
	return fmt.Sprintf("%s (%s, rx=%d tx=%d)", devName, s.args.Format.Name, s.args.RxChannels, s.args.TxChannels)
}
