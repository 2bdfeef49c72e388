package radio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/dsp/mixer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBurstSamples = 4096
	defaultChunkSamples = 2048
	defaultPeriod       = time.Second
	defaultLead         = 50 * time.Millisecond
)

// Beacon transmits a tone burst once per period. Each burst is scheduled on
// the hardware clock, lead ahead of the time it was prepared.
type Beacon struct {
	session   *bladerf.Session
	logger    zerolog.Logger
	osc       *mixer.Oscillator
	toneFreq  float64
	amplitude float32
	channel   int

	burstSamples int
	chunkSamples int
	period       time.Duration
	lead         time.Duration

	bursts atomic.Uint64
}

type BeaconOption func(b *Beacon) error

func WithBeaconLogger(logger zerolog.Logger) BeaconOption {
	return func(b *Beacon) error {
		b.logger = logger
		return nil
	}
}

// WithTone sets the baseband offset of the tone and its amplitude, 0 to 1.
func WithTone(offsetHz float64, amplitude float32) BeaconOption {
	return func(b *Beacon) error {
		if amplitude < 0 || amplitude > 1 {
			return errors.New("beacon amplitude must be within [0, 1]")
		}
		b.toneFreq = offsetHz
		b.amplitude = amplitude
		return nil
	}
}

// WithBurst sets the burst length and the number of samples per Transmit call.
func WithBurst(samples, chunk int) BeaconOption {
	return func(b *Beacon) error {
		if samples <= 0 || chunk <= 0 {
			return errors.New("beacon burst and chunk sizes must be positive")
		}
		b.burstSamples = samples
		b.chunkSamples = chunk
		return nil
	}
}

func WithSchedule(period, lead time.Duration) BeaconOption {
	return func(b *Beacon) error {
		if period <= 0 || lead < 0 {
			return errors.New("invalid beacon schedule")
		}
		b.period = period
		b.lead = lead
		return nil
	}
}

func WithTxChannel(idx int) BeaconOption {
	return func(b *Beacon) error {
		b.channel = idx
		return nil
	}
}

func NewBeacon(session *bladerf.Session, opts ...BeaconOption) (*Beacon, error) {
	b := &Beacon{
		session:      session,
		logger:       log.Logger,
		toneFreq:     100e3,
		amplitude:    0.5,
		burstSamples: defaultBurstSamples,
		chunkSamples: defaultChunkSamples,
		period:       defaultPeriod,
		lead:         defaultLead,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.channel < 0 || b.channel >= session.Channels(bladerf.TX) {
		return nil, errors.New("tx channel out of range")
	}
	b.logger = b.logger.With().Str("component", "beacon").Logger()
	return b, nil
}

// Bursts returns the number of bursts handed to the device.
func (b *Beacon) Bursts() uint64 {
	return b.bursts.Load()
}

// Run transmits bursts until ctx is done.
func (b *Beacon) Run(ctx context.Context) error {
	rate := b.session.SampleRate(bladerf.TX)
	if rate <= 0 {
		return errors.New("tx sample rate not set")
	}
	b.osc = mixer.NewOscillator(rate, b.toneFreq)

	next, err := b.session.Time()
	if err != nil {
		return err
	}
	next = next.Add(b.lead.Seconds())

	tone := make([]complex64, b.chunkSamples)
	data := make([][]complex64, b.session.Channels(bladerf.TX))

	tick := time.NewTicker(b.period)
	defer tick.Stop()

	b.logger.Info().Float64("tone_hz", b.toneFreq).Int("burst_samples", b.burstSamples).Dur("period", b.period).Msg("starting beacon")
	for {
		if err := b.burst(tone, data, next); err != nil {
			return err
		}
		b.bursts.Add(1)

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}

		next = next.Add(b.period.Seconds())
		now, err := b.session.Time()
		if err != nil {
			return err
		}
		if now.Seconds() > next.Seconds() {
			b.logger.Warn().Float64("behind_s", now.Seconds()-next.Seconds()).Msg("beacon fell behind, rescheduling")
			next = now.Add(b.lead.Seconds())
		}
	}
}

func (b *Beacon) burst(tone []complex64, data [][]complex64, at bladerf.Timestamp) error {
	b.osc.Reset()
	for sent := 0; sent < b.burstSamples; {
		n := b.chunkSamples
		if left := b.burstSamples - sent; left < n {
			n = left
		}
		b.osc.Tone(tone[:n], b.amplitude)
		data[b.channel] = tone[:n]

		md := bladerf.TxMetadata{
			StartOfBurst: sent == 0,
			EndOfBurst:   sent+n == b.burstSamples,
		}
		if md.StartOfBurst {
			md.Time = at
			md.HasTime = true
		}
		if _, err := b.session.Transmit(data, n, md); err != nil {
			return err
		}
		sent += n
	}
	return nil
}
