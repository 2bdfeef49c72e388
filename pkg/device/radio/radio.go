// Package radio feeds the DSP chain from a bladerf.Session and transmits
// beacon bursts through it.
package radio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/norasector/bladerf/pkg/device"
	"github.com/norasector/bladerf/pkg/util"
	"github.com/norasector/turbine-common/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSegmentSize   = 16384
	DefaultMaxSampleRate = 61.44e6
)

var _ device.Device = (*RadioDevice)(nil)

// RadioDevice streams one RX channel of a session as numbered segments.
type RadioDevice struct {
	session  *bladerf.Session
	logger   zerolog.Logger
	writeAPI api.WriteAPI

	segmentSize   int
	channel       int
	gain          float64
	hasGain       bool
	maxSampleRate int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type RadioOption func(r *RadioDevice) error

func WithLogger(logger zerolog.Logger) RadioOption {
	return func(r *RadioDevice) error {
		r.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) RadioOption {
	return func(r *RadioDevice) error {
		r.writeAPI = writeAPI
		return nil
	}
}

// WithSegmentSize sets the number of samples per emitted segment.
func WithSegmentSize(n int) RadioOption {
	return func(r *RadioDevice) error {
		if n <= 0 {
			return errors.New("segment size must be positive")
		}
		r.segmentSize = n
		return nil
	}
}

// WithChannel selects the RX channel to emit. Other channels are discarded.
func WithChannel(idx int) RadioOption {
	return func(r *RadioDevice) error {
		r.channel = idx
		return nil
	}
}

func WithGain(db float64) RadioOption {
	return func(r *RadioDevice) error {
		r.gain = db
		r.hasGain = true
		return nil
	}
}

func WithMaxSampleRate(hz int) RadioOption {
	return func(r *RadioDevice) error {
		r.maxSampleRate = hz
		return nil
	}
}

func NewRadioDevice(session *bladerf.Session, opts ...RadioOption) (*RadioDevice, error) {
	r := &RadioDevice{
		session:       session,
		logger:        log.Logger,
		writeAPI:      &util.DiscardWriteAPI{},
		segmentSize:   DefaultSegmentSize,
		maxSampleRate: DefaultMaxSampleRate,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.channel < 0 || r.channel >= session.Channels(bladerf.RX) {
		return nil, errors.New("rx channel out of range")
	}
	r.logger = r.logger.With().Str("component", "radio").Int("channel", r.channel).Logger()
	return r, nil
}

func (r *RadioDevice) MaxSampleRate() int {
	return r.maxSampleRate
}

func (r *RadioDevice) tune(centerFreq, sampleRate int) error {
	if _, err := r.session.SetRxSampleRate(float64(sampleRate)); err != nil {
		return err
	}
	for i := 0; i < r.session.Channels(bladerf.RX); i++ {
		if _, err := r.session.SetFrequency(bladerf.RX, i, float64(centerFreq)); err != nil {
			return err
		}
	}
	if r.hasGain {
		if err := r.session.SetGain(bladerf.RX, r.gain); err != nil {
			return err
		}
	}
	return nil
}

// Start tunes the receiver and blocks, sending segments to complexSamples
// until ctx is done, Stop is called or a capture runs out.
func (r *RadioDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	if err := r.tune(centerFreq, sampleRate); err != nil {
		return err
	}
	if err := r.session.StartStream(bladerf.RX); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()
	defer close(done)
	defer cancel()

	r.logger.Info().
		Str("center_freq", util.HzToString(float64(centerFreq))).
		Str("sample_rate", util.HzToString(float64(sampleRate))).
		Int("segment_size", r.segmentSize).
		Msg("starting receive loop")

	err := r.receive(runCtx, complexSamples)
	if ctx.Err() == nil && runCtx.Err() != nil {
		// stopped
		return nil
	}
	return err
}

func (r *RadioDevice) receive(ctx context.Context, out chan *types.SegmentComplex64) error {
	bufs := make([][]complex64, r.session.Channels(bladerf.RX))
	bufs[r.channel] = make([]complex64, r.segmentSize)

	segNum := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var (
			n   int
			ts  bladerf.Timestamp
			err error
		)
		duration := util.TimeOperationMicroseconds(func() {
			n, ts, err = r.session.Receive(bufs, r.segmentSize)
		})
		if errors.Is(err, io.EOF) {
			r.logger.Info().Int("segments", segNum).Msg("end of capture")
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		segNum++
		seg := &types.SegmentComplex64{
			Data:          make([]complex64, n),
			SegmentNumber: segNum,
		}
		copy(seg.Data, bufs[r.channel][:n])

		go r.writeAPI.WritePoint(influxdb2.NewPoint("radio.segment",
			map[string]string{
				"channel": bladerf.ChannelRX(r.channel).String(),
			},
			map[string]interface{}{
				"samples":     n,
				"duration_us": duration,
				"hw_time":     ts.Seconds(),
			}, time.Now()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- seg:
		}
	}
}

// Stop ends a running Start and stops the session streams.
func (r *RadioDevice) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return r.session.StopStream()
}
