// Package file implements a bladerf.Driver on capture files. RX replays raw
// interleaved wire samples from a file, TX records them. Both directions keep
// a sample counter that stands in for the hardware clock.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// zeroChunk bounds the allocation used to fill gaps before scheduled bursts.
	zeroChunk = 64 * 1024
	// defaultMaxGap caps the silence before a burst when no TX rate is set.
	defaultMaxGap = 1 << 16
)

type direction struct {
	mu       sync.Mutex
	file     *os.File
	channels int
	sample   int
	rate     uint32
	tick     uint64
	started  time.Time
	enabled  int
}

type Driver struct {
	logger zerolog.Logger

	playback string
	record   string
	loop     bool
	pace     bool

	rx direction
	tx direction

	mu         sync.Mutex
	gains      map[bladerf.Channel]int
	freqs      map[bladerf.Channel]uint64
	tuningMode bladerf.TuningMode
}

type Option func(d *Driver) error

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) error {
		d.logger = logger
		return nil
	}
}

// WithPlayback replays RX samples from path.
func WithPlayback(path string) Option {
	return func(d *Driver) error {
		d.playback = path
		return nil
	}
}

// WithRecord writes TX samples to path, truncating it.
func WithRecord(path string) Option {
	return func(d *Driver) error {
		d.record = path
		return nil
	}
}

// WithLoop rewinds the playback file at its end instead of failing with
// io.EOF.
func WithLoop(loop bool) Option {
	return func(d *Driver) error {
		d.loop = loop
		return nil
	}
}

// WithPacing throttles RX reads to the configured sample rate.
func WithPacing(pace bool) Option {
	return func(d *Driver) error {
		d.pace = pace
		return nil
	}
}

func Opener(opts ...Option) bladerf.Opener {
	return func(params bladerf.OpenParams) (bladerf.Driver, error) {
		return Open(params, opts...)
	}
}

// Open opens the playback and record files. Either may be left unset, in
// which case RX reads fail with io.EOF and TX samples are discarded.
func Open(params bladerf.OpenParams, opts ...Option) (*Driver, error) {
	d := &Driver{
		logger: log.Logger,
		gains:  make(map[bladerf.Channel]int),
		freqs:  make(map[bladerf.Channel]uint64),
		rx:     direction{channels: 1, sample: 4},
		tx:     direction{channels: 1, sample: 4},
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With().Str("driver", "file").Logger().Level(params.Verbosity)

	if d.playback != "" {
		f, err := os.Open(d.playback)
		if err != nil {
			return nil, fmt.Errorf("open playback: %w", err)
		}
		d.rx.file = f
	}
	if d.record != "" {
		f, err := os.Create(d.record)
		if err != nil {
			if d.rx.file != nil {
				d.rx.file.Close()
			}
			return nil, fmt.Errorf("create record: %w", err)
		}
		d.tx.file = f
	}

	d.logger.Info().Str("playback", d.playback).Str("record", d.record).Bool("loop", d.loop).Bool("pace", d.pace).Msg("opened capture files")
	return d, nil
}

func (d *Driver) dir(dir bladerf.Direction) *direction {
	if dir == bladerf.TX {
		return &d.tx
	}
	return &d.rx
}

func (d *Driver) SyncConfig(cfg bladerf.SyncConfig) error {
	st := d.dir(cfg.Layout.Direction())
	st.mu.Lock()
	defer st.mu.Unlock()
	st.channels = cfg.Layout.Channels()
	st.sample = 2 * cfg.Format.Width
	return nil
}

func (d *Driver) EnableModule(ch bladerf.Channel, enable bool) error {
	st := d.dir(ch.Direction())
	st.mu.Lock()
	defer st.mu.Unlock()
	mask := 1 << ch.Index()
	if enable {
		if st.enabled == 0 {
			st.started = time.Now()
			st.tick = 0
		}
		st.enabled |= mask
	} else {
		st.enabled &^= mask
	}
	return nil
}

// SyncRX reads n interleaved samples. At the end of the file it either
// rewinds or returns io.EOF; a partial read sets md.ActualCount.
func (d *Driver) SyncRX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	st := &d.rx
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.file == nil {
		return io.EOF
	}

	size := n * st.sample
	read := 0
	rewound := false
	for read < size {
		m, err := io.ReadFull(st.file, buf[read:size])
		read += m
		if err == nil {
			break
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return &bladerf.StatusError{Code: -1, Message: err.Error()}
		}
		if !d.loop || (m == 0 && rewound) {
			break
		}
		if _, err := st.file.Seek(0, io.SeekStart); err != nil {
			return &bladerf.StatusError{Code: -1, Message: err.Error()}
		}
		rewound = true
	}

	actual := read / st.sample
	if actual == 0 {
		return io.EOF
	}

	md.Timestamp = st.tick
	md.ActualCount = actual
	md.Status = 0
	st.tick += uint64(actual / st.channels)

	if d.pace && st.rate > 0 {
		due := st.started.Add(time.Duration(float64(st.tick) / float64(st.rate) * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			if wait > timeout {
				return bladerf.ErrTimeout
			}
			time.Sleep(wait)
		}
	}
	return nil
}

// SyncTX appends n interleaved samples to the record file. A burst start with
// a timestamp is preceded by silence up to that point, at most one second of
// samples at the TX rate; a timestamp behind the samples already written fails
// with bladerf.ErrTimePast.
func (d *Driver) SyncTX(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	st := &d.tx
	st.mu.Lock()
	defer st.mu.Unlock()

	if md.Flags&bladerf.FlagTxBurstStart != 0 && md.Flags&bladerf.FlagTxNow == 0 {
		if md.Timestamp < st.tick {
			return bladerf.ErrTimePast
		}
		gap := md.Timestamp - st.tick
		if limit := st.maxGap(); gap > limit {
			d.logger.Debug().Uint64("gap", gap).Uint64("written", limit).Msg("capping silence before burst")
			gap = limit
		}
		if err := st.writeZeros(gap * uint64(st.channels*st.sample)); err != nil {
			return &bladerf.StatusError{Code: -1, Message: err.Error()}
		}
		st.tick = md.Timestamp
	}

	if st.file != nil {
		if _, err := st.file.Write(buf[:n*st.sample]); err != nil {
			return &bladerf.StatusError{Code: -1, Message: err.Error()}
		}
	}
	st.tick += uint64(n / st.channels)
	md.ActualCount = n
	md.Status = 0
	return nil
}

func (st *direction) maxGap() uint64 {
	if st.rate > 0 {
		return uint64(st.rate)
	}
	return defaultMaxGap
}

func (st *direction) writeZeros(size uint64) error {
	if st.file == nil || size == 0 {
		return nil
	}
	zeros := make([]byte, zeroChunk)
	for size > 0 {
		m := uint64(len(zeros))
		if size < m {
			m = size
		}
		if _, err := st.file.Write(zeros[:m]); err != nil {
			return err
		}
		size -= m
	}
	return nil
}

func (d *Driver) SetSampleRate(ch bladerf.Channel, rate uint32) (uint32, error) {
	st := d.dir(ch.Direction())
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rate = rate
	return rate, nil
}

func (d *Driver) SetBandwidth(ch bladerf.Channel, bw uint32) (uint32, error) {
	return bw, nil
}

func (d *Driver) SetGain(ch bladerf.Channel, gain int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gains[ch] = gain
	return nil
}

func (d *Driver) Gain(ch bladerf.Channel) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gains[ch], nil
}

// GainRange is unsupported; capture files carry no analog front end.
func (d *Driver) GainRange(ch bladerf.Channel) (bladerf.Range, error) {
	return bladerf.Range{}, fmt.Errorf("%w: capture files have no gain range", bladerf.ErrUnsupported)
}

func (d *Driver) SetGainMode(ch bladerf.Channel, mode bladerf.GainMode) error {
	return nil
}

func (d *Driver) SetFrequency(ch bladerf.Channel, freq uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freqs[ch] = freq
	return nil
}

func (d *Driver) Frequency(ch bladerf.Channel) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freqs[ch], nil
}

func (d *Driver) Timestamp(dir bladerf.Direction) (uint64, error) {
	st := d.dir(dir)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tick, nil
}

func (d *Driver) SetTuningMode(mode bladerf.TuningMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tuningMode = mode
	return nil
}

func (d *Driver) Close() error {
	var ret error
	for _, st := range []*direction{&d.rx, &d.tx} {
		st.mu.Lock()
		if st.file != nil {
			if err := st.file.Close(); err != nil && ret == nil {
				ret = &bladerf.StatusError{Code: -1, Message: err.Error()}
			}
			st.file = nil
		}
		st.mu.Unlock()
	}
	return ret
}
