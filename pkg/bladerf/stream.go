package bladerf

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/norasector/bladerf/pkg/iq"
	"github.com/norasector/bladerf/pkg/util"
)

const (
	numBuffers    = 256
	numTransfers  = 64
	streamTimeout = 1000 * time.Millisecond
)

// bufferSize grows the transfer size with the sample rate to keep the transfer
// overhead bounded: 2048 samples plus 1024 per 10 MHz.
func bufferSize(rate uint32) int {
	return 2048 + 1024*int(float64(rate)/1e7)
}

type stream struct {
	dir       Direction
	enabled   atomic.Bool
	scratch   []byte
	mux       *iq.Mux
	transfers atomic.Uint64
	samples   atomic.Uint64
}

func newStream(dir Direction, size int) *stream {
	return &stream{
		dir:     dir,
		scratch: make([]byte, size),
		mux:     iq.NewMux(size),
	}
}

// TxMetadata controls timing and burst framing of a Transmit call.
type TxMetadata struct {
	// Time schedules the first sample of a burst when HasTime is set.
	Time         Timestamp
	HasTime      bool
	StartOfBurst bool
	EndOfBurst   bool
}

func (s *Session) direction(dir Direction) (*stream, int, uint32) {
	if dir == TX {
		return s.tx, s.args.TxChannels, s.txRate
	}
	return s.rx, s.args.RxChannels, s.rxRate
}

// Streaming reports whether dir has been started.
func (s *Session) Streaming(dir Direction) bool {
	st, _, _ := s.direction(dir)
	return st.enabled.Load()
}

// StartStream configures the sync interface for dir and enables its channels.
// On failure the direction stays stopped; channels enabled before the failure
// are left enabled.
func (s *Session) StartStream(dir Direction) error {
	op := "start " + dir.String() + " stream"
	if s.closed {
		return transportError(op, ErrClosed)
	}

	st, channels, rate := s.direction(dir)
	if st.enabled.Load() {
		return nil
	}

	size := bufferSize(rate)
	s.logger.Info().
		Str("direction", dir.String()).
		Int("channels", channels).
		Int("sample_bits", 8*s.format.Width).
		Str("sample_rate", util.HzToString(float64(rate))).
		Int("buffer_size", size).
		Msg("starting stream")

	cfg := SyncConfig{
		Layout:       layoutFor(dir, channels),
		Format:       s.format,
		NumBuffers:   numBuffers,
		BufferSize:   size,
		NumTransfers: numTransfers,
		Timeout:      streamTimeout,
	}
	if err := s.driver.SyncConfig(cfg); err != nil {
		s.logger.Error().Err(err).Str("direction", dir.String()).Msg("failed to configure sync interface")
		return transportError(op, err)
	}

	for i := 0; i < channels; i++ {
		ch := channelFor(dir, i)
		s.logger.Debug().Str("channel", ch.String()).Msg("enabling module")
		if err := s.driver.EnableModule(ch, true); err != nil {
			s.logger.Error().Err(err).Str("channel", ch.String()).Msg("failed to enable module")
			return transportError(op, err)
		}
	}

	st.enabled.Store(true)
	return nil
}

// StopStream disables RX then TX channels. It does nothing when neither
// direction is running. The first failure aborts the sequence.
func (s *Session) StopStream() error {
	const op = "stop stream"
	if !s.rx.enabled.Load() && !s.tx.enabled.Load() {
		return nil
	}

	for _, st := range []*stream{s.rx, s.tx} {
		for i := 0; i < s.Channels(st.dir); i++ {
			ch := channelFor(st.dir, i)
			s.logger.Debug().Str("channel", ch.String()).Msg("disabling module")
			if err := s.driver.EnableModule(ch, false); err != nil {
				s.logger.Error().Err(err).Str("channel", ch.String()).Msg("failed to disable module")
				return transportError(op, err)
			}
		}
		st.enabled.Store(false)
	}
	return nil
}

func (s *Session) checkCapacity(op string, st *stream, nsamples, channels int) error {
	if nsamples < 0 {
		return configError(op, "invalid sample count %d", nsamples)
	}
	if need := s.format.Bytes(nsamples * channels); need > len(st.scratch) {
		limit := len(st.scratch) / s.format.SampleSize() / channels
		s.logger.Error().Int("nsamples", nsamples).Int("limit", limit).Str("direction", st.dir.String()).Msg("nsamples exceeds buffer size")
		return capacityError(op, "nsamples exceeds buffer size (%d > %d)", nsamples, limit)
	}
	return nil
}

func checkBuffers(op string, data [][]complex64, channels, nsamples int) error {
	for i := 0; i < channels && i < len(data); i++ {
		if data[i] != nil && len(data[i]) < nsamples {
			return capacityError(op, "channel %d buffer holds %d samples, need %d", i, len(data[i]), nsamples)
		}
	}
	return nil
}

func (s *Session) recordTransfer(st *stream, samples int, durationMicros int64) {
	st.transfers.Add(1)
	st.samples.Add(uint64(samples))

	go s.writeAPI.WritePoint(influxdb2.NewPoint("rf.transfer",
		map[string]string{
			"direction": st.dir.String(),
		},
		map[string]interface{}{
			"samples":     samples,
			"duration_us": durationMicros,
		}, time.Now()))
}

// Receive blocks until nsamples samples per channel have been read, or the
// transport returns fewer. Samples of channel i are written to data[i]; nil
// entries are skipped. It returns the per-channel sample count and the host
// time of the first sample. The RX stream does not need to be started by this
// session; the transport may already be streaming.
func (s *Session) Receive(data [][]complex64, nsamples int) (int, Timestamp, error) {
	const op = "receive"
	if s.closed {
		return 0, Timestamp{}, transportError(op, ErrClosed)
	}

	channels := s.args.RxChannels
	if err := s.checkCapacity(op, s.rx, nsamples, channels); err != nil {
		return 0, Timestamp{}, err
	}
	if err := checkBuffers(op, data, channels, nsamples); err != nil {
		return 0, Timestamp{}, err
	}
	if nsamples == 0 {
		return 0, Timestamp{}, nil
	}

	total := nsamples * channels
	md := Metadata{Flags: FlagRxNow}
	var err error
	elapsed := util.TimeOperationMicroseconds(func() {
		err = s.driver.SyncRX(s.rx.scratch, total, &md, streamTimeout)
	})
	if errors.Is(err, io.EOF) {
		s.logger.Debug().Msg("RX source exhausted")
		return 0, Timestamp{}, transportError(op, err)
	}
	if err != nil {
		s.logger.Error().Err(err).Int("nsamples", nsamples).Msg("RX failed")
		return 0, Timestamp{}, transportError(op, err)
	}

	actual := md.ActualCount
	if actual < 0 || actual > total {
		actual = total
	}
	if md.Status&StatusOverrun != 0 {
		ev := FaultEvent{Kind: FaultUnderflow}
		if nsamples != actual/channels {
			ev = FaultEvent{Kind: FaultOverflow, Count: actual}
		}
		s.faults.dispatch(RX, ev)
	}

	ts := TimestampFromTicks(md.Timestamp, float64(s.rxRate))

	actual -= actual % channels
	f := s.format.Buffer()
	if err := s.rx.mux.Deinterleave(s.rx.scratch, f, channels, actual); err != nil {
		s.logger.Error().Err(err).Msg("RX failed: could not deinterleave stream buffer")
		return 0, Timestamp{}, transportError(op, fmt.Errorf("deinterleave: %w", err))
	}

	per := actual / channels
	for i := 0; i < channels && i < len(data); i++ {
		if data[i] == nil {
			continue
		}
		iq.Decode(data[i], iq.Block(s.rx.scratch, f, per, i), f, per)
	}

	s.recordTransfer(s.rx, actual, elapsed)
	return per, ts, nil
}

// Transmit sends nsamples samples per channel. Channel i is read from data[i];
// nil entries transmit silence. The TX stream is started on first use.
//
// A burst scheduled in the past is dropped by the hardware: the call reports a
// FaultLate and still returns nsamples.
func (s *Session) Transmit(data [][]complex64, nsamples int, md TxMetadata) (int, error) {
	const op = "transmit"
	if s.closed {
		return 0, transportError(op, ErrClosed)
	}

	channels := s.args.TxChannels
	if err := s.checkCapacity(op, s.tx, nsamples, channels); err != nil {
		return 0, err
	}
	if err := checkBuffers(op, data, channels, nsamples); err != nil {
		return 0, err
	}

	if !s.tx.enabled.Load() {
		if err := s.StartStream(TX); err != nil {
			return 0, err
		}
	}

	f := s.format.Buffer()
	for i := 0; i < channels; i++ {
		block := iq.Block(s.tx.scratch, f, nsamples, i)
		if i < len(data) && data[i] != nil {
			iq.Encode(block, data[i], f, nsamples)
		} else {
			for j := range block {
				block[j] = 0
			}
		}
	}

	total := nsamples * channels
	if err := s.tx.mux.Interleave(s.tx.scratch, f, channels, total); err != nil {
		s.logger.Error().Err(err).Msg("TX failed: could not interleave stream buffer")
		return 0, transportError(op, fmt.Errorf("interleave: %w", err))
	}

	meta := Metadata{}
	if md.StartOfBurst {
		if md.HasTime {
			meta.Timestamp = md.Time.Ticks(float64(s.txRate))
		} else {
			meta.Flags |= FlagTxNow
		}
		meta.Flags |= FlagTxBurstStart
	}
	if md.EndOfBurst {
		meta.Flags |= FlagTxBurstEnd
	}

	var err error
	elapsed := util.TimeOperationMicroseconds(func() {
		err = s.driver.SyncTX(s.tx.scratch, total, &meta, streamTimeout)
	})
	switch {
	case errors.Is(err, ErrTimePast):
		s.faults.dispatch(TX, FaultEvent{Kind: FaultLate})
	case err != nil:
		s.logger.Error().Err(err).Int("nsamples", nsamples).Msg("TX failed")
		return 0, transportError(op, err)
	case meta.Status&StatusUnderrun != 0:
		s.faults.dispatch(TX, FaultEvent{Kind: FaultUnderflow})
	}

	s.recordTransfer(s.tx, total, elapsed)
	return nsamples, nil
}
