// Package syncbridge turns a callback driven SDR into the blocking transfer
// interface of bladerf.Driver. Device callbacks push received bytes and pull
// bytes to transmit; session goroutines call Read and Write. Both directions
// keep a sample counter that serves as the hardware timestamp.
package syncbridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/norasector/bladerf/pkg/bladerf"
)

// DefaultDepth is the number of callback buffers queued per direction.
const DefaultDepth = 64

type chunk struct {
	data []byte
	tick uint64
}

type Bridge struct {
	sampleSize int
	depth      int

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	// RX. rxTick is only written by Push.
	rxq      chan chunk
	rxTick   atomic.Uint64
	overrun  atomic.Bool
	rxChunk  chunk
	rxOffset int

	// TX. txTick, txHead, inBurst and underrun are guarded by mu.
	txq      chan chunk
	txTick   uint64
	txHead   uint64
	inBurst  bool
	underrun bool
	txChunk  *chunk
	txOffset int
}

// New returns a bridge for a device whose wire samples are sampleSize bytes
// long, queueing up to depth callback buffers per direction.
func New(sampleSize, depth int) *Bridge {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Bridge{
		sampleSize: sampleSize,
		depth:      depth,
		done:       make(chan struct{}),
		rxq:        make(chan chunk, depth),
		txq:        make(chan chunk, depth),
	}
}

// Reset drops queued data in both directions. Sample counters keep running.
// It must not race with Read.
func (b *Bridge) Reset() {
	for {
		select {
		case <-b.rxq:
		case <-b.txq:
		default:
			b.mu.Lock()
			b.rxChunk, b.rxOffset = chunk{}, 0
			b.txChunk, b.txOffset = nil, 0
			b.inBurst = false
			b.underrun = false
			b.mu.Unlock()
			b.overrun.Store(false)
			return
		}
	}
}

// Close wakes up blocked Read and Write calls, which then fail with
// bladerf.ErrClosed.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}

// Push hands a received buffer to the bridge. It never blocks: when Read falls
// behind the buffer is dropped and the next Read reports an overrun.
func (b *Bridge) Push(buf []byte) {
	c := chunk{
		data: append([]byte(nil), buf...),
		tick: b.rxTick.Load(),
	}
	b.rxTick.Add(uint64(len(buf) / b.sampleSize))

	select {
	case b.rxq <- c:
	default:
		b.overrun.Store(true)
	}
}

// Read fills buf with n samples. md.Timestamp is set to the counter value of
// the first sample. A gap in the received stream sets StatusOverrun.
func (b *Bridge) Read(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	want := n * b.sampleSize
	if len(buf) < want {
		return &bladerf.StatusError{Code: -2, Message: "buffer too small"}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	md.Status = 0
	md.ActualCount = 0
	var next uint64
	for pos := 0; pos < want; {
		if b.rxOffset >= len(b.rxChunk.data) {
			select {
			case c := <-b.rxq:
				b.rxChunk, b.rxOffset = c, 0
			case <-timer.C:
				md.ActualCount = pos / b.sampleSize
				return bladerf.ErrTimeout
			case <-b.done:
				return bladerf.ErrClosed
			}
			continue
		}

		tick := b.rxChunk.tick + uint64(b.rxOffset/b.sampleSize)
		if pos == 0 {
			md.Timestamp = tick
		} else if tick != next {
			md.Status |= bladerf.StatusOverrun
		}

		copied := copy(buf[pos:want], b.rxChunk.data[b.rxOffset:])
		b.rxOffset += copied
		pos += copied
		next = tick + uint64(copied/b.sampleSize)
	}

	if b.overrun.Swap(false) {
		md.Status |= bladerf.StatusOverrun
	}
	md.ActualCount = n
	return nil
}

// Write queues n samples from buf for transmission. A burst start carrying a
// timestamp is scheduled at that counter value; the device transmits zeros
// until then. Scheduling before the last queued sample fails with
// bladerf.ErrTimePast.
func (b *Bridge) Write(buf []byte, n int, md *bladerf.Metadata, timeout time.Duration) error {
	size := n * b.sampleSize
	if len(buf) < size {
		return &bladerf.StatusError{Code: -2, Message: "buffer too small"}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bladerf.ErrClosed
	}
	if b.txHead < b.txTick {
		b.txHead = b.txTick
	}
	start := b.txHead
	if md.Flags&bladerf.FlagTxBurstStart != 0 && md.Flags&bladerf.FlagTxNow == 0 {
		if md.Timestamp < b.txHead {
			b.mu.Unlock()
			return bladerf.ErrTimePast
		}
		start = md.Timestamp
	}
	b.txHead = start + uint64(n)
	if md.Flags&bladerf.FlagTxBurstStart != 0 {
		b.inBurst = true
	}
	if md.Flags&bladerf.FlagTxBurstEnd != 0 {
		b.inBurst = false
	}
	md.Status = 0
	if b.underrun {
		md.Status |= bladerf.StatusUnderrun
		b.underrun = false
	}
	b.mu.Unlock()

	c := chunk{data: append([]byte(nil), buf[:size]...), tick: start}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.txq <- c:
		md.ActualCount = n
		return nil
	case <-timer.C:
		return bladerf.ErrTimeout
	case <-b.done:
		return bladerf.ErrClosed
	}
}

// Pull fills buf with the next samples to transmit. Gaps before a scheduled
// burst are filled with zeros. Running dry inside a burst is recorded as an
// underrun and reported by the next Write.
func (b *Bridge) Pull(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := 0
	for pos < len(buf) {
		if b.txChunk == nil || b.txOffset >= len(b.txChunk.data) {
			select {
			case c := <-b.txq:
				b.txChunk, b.txOffset = &c, 0
			default:
				b.txChunk = nil
			}
			if b.txChunk == nil {
				zero(buf[pos:])
				if b.inBurst {
					b.underrun = true
				}
				break
			}
		}

		cur := b.txTick + uint64(pos/b.sampleSize)
		if c := b.txChunk; b.txOffset == 0 && c.tick > cur {
			gap := c.tick - cur
			if room := uint64((len(buf) - pos) / b.sampleSize); gap > room {
				gap = room
			}
			if gap == 0 {
				zero(buf[pos:])
				break
			}
			end := pos + int(gap)*b.sampleSize
			zero(buf[pos:end])
			pos = end
			continue
		}

		copied := copy(buf[pos:], b.txChunk.data[b.txOffset:])
		b.txOffset += copied
		pos += copied
	}

	b.txTick += uint64(len(buf) / b.sampleSize)
}

// Timestamp returns the sample counter of dir.
func (b *Bridge) Timestamp(dir bladerf.Direction) uint64 {
	if dir == bladerf.TX {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.txTick
	}
	return b.rxTick.Load()
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
