package iq

import "fmt"

// Mux rewrites hardware buffers between round-robin channel order and
// contiguous per-channel blocks. It owns a scratch buffer and is not safe for
// concurrent use.
type Mux struct {
	scratch []byte
}

func NewMux(capacity int) *Mux {
	return &Mux{scratch: make([]byte, capacity)}
}

func (m *Mux) check(buf []byte, f Format, channels, total int) (int, error) {
	if channels != 1 && channels != 2 {
		return 0, ErrChannels
	}
	if total%channels != 0 {
		return 0, fmt.Errorf("%w: %d samples over %d channels", ErrSampleCount, total, channels)
	}
	size := f.Bytes(total)
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, size, len(buf))
	}
	if len(m.scratch) < size {
		return 0, fmt.Errorf("%w: scratch holds %d bytes, need %d", ErrShortBuffer, len(m.scratch), size)
	}
	return size, nil
}

// Deinterleave converts the first total samples of buf from round-robin order
// into channels contiguous blocks of total/channels samples each.
func (m *Mux) Deinterleave(buf []byte, f Format, channels, total int) error {
	size, err := m.check(buf, f, channels, total)
	if err != nil || channels == 1 {
		return err
	}

	ss := f.SampleSize()
	per := total / channels
	copy(m.scratch, buf[:size])
	for i := 0; i < per; i++ {
		for ch := 0; ch < channels; ch++ {
			src := (i*channels + ch) * ss
			dst := (ch*per + i) * ss
			copy(buf[dst:dst+ss], m.scratch[src:src+ss])
		}
	}
	return nil
}

// Interleave is the inverse of Deinterleave.
func (m *Mux) Interleave(buf []byte, f Format, channels, total int) error {
	size, err := m.check(buf, f, channels, total)
	if err != nil || channels == 1 {
		return err
	}

	ss := f.SampleSize()
	per := total / channels
	copy(m.scratch, buf[:size])
	for ch := 0; ch < channels; ch++ {
		for i := 0; i < per; i++ {
			src := (ch*per + i) * ss
			dst := (i*channels + ch) * ss
			copy(buf[dst:dst+ss], m.scratch[src:src+ss])
		}
	}
	return nil
}

// Block returns the bytes of channel ch within a buffer holding channels
// contiguous blocks of per samples each.
func Block(buf []byte, f Format, per, ch int) []byte {
	size := f.Bytes(per)
	return buf[ch*size : (ch+1)*size]
}
