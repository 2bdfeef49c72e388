// Package iq converts complex baseband samples between the fixed-point wire
// formats used by SDR transports and the complex64 representation used by the
// processing chain, and (de)interleaves multi-channel hardware buffers.
package iq

import (
	"errors"
	"fmt"
)

var (
	ErrChannels    = errors.New("iq: channel count must be 1 or 2")
	ErrSampleCount = errors.New("iq: sample count not divisible by channel count")
	ErrShortBuffer = errors.New("iq: buffer too short")
)

// Format describes a signed fixed-point I/Q wire format.
type Format struct {
	Name string
	// Width is the size in bytes of a single I or Q component.
	Width int
	// Scale is the fixed-point value corresponding to 1.0.
	Scale float32
	// Meta is set when the transport carries timestamp metadata with the samples.
	Meta bool
}

var (
	// SC16Q11 is 16-bit I/Q with 11 fractional bits.
	SC16Q11 = Format{Name: "sc16", Width: 2, Scale: 2048}
	// SC8Q7 is 8-bit I/Q with 7 fractional bits.
	SC8Q7 = Format{Name: "sc8", Width: 1, Scale: 128}
)

// ParseFormat resolves a format name as it appears in device arguments.
func ParseFormat(name string) (Format, error) {
	switch name {
	case SC16Q11.Name:
		return SC16Q11, nil
	case SC8Q7.Name:
		return SC8Q7, nil
	default:
		return Format{}, fmt.Errorf("invalid format %q, should be sc8 or sc16", name)
	}
}

// WithMeta returns the metadata-carrying variant of f.
func (f Format) WithMeta() Format {
	f.Meta = true
	return f
}

// Buffer returns the plain sample layout of f, as seen in a host buffer once the
// transport has stripped any metadata.
func (f Format) Buffer() Format {
	f.Meta = false
	return f
}

// SampleSize is the number of bytes occupied by one complex sample.
func (f Format) SampleSize() int {
	return 2 * f.Width
}

// Bytes returns the buffer size needed for n complex samples.
func (f Format) Bytes(n int) int {
	return n * f.SampleSize()
}

func (f Format) String() string {
	if f.Meta {
		return f.Name + "+meta"
	}
	return f.Name
}
