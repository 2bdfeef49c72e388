// Package mixer generates and applies complex baseband carriers.
package mixer

import (
	"math"
)

const (
	tau float64 = math.Pi * 2
)

// Oscillator is a numerically controlled oscillator. Its phase carries over
// between calls so consecutive buffers join without discontinuity.
type Oscillator struct {
	sampleRate     float64
	frequency      float64
	phase          float64
	phaseIncrement float64
}

func NewOscillator(sampleRate, frequency float64) *Oscillator {
	o := &Oscillator{sampleRate: sampleRate}
	o.SetFrequency(frequency)
	return o
}

// SetFrequency retunes the oscillator, keeping the current phase.
func (o *Oscillator) SetFrequency(frequency float64) {
	o.frequency = frequency
	if o.sampleRate > 0 {
		o.phaseIncrement = frequency * tau / o.sampleRate
	}
}

func (o *Oscillator) Frequency() float64 { return o.frequency }

func (o *Oscillator) Reset() { o.phase = 0 }

func (o *Oscillator) incrementPhase() {
	o.phase += o.phaseIncrement
	if o.phase > tau {
		o.phase -= tau
	} else if o.phase < -tau {
		o.phase += tau
	}
}

func (o *Oscillator) next() complex64 {
	sin, cos := math.Sincos(o.phase)
	o.incrementPhase()
	return complex(float32(cos), float32(sin))
}

// Tone fills out with the carrier scaled by amplitude.
func (o *Oscillator) Tone(out []complex64, amplitude float32) {
	a := complex(amplitude, 0)
	for i := range out {
		out[i] = a * o.next()
	}
}

// Mix shifts input by the oscillator frequency into output and returns the
// number of samples written.
func (o *Oscillator) Mix(input []complex64, output []complex64) int {
	n := len(input)
	if len(output) < n {
		n = len(output)
	}
	for i := 0; i < n; i++ {
		output[i] = o.next() * input[i]
	}
	return n
}
