package bladerf

import "math"

// Timestamp is a host time expressed as whole seconds plus a fraction.
type Timestamp struct {
	FullSecs int64
	FracSecs float64
}

// TimestampFromTicks converts a hardware sample counter at rate into a
// Timestamp. A zero rate yields the zero Timestamp.
func TimestampFromTicks(ticks uint64, rate float64) Timestamp {
	if rate <= 0 {
		return Timestamp{}
	}
	total := float64(ticks) / rate
	secs := math.Trunc(total)
	return Timestamp{FullSecs: int64(secs), FracSecs: total - secs}
}

// Ticks converts t into a hardware sample counter at rate.
func (t Timestamp) Ticks(rate float64) uint64 {
	if t.FullSecs < 0 || t.FracSecs < 0 {
		return 0
	}
	return uint64(t.FullSecs)*uint64(rate) + uint64(math.Round(t.FracSecs*rate))
}

// Add returns t advanced by secs, normalising the fraction into [0, 1).
func (t Timestamp) Add(secs float64) Timestamp {
	frac := t.FracSecs + secs
	whole := math.Floor(frac)
	return Timestamp{FullSecs: t.FullSecs + int64(whole), FracSecs: frac - whole}
}

func (t Timestamp) Seconds() float64 {
	return float64(t.FullSecs) + t.FracSecs
}
