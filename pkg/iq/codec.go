package iq

import (
	"encoding/binary"
	"math"
)

// Int8ToFloat converts n interleaved 8-bit components to floats.
func Int8ToFloat(dst []float32, src []int8, scale float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / scale
	}
}

// Int16ToFloat converts n interleaved 16-bit components to floats.
func Int16ToFloat(dst []float32, src []int16, scale float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / scale
	}
}

// FloatToInt8 converts n floats to 8-bit components, saturating at the type limits.
func FloatToInt8(dst []int8, src []float32, scale float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = int8(quantize(src[i], scale, math.MinInt8, math.MaxInt8))
	}
}

// FloatToInt16 converts n floats to 16-bit components, saturating at the type limits.
func FloatToInt16(dst []int16, src []float32, scale float32, n int) {
	for i := 0; i < n; i++ {
		dst[i] = int16(quantize(src[i], scale, math.MinInt16, math.MaxInt16))
	}
}

// NaN saturates to min.
func quantize(v, scale float32, min, max float64) float64 {
	x := float64(v) * float64(scale)
	if math.IsNaN(x) {
		return min
	}
	x = math.Round(x)
	if x > max {
		return max
	}
	if x < min {
		return min
	}
	return x
}

// components is the number of scalars Decode and Encode convert per pass.
const components = 512

// Decode converts n complex samples from wire into dst. 16-bit components are
// little-endian.
func Decode(dst []complex64, wire []byte, f Format, n int) {
	var (
		i8     [components]int8
		i16    [components]int16
		floats [components]float32
	)
	for done := 0; done < n; {
		m := min(n-done, components/2)
		k := 2 * m
		switch f.Width {
		case 1:
			off := 2 * done
			for j := 0; j < k; j++ {
				i8[j] = int8(wire[off+j])
			}
			Int8ToFloat(floats[:], i8[:], f.Scale, k)
		default:
			off := 4 * done
			for j := 0; j < k; j++ {
				i16[j] = int16(binary.LittleEndian.Uint16(wire[off+2*j:]))
			}
			Int16ToFloat(floats[:], i16[:], f.Scale, k)
		}
		for j := 0; j < m; j++ {
			dst[done+j] = complex(floats[2*j], floats[2*j+1])
		}
		done += m
	}
}

// Encode converts n complex samples from src into wire.
func Encode(wire []byte, src []complex64, f Format, n int) {
	var (
		i8     [components]int8
		i16    [components]int16
		floats [components]float32
	)
	for done := 0; done < n; {
		m := min(n-done, components/2)
		k := 2 * m
		for j := 0; j < m; j++ {
			floats[2*j] = real(src[done+j])
			floats[2*j+1] = imag(src[done+j])
		}
		switch f.Width {
		case 1:
			FloatToInt8(i8[:], floats[:], f.Scale, k)
			off := 2 * done
			for j := 0; j < k; j++ {
				wire[off+j] = byte(i8[j])
			}
		default:
			FloatToInt16(i16[:], floats[:], f.Scale, k)
			off := 4 * done
			for j := 0; j < k; j++ {
				binary.LittleEndian.PutUint16(wire[off+2*j:], uint16(i16[j]))
			}
		}
		done += m
	}
}
