package iq

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := []complex64{
		complex(0, 0),
		complex(-1, 0.5),
		complex(0.25, -0.25),
		complex(0.123, -0.987),
		complex(0.99, -0.001),
		complex(-0.6, 0.3333),
	}

	tests := []struct {
		name   string
		format Format
	}{
		{"sc8", SC8Q7},
		{"sc16", SC16Q11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := make([]byte, tt.format.Bytes(len(in)))
			Encode(wire, in, tt.format, len(in))
			out := make([]complex64, len(in))
			Decode(out, wire, tt.format, len(in))

			step := float64(1 / tt.format.Scale)
			for i := range in {
				if d := math.Abs(float64(real(out[i]) - real(in[i]))); d > step {
					t.Errorf("sample %d: I %v -> %v (diff %v > %v)", i, real(in[i]), real(out[i]), d, step)
				}
				if d := math.Abs(float64(imag(out[i]) - imag(in[i]))); d > step {
					t.Errorf("sample %d: Q %v -> %v (diff %v > %v)", i, imag(in[i]), imag(out[i]), d, step)
				}
			}
		})
	}
}

func TestScalarRoundTrip(t *testing.T) {
	in := []float32{-1, -0.5, 0, 0.001, 0.5, 0.75}

	i8 := make([]int8, len(in))
	FloatToInt8(i8, in, SC8Q7.Scale, len(in))
	f8 := make([]float32, len(in))
	Int8ToFloat(f8, i8, SC8Q7.Scale, len(in))

	i16 := make([]int16, len(in))
	FloatToInt16(i16, in, SC16Q11.Scale, len(in))
	f16 := make([]float32, len(in))
	Int16ToFloat(f16, i16, SC16Q11.Scale, len(in))

	for i, v := range in {
		if d := math.Abs(float64(f8[i] - v)); d > 1.0/128 {
			t.Errorf("int8 %v -> %v", v, f8[i])
		}
		if d := math.Abs(float64(f16[i] - v)); d > 1.0/2048 {
			t.Errorf("int16 %v -> %v", v, f16[i])
		}
	}
}

func TestSaturation(t *testing.T) {
	nan := float32(math.NaN())
	in := []float32{2, -2, nan, 1e9}

	i8 := make([]int8, len(in))
	FloatToInt8(i8, in, SC8Q7.Scale, len(in))
	want8 := []int8{127, -128, -128, 127}
	for i := range want8 {
		if i8[i] != want8[i] {
			t.Errorf("int8[%d] = %d, want %d", i, i8[i], want8[i])
		}
	}

	// 16 times full scale still saturates a 16-bit component
	i16 := make([]int16, len(in))
	FloatToInt16(i16, in, SC16Q11.Scale*16, len(in))
	want16 := []int16{32767, -32768, -32768, 32767}
	for i := range want16 {
		if i16[i] != want16[i] {
			t.Errorf("int16[%d] = %d, want %d", i, i16[i], want16[i])
		}
	}
}

func TestDecodeScale(t *testing.T) {
	wire := []byte{0x40, 0xc0} // 64, -64
	out := make([]complex64, 1)
	Decode(out, wire, SC8Q7, 1)
	if out[0] != complex(0.5, -0.5) {
		t.Errorf("Decode() = %v, want (0.5-0.5i)", out[0])
	}

	wire16 := []byte{0x00, 0x04, 0x00, 0xfc} // 1024, -1024
	Decode(out, wire16, SC16Q11, 1)
	if out[0] != complex(0.5, -0.5) {
		t.Errorf("Decode() = %v, want (0.5-0.5i)", out[0])
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"sc16", SC16Q11, false},
		{"sc8", SC8Q7, false},
		{"sc12", Format{}, true},
		{"", Format{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodecAcrossPasses(t *testing.T) {
	const n = 3*components/2 + 7
	in := make([]complex64, n)
	for i := range in {
		v := float32(i%200-100) / 128
		in[i] = complex(v, -v)
	}

	for _, f := range []Format{SC8Q7, SC16Q11} {
		t.Run(f.String(), func(t *testing.T) {
			wire := make([]byte, f.Bytes(n))
			Encode(wire, in, f, n)

			// last sample, well past the first pass
			comps := make([]float32, 2)
			if f.Width == 1 {
				Int8ToFloat(comps, []int8{int8(wire[2*(n-1)]), int8(wire[2*(n-1)+1])}, f.Scale, 2)
			} else {
				w := wire[4*(n-1):]
				Int16ToFloat(comps, []int16{int16(uint16(w[0]) | uint16(w[1])<<8), int16(uint16(w[2]) | uint16(w[3])<<8)}, f.Scale, 2)
			}
			if comps[0] != real(in[n-1]) || comps[1] != imag(in[n-1]) {
				t.Errorf("last sample on the wire = %v, want %v", comps, in[n-1])
			}

			out := make([]complex64, n)
			Decode(out, wire, f, n)
			for i := range in {
				if out[i] != in[i] {
					t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
				}
			}
		})
	}
}
