package monitor

import (
	"bytes"
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/plot"
)

func tone(n, bin, size int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Exp(complex(0, 2*math.Pi*float64(bin)*float64(i)/float64(size))))
	}
	return out
}

func TestSpectrumPeak(t *testing.T) {
	const (
		size = 256
		rate = 1e6
	)
	for _, tc := range []struct {
		name   string
		bin    int
		peakHz float64
	}{
		{name: "positive", bin: 32, peakHz: 100e6 + 125e3},
		{name: "negative", bin: -64, peakHz: 100e6 - 250e3},
		{name: "dc", bin: 0, peakHz: 100e6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := NewSpectrumPlotter("rx1", size, rate, 100e6)
			p.Append(tone(size, tc.bin, size))

			sp := p.Spectrum()
			if sp.PeakHz != tc.peakHz {
				t.Errorf("peak at %f Hz, want %f", sp.PeakHz, tc.peakHz)
			}
			if math.Abs(sp.PeakDB) > 0.5 {
				t.Errorf("full-scale tone at %f dB, want ~0", sp.PeakDB)
			}
			if sp.NoiseFloorDB > sp.PeakDB-40 {
				t.Errorf("noise floor %f dB too close to peak %f dB", sp.NoiseFloorDB, sp.PeakDB)
			}
			if len(sp.Offsets) != size || sp.Offsets[0] >= sp.Offsets[size-1] {
				t.Errorf("offsets not ascending over %d bins", size)
			}
		})
	}
}

func TestSpectrumAveraging(t *testing.T) {
	p := NewSpectrumPlotter("rx1", 128, 1e6, 0)
	p.Append(tone(128, 16, 128))
	first := p.Spectrum()

	p.Append(make([]complex64, 128))
	second := p.Spectrum()
	want := first.PeakDB + 20*math.Log10(1-MixAvg)
	if math.Abs(second.PeakDB-want) > 1e-6 {
		t.Errorf("averaged peak %f dB, want %f", second.PeakDB, want)
	}
}

func TestSpectrumAppendKeepsLatest(t *testing.T) {
	p := NewSpectrumPlotter("rx1", 4, 1, 0)
	p.Append([]complex64{1, 2, 3})
	p.Append([]complex64{4, 5})
	want := []complex64{2, 3, 4, 5}
	for i, v := range want {
		if p.buf[i] != v {
			t.Fatalf("buf = %v, want %v", p.buf, want)
		}
	}
	p.Append([]complex64{6, 7, 8, 9, 10})
	if p.buf[0] != 7 || p.buf[3] != 10 {
		t.Errorf("buf = %v, want last 4 samples", p.buf)
	}
}

func TestSpectrumImage(t *testing.T) {
	p := NewSpectrumPlotter("rx1", 64, 1e6, 915e6)
	p.Append(tone(64, 8, 64))
	called := false
	p.AddPlotOption(func(pl *plot.Plot) { called = true })

	img, err := p.GetImage()
	if err != nil {
		t.Fatal(err)
	}
	if img.Name() != "rx1" || !bytes.HasPrefix(img.Bytes(), []byte("\x89PNG")) {
		t.Errorf("unexpected image %q, %d bytes", img.Name(), len(img.Bytes()))
	}
	if !called {
		t.Error("plot option not applied")
	}
}
