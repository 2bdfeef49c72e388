package monitor

import (
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

const (
	// MixAvg is the weight of a new FFT frame in the running power average.
	MixAvg = 0.10

	// Blackman coherent gain.
	windowGain = 0.42
	floorDB    = -200
)

// Spectrum summarises the averaged power spectrum of a channel.
type Spectrum struct {
	CenterHz     float64 `json:"center_hz"`
	PeakHz       float64 `json:"peak_hz"`
	PeakDB       float64 `json:"peak_db"`
	NoiseFloorDB float64 `json:"noise_floor_db"`
	MeanDB       float64 `json:"mean_db"`

	// Offsets are the bin frequencies relative to the center, ascending.
	Offsets []float64 `json:"-"`
	PowerDB []float64 `json:"-"`
}

// SpectrumPlotter keeps the most recent samples of a channel and renders their
// averaged power spectrum.
type SpectrumPlotter struct {
	mu          sync.Mutex
	name        string
	size        int
	sampleRate  float64
	centerFreq  float64
	buf         []complex64
	fft         *fourier.CmplxFFT
	window      []float64
	average     []float64
	primed      bool
	plotOptions []PlotOptions
}

func NewSpectrumPlotter(name string, size int, sampleRate, centerFreq float64) *SpectrumPlotter {
	return &SpectrumPlotter{
		name:       name,
		size:       size,
		sampleRate: sampleRate,
		centerFreq: centerFreq,
		buf:        make([]complex64, size),
		fft:        fourier.NewCmplxFFT(size),
		window:     window.Blackman(size),
		average:    make([]float64, size),
	}
}

func (p *SpectrumPlotter) Name() string {
	return p.name
}

func (p *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	p.mu.Lock()
	p.plotOptions = append(p.plotOptions, opt)
	p.mu.Unlock()
}

// Append keeps the last size samples seen.
func (p *SpectrumPlotter) Append(s []complex64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(s) >= p.size {
		copy(p.buf, s[len(s)-p.size:])
		return
	}
	copy(p.buf, p.buf[len(s):])
	copy(p.buf[p.size-len(s):], s)
}

// Spectrum runs an FFT over the buffered samples, folds it into the running
// average and returns the result with DC in the middle.
func (p *SpectrumPlotter) Spectrum() Spectrum {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := make([]complex128, p.size)
	norm := windowGain * float64(p.size)
	for i, v := range p.buf {
		data[i] = complex128(v) * complex(p.window[i]/norm, 0)
	}
	coeffs := p.fft.Coefficients(nil, data)

	ret := Spectrum{
		CenterHz: p.centerFreq,
		Offsets:  make([]float64, p.size),
		PowerDB:  make([]float64, p.size),
		PeakDB:   math.Inf(-1),
	}
	for i := 0; i < p.size; i++ {
		idx := p.fft.ShiftIdx(i)
		mag := cmplx.Abs(coeffs[idx])
		if p.primed {
			p.average[i] = (1.0-MixAvg)*p.average[i] + MixAvg*mag
		} else {
			p.average[i] = mag
		}

		db := float64(floorDB)
		if p.average[i] > 0 {
			db = math.Max(20*math.Log10(p.average[i]), floorDB)
		}
		ret.Offsets[i] = p.fft.Freq(idx) * p.sampleRate
		ret.PowerDB[i] = db
		if db > ret.PeakDB {
			ret.PeakDB = db
			ret.PeakHz = p.centerFreq + ret.Offsets[i]
		}
	}
	p.primed = true

	sorted := append([]float64(nil), ret.PowerDB...)
	sort.Float64s(sorted)
	ret.NoiseFloorDB = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	ret.MeanDB = stat.Mean(ret.PowerDB, nil)
	return ret
}

// GetImage renders the averaged spectrum.
func (p *SpectrumPlotter) GetImage() (*Image, error) {
	sp := p.Spectrum()

	pl := plotWithDefaults()
	pl.Title.Text = p.name
	pl.Y.Label.Text = "Power (dB)"
	pl.X.Label.Text = "Frequency offset (Hz)"
	pl.Y.Max = 0
	pl.Y.Min = -100

	p.mu.Lock()
	opts := append([]PlotOptions(nil), p.plotOptions...)
	p.mu.Unlock()
	for _, opt := range opts {
		opt(pl)
	}
	pl.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(sp.Offsets))
	for i := range sp.Offsets {
		xys[i] = plotter.XY{X: sp.Offsets[i], Y: sp.PowerDB[i]}
	}
	if err := plotutil.AddLines(pl, "power", xys); err != nil {
		return nil, err
	}
	return render(p.name, pl)
}
