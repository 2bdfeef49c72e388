package monitor

import (
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

type PlotType int

const (
	PlotTypeDefault PlotType = iota
	PlotTypeScatter
	PlotTypeLines
)

// WaveformPlotter draws the I and Q components of the last size samples
// against sample index.
type WaveformPlotter struct {
	mu          sync.Mutex
	buf         []complex64
	size        int
	name        string
	plotFunc    func(*plot.Plot, ...interface{}) error
	plotOptions []PlotOptions
}

func NewWaveformPlotter(name string, size int) *WaveformPlotter {
	return &WaveformPlotter{
		buf:      make([]complex64, 0, size),
		size:     size,
		name:     name,
		plotFunc: plotutil.AddLines,
	}
}

func (w *WaveformPlotter) Name() string {
	return w.name
}

func (w *WaveformPlotter) SetPlotType(tp PlotType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch tp {
	case PlotTypeScatter:
		w.plotFunc = plotutil.AddScatters
	default:
		w.plotFunc = plotutil.AddLines
	}
}

func (w *WaveformPlotter) Append(s []complex64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, s...)
	if len(w.buf) > w.size {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-w.size:]...)
	}
}

func (w *WaveformPlotter) AddPlotOption(opt PlotOptions) {
	w.mu.Lock()
	w.plotOptions = append(w.plotOptions, opt)
	w.mu.Unlock()
}

// GetImage returns nil until size samples have been appended.
func (w *WaveformPlotter) GetImage() (*Image, error) {
	w.mu.Lock()
	if len(w.buf) < w.size {
		w.mu.Unlock()
		return nil, nil
	}
	in := make(plotter.XYs, w.size)
	quad := make(plotter.XYs, w.size)
	for i, v := range w.buf {
		in[i] = plotter.XY{X: float64(i), Y: float64(real(v))}
		quad[i] = plotter.XY{X: float64(i), Y: float64(imag(v))}
	}
	plotFunc := w.plotFunc
	opts := append([]PlotOptions(nil), w.plotOptions...)
	w.mu.Unlock()

	p := plotWithDefaults()
	p.Title.Text = w.name
	p.Y.Label.Text = "Amplitude"
	p.Y.Min = -1
	p.Y.Max = 1
	p.X.Label.Text = "n"
	for _, opt := range opts {
		opt(p)
	}
	p.Add(plotter.NewGrid())

	if err := plotFunc(p, "I", in, "Q", quad); err != nil {
		return nil, err
	}
	return render(w.name, p)
}
