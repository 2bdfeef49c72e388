package monitor

import (
	"bytes"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
)

// PlotOptions adjusts a plot before it is rendered.
type PlotOptions func(p *plot.Plot)

// Image is a rendered PNG.
type Image struct {
	name string
	data []byte
}

func (i *Image) Name() string { return i.name }

func (i *Image) Bytes() []byte { return i.data }

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White

	return p
}

func render(name string, p *plot.Plot) (*Image, error) {
	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &Image{name: name, data: buf.Bytes()}, nil
}
