package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/norasector/turbine-common/types"
)

type countingAppender struct {
	samples int
}

func (c *countingAppender) Append(s []complex64) {
	c.samples += len(s)
}

func TestTapForwards(t *testing.T) {
	in := make(chan *types.SegmentComplex64, 2)
	out := make(chan *types.SegmentComplex64, 2)
	in <- &types.SegmentComplex64{Data: make([]complex64, 10), SegmentNumber: 1}
	in <- &types.SegmentComplex64{Data: make([]complex64, 6), SegmentNumber: 2}
	close(in)

	a, b := &countingAppender{}, &countingAppender{}
	if err := Tap(context.Background(), in, out, a, b); err != nil {
		t.Fatal(err)
	}
	if a.samples != 16 || b.samples != 16 {
		t.Errorf("appenders saw %d and %d samples, want 16", a.samples, b.samples)
	}
	if seg := <-out; seg.SegmentNumber != 1 {
		t.Errorf("first forwarded segment %d, want 1", seg.SegmentNumber)
	}
	if seg := <-out; seg.SegmentNumber != 2 {
		t.Errorf("second forwarded segment %d, want 2", seg.SegmentNumber)
	}
}

func TestTapNilOut(t *testing.T) {
	in := make(chan *types.SegmentComplex64, 1)
	in <- &types.SegmentComplex64{Data: make([]complex64, 3)}
	close(in)

	a := &countingAppender{}
	if err := Tap(context.Background(), in, nil, a); err != nil {
		t.Fatal(err)
	}
	if a.samples != 3 {
		t.Errorf("appender saw %d samples, want 3", a.samples)
	}
}

func TestTapCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Tap(ctx, make(chan *types.SegmentComplex64), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Tap() = %v, want context.Canceled", err)
	}
}
