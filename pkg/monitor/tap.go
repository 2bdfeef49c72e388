package monitor

import (
	"context"

	"github.com/norasector/turbine-common/types"
)

// Appender accepts a copy of each segment's samples.
type Appender interface {
	Append(s []complex64)
}

// Tap feeds every segment read from in to the appenders and forwards it to
// out. A nil out drops segments after they have been observed. Tap returns
// when in is closed or ctx is done.
func Tap(ctx context.Context, in <-chan *types.SegmentComplex64, out chan<- *types.SegmentComplex64, appenders ...Appender) error {
	for {
		var seg *types.SegmentComplex64
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-in:
			if !ok {
				return nil
			}
			seg = s
		}

		for _, a := range appenders {
			a.Append(seg.Data)
		}

		if out == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- seg:
		}
	}
}
