// Package device defines the sample source consumed by the DSP chain.
package device

import (
	"context"

	"github.com/norasector/turbine-common/types"
)

// Device delivers complex baseband segments until ctx is cancelled or Stop is
// called.
type Device interface {
	Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error
	Stop() error
	MaxSampleRate() int
}
