package bladerf

import (
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
)

type FaultKind int

const (
	FaultOverflow FaultKind = iota
	FaultUnderflow
	FaultLate
)

func (k FaultKind) String() string {
	switch k {
	case FaultOverflow:
		return "overflow"
	case FaultUnderflow:
		return "underflow"
	case FaultLate:
		return "late"
	default:
		return "unknown"
	}
}

// FaultEvent is a non-fatal streaming condition reported by the hardware.
type FaultEvent struct {
	Kind FaultKind
	// Count is the number of samples actually transferred, set for overflows.
	Count int
}

// FaultHandler is invoked synchronously on the streaming goroutine.
type FaultHandler func(ev FaultEvent)

type faultReporter struct {
	handler  FaultHandler
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	counts   [3]atomic.Uint64
}

func (f *faultReporter) dispatch(dir Direction, ev FaultEvent) {
	if int(ev.Kind) < len(f.counts) {
		f.counts[ev.Kind].Add(1)
	}

	go f.writeAPI.WritePoint(influxdb2.NewPoint("rf.fault",
		map[string]string{
			"kind":      ev.Kind.String(),
			"direction": dir.String(),
		},
		map[string]interface{}{
			"count": ev.Count,
		}, time.Now()))

	if f.handler == nil {
		f.logger.Warn().
			Str("direction", dir.String()).
			Str("fault", ev.Kind.String()).
			Int("count", ev.Count).
			Msg("fault detected with no handler registered")
		return
	}
	f.handler(ev)
}

func (f *faultReporter) count(kind FaultKind) uint64 {
	return f.counts[kind].Load()
}
