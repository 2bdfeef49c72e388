package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// DiscardWriteAPI drops every point. It stands in for InfluxDB when no
// metrics backend is configured.
type DiscardWriteAPI struct{}

func (d *DiscardWriteAPI) WriteRecord(line string)       {}
func (d *DiscardWriteAPI) WritePoint(point *write.Point) {}
func (d *DiscardWriteAPI) Flush()                        {}
func (d *DiscardWriteAPI) Close()                        {}
func (d *DiscardWriteAPI) Errors() <-chan error          { return nil }

// RecordingWriteAPI keeps every point written to it.
type RecordingWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
}

func (r *RecordingWriteAPI) WriteRecord(line string) {}

func (r *RecordingWriteAPI) WritePoint(point *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, point)
	r.mu.Unlock()
}

func (r *RecordingWriteAPI) Flush()               {}
func (r *RecordingWriteAPI) Close()               {}
func (r *RecordingWriteAPI) Errors() <-chan error { return nil }

// Count returns how many points named measurement have been written.
func (r *RecordingWriteAPI) Count(measurement string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.points {
		if p.Name() == measurement {
			n++
		}
	}
	return n
}
