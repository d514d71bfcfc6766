// Package metrics provides the MetricsRecorder interface, a noop
// implementation and a Prometheus-backed one.
package metrics

import "time"

// MetricsRecorder is the interface for recording store operation metrics.
// op is one of "get", "assoc", "update", "dissoc"; RecordBytes uses
// "read" and "write".
type MetricsRecorder interface {
	RecordLatency(op string, d time.Duration)
	RecordError(op string)
	RecordBytes(op string, n int)
}

// Noop is a MetricsRecorder that discards all data.
type Noop struct{}

func (Noop) RecordLatency(op string, d time.Duration) {}
func (Noop) RecordError(op string)                    {}
func (Noop) RecordBytes(op string, n int)             {}
