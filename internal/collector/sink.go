package collector

import "codeberg.org/mutker/sensorstream/internal/record"

// Sink receives decoded records in stream order. Present is called on the
// collector's read goroutine; implementations must not block for long and
// must not call back into the collector.
type Sink interface {
	Present(r record.Record)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(r record.Record)

func (f SinkFunc) Present(r record.Record) { f(r) }
