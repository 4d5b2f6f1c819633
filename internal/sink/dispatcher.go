package sink

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/sensorstream/internal/collector"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
)

const DefaultQueueSize = 64

// Dispatcher hands records from the network goroutine to a single
// presentation goroutine. Present never blocks; when the queue is full the
// record is dropped and counted.
type Dispatcher struct {
	target  collector.Sink
	queue   chan record.Record
	dropped atomic.Int64
	log     logger.Logger
}

func NewDispatcher(target collector.Sink, size int, log logger.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Dispatcher{
		target: target,
		queue:  make(chan record.Record, size),
		log:    log,
	}
}

func (d *Dispatcher) Present(r record.Record) {
	select {
	case d.queue <- r:
	default:
		d.dropped.Add(1)
		d.log.Warn().
			Int(record.FieldIteration, r.Sequence).
			Msg("Presentation queue full, dropping record")
	}
}

// Run presents queued records until ctx is done, then presents whatever is
// still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case r := <-d.queue:
			d.target.Present(r)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case r := <-d.queue:
			d.target.Present(r)
		default:
			return
		}
	}
}

// Dropped returns how many records were discarded because the queue was full
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}
