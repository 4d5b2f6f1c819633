package store

import (
	"context"
	"time"

	"codeberg.org/mutker/sensorstream/internal/record"
)

// Archive persists received records
type Archive interface {
	Record(ctx context.Context, entry *Entry) error
	Close() error
}

// Repository is the storage behind an Archive
type Repository interface {
	Record(entry *Entry) error
	Close() error
}

// Entry is one received record together with where and when it arrived
type Entry struct {
	SessionID  string
	ReceivedAt time.Time
	Record     record.Record
}
