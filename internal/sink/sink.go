// Package sink holds the presentation targets records are delivered to:
// log lines, a terminal panel, and the record archive.
package sink

import (
	"context"
	"time"

	"codeberg.org/mutker/sensorstream/internal/collector"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"codeberg.org/mutker/sensorstream/internal/store"
)

// Multi presents every record to each sink in order
type Multi []collector.Sink

func (m Multi) Present(r record.Record) {
	for _, s := range m {
		s.Present(r)
	}
}

// Log writes each record as a structured log line
type Log struct {
	log logger.Logger
}

func NewLog(log logger.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Present(r record.Record) {
	if r.IsError() {
		l.log.Warn().
			Int(record.FieldIteration, r.Sequence).
			Str(record.FieldError, r.Err).
			Msg("Sampler reported an error")
		return
	}

	l.log.Info().
		Int(record.FieldIteration, r.Sequence).
		Fields(r.Fields).
		Msg("Record received")
}

// Store appends each record to an archive under one session ID
type Store struct {
	archive   store.Archive
	sessionID string
	log       logger.Logger
	now       func() time.Time
}

func NewStore(archive store.Archive, sessionID string, log logger.Logger) *Store {
	return &Store{
		archive:   archive,
		sessionID: sessionID,
		log:       log,
		now:       time.Now,
	}
}

// Present archives r. Storage failures are logged and never reach the
// caller.
func (s *Store) Present(r record.Record) {
	entry := &store.Entry{
		SessionID:  s.sessionID,
		ReceivedAt: s.now(),
		Record:     r,
	}

	if err := s.archive.Record(context.Background(), entry); err != nil {
		s.log.Error().
			Err(err).
			Int(record.FieldIteration, r.Sequence).
			Msg("Failed to archive record")
	}
}
