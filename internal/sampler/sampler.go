// Package sampler implements the producer side: a fixed number of sensor
// readings, one per interval, written to a single TCP connection.
package sampler

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/frame"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"codeberg.org/mutker/sensorstream/internal/sensor"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	Address    string
	Iterations int
	Interval   time.Duration
	// Zero timeouts block indefinitely
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Summary describes how a run ended
type Summary struct {
	Sent            int
	BackendFailures int
	// Stopped is set when the context ended the run before all iterations
	Stopped bool
	// PeerClosed is set when a write failed after at least one record
	PeerClosed bool
}

// Dialer opens the outbound connection
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Option func(*Sampler)

// WithActivity registers fn to be called after each record is written.
// fn runs on the sampling goroutine and must return promptly.
func WithActivity(fn func(record.Record)) Option {
	return func(s *Sampler) {
		s.onSent = fn
	}
}

// WithDialer replaces the default net.Dialer
func WithDialer(d Dialer) Option {
	return func(s *Sampler) {
		s.dialer = d
	}
}

type Sampler struct {
	cfg     Config
	backend sensor.Backend
	log     logger.Logger
	dialer  Dialer
	onSent  func(record.Record)
	state   atomic.Int32
}

func New(cfg Config, backend sensor.Backend, log logger.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		cfg:     cfg,
		backend: backend,
		log:     log.With("sampler"),
		dialer:  &net.Dialer{Timeout: cfg.ConnectTimeout},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current lifecycle state; safe to call from any goroutine
func (s *Sampler) State() State {
	return State(s.state.Load())
}

func (s *Sampler) setState(state State) {
	s.state.Store(int32(state))
	s.log.Debug().Str("state", state.String()).Msg("Sampler state changed")
}

// Run connects, streams the configured number of records and closes the
// connection. Cancelling ctx stops the run between iterations; a write in
// progress is allowed to finish. Only connection failures and a failed
// first write are returned as errors.
func (s *Sampler) Run(ctx context.Context) (Summary, error) {
	errFactory := errors.New()
	var summary Summary

	if s.cfg.Iterations <= 0 || s.cfg.Interval <= 0 {
		s.setState(StateClosed)
		return summary, errFactory.WithData(errors.ErrInvalidConfig, "iterations and interval must be positive")
	}

	s.setState(StateConnecting)
	conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		s.setState(StateClosed)
		return summary, errFactory.Wrap(errors.ErrConnect, err)
	}

	s.log.Info().Str("address", s.cfg.Address).Msg("Connected to collector")

	s.setState(StateStreaming)
	err = s.stream(ctx, conn, &summary)

	s.setState(StateDraining)
	if cerr := conn.Close(); cerr != nil {
		s.log.Debug().Err(cerr).Msg("Failed to close connection")
	}
	s.setState(StateClosed)

	return summary, err
}

func (s *Sampler) stream(ctx context.Context, conn net.Conn, summary *Summary) error {
	errFactory := errors.New()

	for seq := 1; seq <= s.cfg.Iterations; seq++ {
		if ctx.Err() != nil {
			summary.Stopped = true
			s.log.Info().Int("sent", summary.Sent).Msg("Stop requested, closing connection")
			return nil
		}

		rec := s.sample(ctx, seq, summary)

		if err := s.send(conn, rec); err != nil {
			if summary.Sent == 0 {
				return errFactory.Wrap(errors.ErrWrite, err)
			}
			summary.PeerClosed = true
			s.log.Warn().Err(err).Int("sent", summary.Sent).Msg("Write failed, collector closed the connection")
			return nil
		}

		summary.Sent++
		if s.onSent != nil {
			s.onSent(rec)
		}

		if seq < s.cfg.Iterations && !s.wait(ctx) {
			summary.Stopped = true
			s.log.Info().Int("sent", summary.Sent).Msg("Stop requested, closing connection")
			return nil
		}
	}

	s.log.Info().Int("iterations", summary.Sent).Msg("Completed iterations, closing connection")

	return nil
}

// sample acquires one reading. A failed reading becomes an error-shaped
// record so the loop keeps its cadence.
func (s *Sampler) sample(ctx context.Context, seq int, summary *Summary) record.Record {
	// The reading in flight completes even if a stop arrives meanwhile
	fields, err := s.backend.Read(context.WithoutCancel(ctx), seq)
	if err != nil {
		summary.BackendFailures++
		s.log.Warn().Err(err).Int("iteration", seq).Msg("Sensor read failed, sending error record")
		return record.Failure(seq, err.Error())
	}

	return record.Data(seq, fields)
}

func (s *Sampler) send(conn net.Conn, rec record.Record) error {
	encoded, err := record.Encode(rec)
	if err != nil {
		s.log.Warn().Err(err).Int("iteration", rec.Sequence).Msg("Failed to encode reading, sending error record")
		encoded, err = record.Encode(record.Failure(rec.Sequence, err.Error()))
		if err != nil {
			return err
		}
	}

	if s.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}

	if err := frame.Write(conn, encoded); err != nil {
		return err
	}

	s.log.Debug().Int("iteration", rec.Sequence).Int("bytes", len(encoded)).Msg("Record sent")

	return nil
}

// wait sleeps for one interval, returning false if ctx ends first
func (s *Sampler) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
