// Package collector implements the consumer side: accept one producer
// connection, split the byte stream into records and hand each decoded
// record to a Sink.
package collector

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/frame"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/record"
	"github.com/google/uuid"
)

const defaultReadBufferSize = 1024

type Config struct {
	Address string
	// MaxFragment caps a single record's length in bytes; zero disables it
	MaxFragment    int
	ReadBufferSize int
	// Zero blocks indefinitely
	ReadTimeout time.Duration
	// SessionID labels the accepted session; a random one is used when empty
	SessionID string
}

// Summary describes one session
type Summary struct {
	SessionID string
	Remote    string
	Delivered int
	Malformed int
	// Discarded counts trailing bytes of an incomplete record at session end
	Discarded int
	Stopped   bool
}

type Collector struct {
	cfg  Config
	sink Sink
	log  logger.Logger

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, sink Sink, log logger.Logger) *Collector {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}

	return &Collector{
		cfg:  cfg,
		sink: sink,
		log:  log.With("collector"),
	}
}

// Listen binds the configured address. Run calls it if needed; calling it
// first lets the caller learn the bound address.
func (c *Collector) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln != nil {
		return nil
	}

	ln, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return errors.New().Wrap(errors.ErrAccept, err)
	}
	c.ln = ln

	c.log.Info().Str("address", ln.Addr().String()).Msg("Waiting for client connection")

	return nil
}

// Addr returns the bound address, or nil before Listen
func (c *Collector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln == nil {
		return nil
	}

	return c.ln.Addr()
}

// Close stops listening. It unblocks a pending accept.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ln == nil {
		return nil
	}

	err := c.ln.Close()
	c.ln = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (c *Collector) listener() net.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ln
}

// Run accepts exactly one connection and consumes it until the peer
// closes, ctx is cancelled, or a fatal stream error occurs. The listener
// is closed as soon as the connection is accepted, so later connection
// attempts are refused.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	if err := c.Listen(); err != nil {
		return summary, err
	}
	ln := c.listener()
	if ln == nil {
		return summary, errors.New().WithMessage(errors.ErrAccept, "collector closed")
	}

	stopAccept := context.AfterFunc(ctx, func() { _ = c.Close() })
	conn, err := ln.Accept()
	stopAccept()
	_ = c.Close()

	if err != nil {
		if ctx.Err() != nil {
			summary.Stopped = true
			c.log.Info().Msg("Stop requested before a client connected")
			return summary, nil
		}
		return summary, errors.New().Wrap(errors.ErrAccept, err)
	}
	defer conn.Close()

	summary.SessionID = c.cfg.SessionID
	if summary.SessionID == "" {
		summary.SessionID = uuid.NewString()
	}
	summary.Remote = conn.RemoteAddr().String()
	log := c.log.With("session")
	log.Info().
		Str("session_id", summary.SessionID).
		Str("remote", summary.Remote).
		Msg("Client connected")

	// Unblock a pending read on stop
	stopRead := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stopRead()

	err = c.consume(ctx, conn, &summary, log)

	log.Info().
		Str("session_id", summary.SessionID).
		Int("delivered", summary.Delivered).
		Int("malformed", summary.Malformed).
		Int("discarded_bytes", summary.Discarded).
		Bool("stopped", summary.Stopped).
		Msg("Session ended")

	return summary, err
}

func (c *Collector) consume(ctx context.Context, conn net.Conn, summary *Summary, log logger.Logger) error {
	errFactory := errors.New()
	reassembler := frame.NewReassembler(c.cfg.MaxFragment)
	buf := make([]byte, c.cfg.ReadBufferSize)

	// Incomplete trailing records are never delivered
	defer func() {
		summary.Discarded = reassembler.Reset()
	}()

	for {
		if c.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
				return errFactory.Wrap(errors.ErrRead, err)
			}
		}
		if ctx.Err() != nil {
			summary.Stopped = true
			return nil
		}

		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := reassembler.Feed(buf[:n])
			c.deliver(frames, summary, log)
			if ferr != nil {
				log.ErrorWithCode(asError(ferr)).Msg("Record exceeds maximum length, closing session")
				return ferr
			}
		}

		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			log.Info().Msg("Client disconnected")
			return nil
		case ctx.Err() != nil:
			summary.Stopped = true
			return nil
		case isTimeout(err):
			return errFactory.Wrap(errors.ErrTimeout, err)
		default:
			return errFactory.Wrap(errors.ErrRead, err)
		}
	}
}

// deliver decodes frames in order; malformed ones are logged and dropped
func (c *Collector) deliver(frames [][]byte, summary *Summary, log logger.Logger) {
	for _, body := range frames {
		rec, err := record.Decode(body)
		if err != nil {
			summary.Malformed++
			log.Warn().
				Err(err).
				Int("length", len(body)).
				Msg("Discarding malformed record")
			continue
		}

		c.sink.Present(rec)
		summary.Delivered++
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func asError(err error) errors.Error {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	return errors.New().Wrap(errors.ErrInternal, err)
}
