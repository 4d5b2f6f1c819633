package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/sensorstream/internal/collector"
	"codeberg.org/mutker/sensorstream/internal/config"
	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/pid"
	"codeberg.org/mutker/sensorstream/internal/sink"
	"codeberg.org/mutker/sensorstream/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const pidName = "sensorstream-collector"

func main() {
	cfg, err := config.Load(config.RoleCollector, os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser := initLogger(cfg)
	err = run(cfg)
	logCloser.Close()

	if err != nil {
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) io.Closer {
	level, _ := logger.ParseLevel(cfg.LogLevel)
	// stdout carries the status panel
	closer := logger.Init(logger.Options{
		Level:     level,
		IsService: logger.IsService(),
		File:      cfg.LogFile,
		Console:   os.Stderr,
	})
	logger.Debug().Msg("Config loaded")

	return closer
}

func run(cfg *config.Config) error {
	log := logger.Get().With("collector")

	if err := pid.Write(pidName); err != nil {
		logFailure(log, err, "Failed to write PID file")
		return err
	}
	defer func() {
		if err := pid.Remove(pidName); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	archive, err := store.NewService(store.Config{
		DBPath:       cfg.StorePath,
		BatchSize:    cfg.StoreBatchSize,
		BatchTimeout: cfg.StoreBatchTimeout,
		Enabled:      cfg.Store,
	}, log.With("store"))
	if err != nil {
		logFailure(log, err, "Failed to open record archive")
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logFailure(log, err, "Failed to close record archive")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	sessionID := uuid.NewString()
	sinks := sink.Multi{
		sink.NewLog(log),
		sink.NewStore(archive, sessionID, log),
	}

	var (
		wg     sync.WaitGroup
		stopUI = func() {}
	)

	if cfg.Display {
		var uiCtx context.Context
		uiCtx, stopUI = context.WithCancel(context.Background())

		dispatcher := sink.NewDispatcher(sink.NewDisplay(os.Stdout, "Collector"), sink.DefaultQueueSize, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(uiCtx)
		}()

		sinks = append(sinks, dispatcher)
	}

	c := collector.New(collector.Config{
		Address:        cfg.Address,
		MaxFragment:    cfg.MaxFragment,
		ReadBufferSize: cfg.ReadBuffer,
		ReadTimeout:    cfg.ReadTimeout,
		SessionID:      sessionID,
	}, sinks, log)

	summary, err := c.Run(ctx)

	stopUI()
	wg.Wait()

	if err != nil {
		logFailure(log, err, "Collector failed")
		return err
	}

	log.Info().
		Str("session_id", summary.SessionID).
		Int("delivered", summary.Delivered).
		Int("malformed", summary.Malformed).
		Int("discarded_bytes", summary.Discarded).
		Bool("stopped", summary.Stopped).
		Msg("Exiting...")

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logFailure(log logger.Logger, err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		log.ErrorWithCode(appErr).Msg(msg)
		return
	}
	log.Error().Err(err).Msg(msg)
}
