package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/sensorstream/internal/config"
	"codeberg.org/mutker/sensorstream/internal/errors"
	"codeberg.org/mutker/sensorstream/internal/logger"
	"codeberg.org/mutker/sensorstream/internal/sampler"
	"codeberg.org/mutker/sensorstream/internal/sensor"
	"codeberg.org/mutker/sensorstream/internal/sink"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(config.RoleSampler, os.Args[1:])
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
	log := logger.Get().With("sampler")

	backend, err := sensor.Select(sensor.Kind(cfg.Backend), log)
	if err != nil {
		logFailure(log, err, "Failed to initialize sensor backend")
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sensor backend")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var (
		opts   []sampler.Option
		wg     sync.WaitGroup
		stopUI = func() {}
	)

	if cfg.Display {
		var uiCtx context.Context
		uiCtx, stopUI = context.WithCancel(context.Background())

		dispatcher := sink.NewDispatcher(sink.NewDisplay(os.Stdout, "Sampler"), sink.DefaultQueueSize, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(uiCtx)
		}()

		opts = append(opts, sampler.WithActivity(dispatcher.Present))
	}

	s := sampler.New(sampler.Config{
		Address:        cfg.Address,
		Iterations:     cfg.Iterations,
		Interval:       cfg.Interval,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, backend, log, opts...)

	summary, err := s.Run(ctx)

	stopUI()
	wg.Wait()

	if err != nil {
		logFailure(log, err, "Sampler failed")
		return err
	}

	log.Info().
		Int("sent", summary.Sent).
		Int("backend_failures", summary.BackendFailures).
		Bool("stopped", summary.Stopped).
		Bool("peer_closed", summary.PeerClosed).
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
