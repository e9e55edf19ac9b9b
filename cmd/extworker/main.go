package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/extbridge/internal/config"
	"github.com/danmuck/extbridge/internal/logging"
	"github.com/danmuck/extbridge/internal/worker"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "worker config path (toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "extworker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	base := config.Default(logging.ProfileRuntime)
	base.Session.Name = "worker"
	cfg, err := config.Load(configPath, base)
	if err != nil {
		return err
	}
	cfg.Log.App = "extworker"
	logging.ApplyEnvOverrides(&cfg.Log)
	logging.Apply(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout is the channel to the host; logs go to stderr.
	rt, err := worker.New(os.Stdin, os.Stdout, worker.Config{Session: cfg.Session})
	if err != nil {
		return err
	}
	defer rt.Close()

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case err := <-done:
		return ignoreCancel(err)
	case <-ctx.Done():
	}
	// A read on a blocking stdin is not always released by Close.
	_ = os.Stdin.Close()
	select {
	case err := <-done:
		return ignoreCancel(err)
	case <-time.After(shutdownGrace):
		log.Warn().Dur("grace", shutdownGrace).Msg("worker read still blocked, exiting")
		return nil
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
