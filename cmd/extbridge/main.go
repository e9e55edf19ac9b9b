package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/extbridge/internal/config"
	"github.com/danmuck/extbridge/internal/host"
	"github.com/danmuck/extbridge/internal/logging"
	"github.com/danmuck/extbridge/internal/observability"
	"github.com/danmuck/extbridge/internal/protocol/codec"
	"github.com/danmuck/extbridge/internal/value"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type options struct {
	configPath  string
	workerPath  string
	eval        string
	call        string
	require     string
	metricsAddr string
	timeout     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "host config path (toml)")
	flag.StringVar(&opts.workerPath, "worker", "", "worker binary (overrides worker_path)")
	flag.StringVar(&opts.eval, "e", "", "lua chunk to evaluate in the worker")
	flag.StringVar(&opts.call, "call", "", "worker function to call with the remaining arguments")
	flag.StringVar(&opts.require, "require", "", "lua module file to load before evaluating")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "extbridge: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, rest []string) error {
	base := config.Default(logging.ProfileRuntime)
	base.Session.Name = "host"
	cfg, err := config.Load(opts.configPath, base)
	if err != nil {
		return err
	}
	if opts.workerPath != "" {
		cfg.WorkerPath = opts.workerPath
	}
	cfg.Log.App = "extbridge"
	logging.ApplyEnvOverrides(&cfg.Log)
	logging.Apply(cfg.Log)

	if opts.eval == "" && opts.call == "" {
		return errors.New("nothing to do: pass -e or -call")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		observability.RegisterMetrics()
		srv := &http.Server{Addr: opts.metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	client, err := host.Spawn(ctx, cfg.WorkerPath, cfg.WorkerArgs, host.Config{
		Session: cfg.Session,
		OnModuleMessage: func(module string, args codec.Values) {
			fmt.Printf("[%s] %s\n", module, formatValues(args))
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()
	client.Start(ctx)

	readyCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := client.WaitReady(readyCtx); err != nil {
		return err
	}

	if opts.require != "" {
		source, err := os.ReadFile(opts.require)
		if err != nil {
			return fmt.Errorf("read module: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(opts.require), filepath.Ext(opts.require))
		if err := client.Require(name, string(source)); err != nil {
			return err
		}
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, opts.timeout)
	defer reqCancel()

	var results codec.Values
	if opts.eval != "" {
		results, err = client.Eval(reqCtx, opts.eval)
	} else {
		results, err = client.Call(reqCtx, opts.call, parseArgs(rest)...)
	}
	if err != nil {
		return err
	}
	for _, v := range results {
		fmt.Println(value.Format(v))
	}
	return nil
}

func formatValues(vals codec.Values) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, value.Format(v))
	}
	return strings.Join(parts, " ")
}
