// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Matrixbot runs a persistent Matrix bot session. It logs in once,
// keeps its access token and sync position in a SQLite file, and
// answers "<bot name> ping" with "pong".
//
// Configuration is YAML, read from --config or $MATRIXBOT_CONFIG.
// With --ephemeral nothing is written to disk and every start logs in
// again.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrixbot/adapter"
	"github.com/bureau-foundation/matrixbot/lib/clock"
	"github.com/bureau-foundation/matrixbot/lib/config"
	"github.com/bureau-foundation/matrixbot/lib/credstore"
	"github.com/bureau-foundation/matrixbot/lib/version"
	"github.com/bureau-foundation/matrixbot/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		ephemeral   bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("matrixbot", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to matrixbot.yaml (default: $"+config.EnvVar+")")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&ephemeral, "ephemeral", false, "keep the session in memory only")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("matrixbot %s\n", version.Full())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, ephemeral, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Listen != "" {
		listener, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			store.Close()
			return fmt.Errorf("metrics listener: %w", err)
		}
		shutdown := serveMetrics(listener, registry, metricsShutdownTimeout, logger)
		defer shutdown()
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.ServerURL,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer client.CloseIdleConnections()

	bot := &pinger{botName: cfg.BotName, logger: logger}
	session := adapter.New(adapter.Config{
		BotName:          cfg.BotName,
		LoginUser:        cfg.LoginUser(),
		Password:         cfg.Password,
		MaxRetries:       cfg.Retry.MaxRetries,
		InitialDelay:     cfg.Retry.InitialDelay,
		PresenceInterval: cfg.PresenceInterval,
		ReadyTimeout:     cfg.Crypto.ReadyTimeout,
		Sync: messaging.StartOptions{
			Timeout:          cfg.Sync.Timeout,
			InitialSyncLimit: cfg.Sync.InitialSyncLimit,
			MaxBackoff:       cfg.Sync.MaxBackoff,
		},
	}, adapter.NewMatrixConnector(client, clock.Real(), logger), store, bot,
		adapter.WithLogger(logger),
		adapter.WithRegisterer(registry),
	)
	bot.session = session

	logger.Info("starting", "version", version.Info(), "server", cfg.ServerURL, "bot_name", cfg.BotName)
	runErr := session.Run(ctx)
	if err := session.Stop(); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("stopped")
	return nil
}

func openStore(cfg *config.Config, ephemeral bool, logger *slog.Logger) (credstore.Store, error) {
	if ephemeral || cfg.Store.Path == "" {
		logger.Warn("session is not persisted; every start logs in again")
		return credstore.NewMemoryStore(nil), nil
	}
	return credstore.OpenSQLite(cfg.Store.Path, logger)
}

// metricsShutdownTimeout bounds how long in-flight scrapes may run
// after the bot stops.
const metricsShutdownTimeout = 5 * time.Second

// serveMetrics exposes registry on listener until the returned function
// is called.
func serveMetrics(listener net.Listener, registry *prometheus.Registry, shutdownTimeout time.Duration, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "listen", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
