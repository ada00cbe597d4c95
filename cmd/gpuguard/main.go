package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ZerkerEOD/gpuguard/internal/auth"
	"github.com/ZerkerEOD/gpuguard/internal/cleanup"
	"github.com/ZerkerEOD/gpuguard/internal/config"
	"github.com/ZerkerEOD/gpuguard/internal/engine"
	"github.com/ZerkerEOD/gpuguard/internal/hardware"
	"github.com/ZerkerEOD/gpuguard/internal/hardware/gpu"
	"github.com/ZerkerEOD/gpuguard/internal/metrics"
	"github.com/ZerkerEOD/gpuguard/internal/persistence"
	"github.com/ZerkerEOD/gpuguard/internal/server"
	"github.com/ZerkerEOD/gpuguard/internal/settings"
	"github.com/ZerkerEOD/gpuguard/internal/version"
	"github.com/ZerkerEOD/gpuguard/pkg/console"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

/*
 * main is the entry point for the GPU monitor.
 *
 * It performs the following operations:
 * 1. Loads and validates configuration
 * 2. Enumerates GPUs and starts the sampling, snapshot and persistence loops
 * 3. Serves the HTTP/WebSocket control surface
 * 4. Reports throttle events and periodic device summaries to the console
 *
 * The monitor runs until SIGINT or SIGTERM, then flushes lifetime stats.
 */
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "gpuguard: %v\n", err)
		return 2
	}

	debug.Configure(cfg.Debug, cfg.LogLevel)
	console.Status("gpuguard %s starting", version.GetVersion())

	dataDir, err := config.ResolveDataDir(cfg.DataDir)
	if err != nil {
		console.Error("%v", err)
		return 1
	}

	cleanup.NewService(dataDir).Sweep()

	apiKey := ""
	if cfg.Listen != "" && !cfg.NoAuth {
		apiKey, err = auth.LoadOrCreateKey(dataDir)
		if err != nil {
			console.Error("Failed to load control key: %v", err)
			return 1
		}
		console.Info("Control requests need the %s header; key stored in %s",
			auth.HeaderName, filepath.Join(dataDir, auth.KeyFile))
	}

	for _, hint := range hardware.CheckDependencies() {
		console.Warning("%s", hint)
	}

	registry := gpu.NewRegistry()
	defer func() {
		if err := registry.Close(); err != nil {
			debug.Warning("Failed to release GPU libraries: %v", err)
		}
	}()

	host, err := metrics.New()
	if err != nil {
		debug.Warning("Host metrics unavailable: %v", err)
		host = nil
	}

	eng, err := engine.New(engine.Options{
		Probers:       registry.Probers,
		Fallbacks:     registry.Fallbacks,
		Samplers:      registry,
		Store:         persistence.NewStore(dataDir),
		Settings:      settings.NewFileStore(dataDir),
		Host:          host,
		Threshold:     cfg.Threshold,
		Floor:         cfg.Floor,
		MaxParallel:   cfg.MaxParallel,
		FlushDebounce: cfg.FlushDebounce,
	})
	if err != nil {
		console.Error("Failed to initialise monitor: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		console.Error("Failed to start monitor: %v", err)
		return 1
	}
	printDevices(eng.Devices())

	events, cancelEvents := eng.SubscribeEvents()
	defer cancelEvents()
	snapshots, cancelSnapshots := eng.SubscribeSnapshots()
	defer cancelSnapshots()

	rep := newReporter()
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		rep.run(events, snapshots)
	}()

	serverErr := make(chan error, 1)
	if cfg.Listen != "" {
		srv := server.New(eng, apiKey)
		go func() {
			serverErr <- srv.ListenAndServe(ctx, cfg.Listen)
		}()
		console.Info("Control surface on http://%s/api", cfg.Listen)
	} else {
		console.Info("HTTP control surface disabled")
	}

	exitCode := 0
	serverDone := cfg.Listen == ""
	select {
	case <-ctx.Done():
		console.Status("Shutting down")
	case err := <-serverErr:
		serverDone = true
		if err != nil {
			console.Error("%v", err)
			exitCode = 1
		}
		stop()
	}

	if err := eng.Close(); err != nil {
		console.Error("Final save of lifetime stats failed: %v", err)
		exitCode = 1
	}
	<-reportDone
	if !serverDone {
		<-serverErr
	}
	console.Success("Stopped")
	return exitCode
}
