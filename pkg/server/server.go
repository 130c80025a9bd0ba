// Package server wires the CloverHub daemon together: the configured
// store, the Warehouse setup pass, every subsystem goroutine, and the
// EvtBuzz gateway. It owns the staged shutdown sequence.
//
// This package lives in pkg/ so external distributions (an all-in-one
// binary with a bundled TUI, test harnesses) can embed the full server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/appd"
	"github.com/reboot-codes/cloverhub/internal/arbiter"
	"github.com/reboot-codes/cloverhub/internal/config"
	"github.com/reboot-codes/cloverhub/internal/evtbuzz"
	"github.com/reboot-codes/cloverhub/internal/inference"
	"github.com/reboot-codes/cloverhub/internal/modman"
	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/internal/renderer"
	"github.com/reboot-codes/cloverhub/internal/store"
	"github.com/reboot-codes/cloverhub/internal/telemetry"
	"github.com/reboot-codes/cloverhub/internal/warehouse"
)

// shutdownGrace bounds how long each stage of the shutdown sequence may
// take before the watchdog forces the process down.
const shutdownGrace = 10 * time.Second

// Options selects the listen address and data directory.
type Options struct {
	Port    int
	Host    string
	DataDir string
}

// subsystem tracks one running subsystem goroutine for staged shutdown.
type subsystem struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the subsystem and waits, bounded by the shutdown grace.
func (s *subsystem) stop() {
	log.Debug().Str("subsystem", s.name).Msg("Shutting down subsystem")
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(shutdownGrace):
		log.Warn().Str("subsystem", s.name).Msg("Subsystem did not stop within grace period")
	}
}

// Run starts CloverHub and blocks until ctx is cancelled and the staged
// shutdown has completed. A setup failure (data dir, config, repos) is
// fatal and returns the error directly.
func Run(ctx context.Context, opts Options) error {
	log.Info().Msg("Starting CloverHub...")

	cfg := config.Load()
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		shutdownTelemetry(flushCtx)
	}()

	s, master, core := store.NewConfiguredStore()
	if cfg.MasterPrint {
		log.Debug().
			Str("user", master.ID).
			Str("api_key", master.APIKey).
			Msg("Master user credentials")
	}

	if err := warehouse.Setup(ctx, cfg.DataDir, s); err != nil {
		return fmt.Errorf("warehouse setup: %w", err)
	}

	filter := perms.NewFilter()
	bus := evtbuzz.NewBus(s, filter, core.EvtBuzz)

	// Subsystems start leaves-last and stop leaves-first. Each gets its own
	// cancel so shutdown can walk the reverse dependency order.
	start := func(name string, run func(context.Context)) *subsystem {
		subCtx, cancel := context.WithCancel(context.Background())
		sub := &subsystem{name: name, cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(sub.done)
			run(subCtx)
		}()
		return sub
	}

	warehouseSub := start("warehouse", func(c context.Context) {
		warehouse.Run(c, bus.RegisterSubsystem(c, core.Warehouse), s, cfg.DataDir)
	})
	arbiterSub := start("arbiter", func(c context.Context) {
		arbiter.Run(c, bus.RegisterSubsystem(c, core.Arbiter), s)
	})
	rendererSub := start("renderer", func(c context.Context) {
		renderer.Run(c, bus.RegisterSubsystem(c, core.Renderer), s)
	})
	modmanSub := start("modman", func(c context.Context) {
		modman.Run(c, bus.RegisterSubsystem(c, core.ModMan), s)
	})
	inferenceSub := start("inference-engine", func(c context.Context) {
		inference.Run(c, bus.RegisterSubsystem(c, core.InferenceEngine), s)
	})
	appdSub := start("appd", func(c context.Context) {
		appd.Run(c, bus.RegisterSubsystem(c, core.AppD), s)
	})

	evtbuzzSub := start("evtbuzz", func(c context.Context) {
		bus.Run(c)
	})

	gateway := evtbuzz.NewGateway(bus, s, filter)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     gateway.Routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	httpDone := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("Starting EvtBuzz listener")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-httpDone:
		if err != nil {
			log.Error().Err(err).Msg("EvtBuzz listener failed")
		}
	}

	// Staged shutdown: receive halts first, then subsystems cancel in
	// reverse dependency order, dispatch last. A watchdog forces exit if
	// the sequence wedges.
	watchdog := time.AfterFunc(8*shutdownGrace, func() {
		log.Error().Msg("Shutdown watchdog fired, forcing exit")
		os.Exit(1)
	})
	defer watchdog.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	httpServer.Shutdown(shutdownCtx)

	appdSub.stop()
	inferenceSub.stop()
	modmanSub.stop()
	rendererSub.stop()
	arbiterSub.stop()
	evtbuzzSub.stop()
	warehouseSub.stop()

	log.Info().Msg("CloverHub Server has exited")
	return nil
}
