package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/distbench/vmhost/cmd/vmhost/config"
	"github.com/distbench/vmhost/lib/cluster"
	"github.com/distbench/vmhost/lib/guestcfg"
	"github.com/distbench/vmhost/lib/logger"
	"github.com/distbench/vmhost/lib/netdev"
	"github.com/distbench/vmhost/lib/network"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	cfg := config.Load()

	log := logger.New(cfg.LogLevel)
	if cfg.NodeLogDir != "" {
		handler := logger.NewNodeLogHandler(log.Handler(), cfg.NodeLogDir)
		defer handler.Close()
		log = slog.New(handler)
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, log)

	if cfg.ImagePath == "" {
		return errors.New("IMAGE_PATH must be set")
	}

	// Re-exec under sudo when CAP_NET_ADMIN is missing; on success this
	// call does not return.
	if err := netdev.EscalateIfNeeded(); err != nil {
		return err
	}

	// Build the registry before touching host state so a failure here
	// leaves nothing to tear down.
	registry, err := guestcfg.NewRegistry()
	if err != nil {
		return err
	}

	netManager, err := network.NewManager(ctx, network.Config{
		BridgeName: cfg.BridgeName,
		CIDR:       cfg.SubnetCIDR,
	})
	if err != nil {
		return fmt.Errorf("setting up host network: %w", err)
	}

	workers := cluster.New(registry, netManager, cluster.Config{
		Workers:      cfg.Workers,
		ImagePath:    cfg.ImagePath,
		RegistryPort: cfg.RegistryPort,
		LogLevel:     cfg.LogLevel,
		Cores:        cfg.Cores,
		MemoryMB:     cfg.MemoryMB,
	})

	launchErr := workers.Launch(ctx)
	if launchErr != nil {
		log.Error("launch failed, tearing down", "error", launchErr)
	} else {
		log.Info("all workers running", "count", cfg.Workers)
		if err := workers.TailSerials(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("serial streaming ended", "error", err)
		}
	}

	// Teardown runs on a fresh context so a second signal cannot cut
	// it short halfway through releasing devices.
	shutdownCtx := logger.AddToContext(context.Background(), log)
	var errs []error
	if launchErr != nil {
		errs = append(errs, launchErr)
	}
	if err := workers.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := netManager.Cleanup(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
