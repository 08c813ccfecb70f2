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

	"go.uber.org/zap"

	"dhtracker/internal/common"
	"dhtracker/internal/config"
	"dhtracker/internal/dht"
	"dhtracker/internal/discovery"
	"dhtracker/internal/server"
	"dhtracker/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(2)
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Tracker failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locateCtx, cancel := context.WithTimeout(ctx, cfg.DHT.Timeout)
	proxy, err := dht.New(locateCtx, cfg.DHT, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("dht proxy: %w", err)
	}

	tr := tracker.New(tracker.Options{
		Interval:    cfg.Interval,
		MinInterval: cfg.MinInterval,
		MaxPeers:    cfg.MaxPeers,
		PeerTTL:     cfg.PeerTTL,
	}, logger.Named("tracker"))
	go tr.Run(ctx, cfg.MinInterval)

	bridge := server.NewBridge(proxy, tr, logger.Named("bridge"))
	handler := server.NewHandler(bridge, cfg.PathPrefix, logger.Named("http"))
	listener := server.NewListener(cfg.Listen, cfg.HTTP3Listen, handler, logger)
	if err := listener.Start(); err != nil {
		return err
	}

	if cfg.MDNS {
		port := listener.Port()
		mdns, err := discovery.PublishService(cfg.Instance, common.TrackerServiceName, port)
		if err != nil {
			logger.Warn("Failed to publish mDNS service", zap.Error(err))
		} else {
			defer mdns.Shutdown()
			logger.Info("Published mDNS service",
				zap.String("service", common.TrackerServiceName),
				zap.String("instance", cfg.Instance),
				zap.Int("port", port))
		}
	}

	logger.Info("Tracker is running. Press Ctrl+C to exit.")
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return listener.Stop(shutdownCtx)
}
