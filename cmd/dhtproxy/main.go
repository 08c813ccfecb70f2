// Command dhtproxy serves an in-memory peer directory to trackers running
// with a remote DHT backend.
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
)

func main() {
	cfg, err := config.LoadProxy(os.Args[1:], os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dhtproxy: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dhtproxy: %v\n", err)
		os.Exit(2)
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("DHT proxy failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.ProxyConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := dht.NewMemory(cfg.TTL)
	srv := dht.NewServer(store, logger.Named("dht"))
	listener := server.NewListener(cfg.Listen, cfg.HTTP3Listen, srv.Handler(), logger)
	if err := listener.Start(); err != nil {
		return err
	}

	if cfg.MDNS {
		port := listener.Port()
		mdns, err := discovery.PublishService(cfg.Instance, common.ProxyServiceName, port)
		if err != nil {
			logger.Warn("Failed to publish mDNS service", zap.Error(err))
		} else {
			defer mdns.Shutdown()
			logger.Info("Published mDNS service", zap.String("service", common.ProxyServiceName), zap.Int("port", port))
		}
	}

	logger.Info("DHT proxy is running. Press Ctrl+C to exit.", zap.Duration("ttl", cfg.TTL))
	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return listener.Stop(shutdownCtx)
}
