package dht

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dhtracker/internal/common"
	"dhtracker/internal/discovery"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendHTTP   = "http"
	BackendHTTP3  = "http3"
)

// Config selects and parameterizes a Proxy.
type Config struct {
	Backend string        `mapstructure:"dht_backend"`
	Address string        `mapstructure:"dht_address"`
	Port    int           `mapstructure:"dht_port"`
	Timeout time.Duration `mapstructure:"dht_timeout"`
	TTL     time.Duration `mapstructure:"dht_ttl"`
}

// Validate checks that a remote backend has everything it needs. An empty
// address means the daemon is discovered over mDNS.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendHTTP, BackendHTTP3:
		if c.Address != "" && (c.Port <= 0 || c.Port > 65535) {
			return fmt.Errorf("dht_port is required for backend %q", c.Backend)
		}
		if c.Timeout <= 0 {
			return fmt.Errorf("dht_timeout must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unknown dht backend %q", c.Backend)
	}
}

// New builds the Proxy selected by cfg. Remote backends without an address
// browse mDNS for a proxy daemon until ctx expires.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Proxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend == BackendMemory {
		logger.Info("Using in-memory peer directory", zap.Duration("ttl", cfg.TTL))
		return NewMemory(cfg.TTL), nil
	}

	hostPort := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	if cfg.Address == "" {
		logger.Info("Discovering DHT proxy on the network...")
		var err error
		if hostPort, err = discovery.DiscoverService(ctx, common.ProxyServiceName, logger); err != nil {
			return nil, fmt.Errorf("could not find dht proxy: %w", err)
		}
	}

	var (
		client *http.Client
		scheme = "http"
	)
	if cfg.Backend == BackendHTTP3 {
		var err error
		if client, err = newQUICClient(cfg); err != nil {
			return nil, err
		}
		scheme = "https"
	} else {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	baseURL := scheme + "://" + hostPort
	logger.Info("Using remote DHT proxy", zap.String("backend", cfg.Backend), zap.String("url", baseURL))
	return NewRemote(baseURL, client, logger.Named("dht")), nil
}
