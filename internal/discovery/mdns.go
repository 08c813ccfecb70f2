package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"dhtracker/internal/common"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// ErrNotFound is returned when browsing ends without a usable answer.
var ErrNotFound = errors.New("service not found")

// PublishService announces instance under service on the local network.
// The caller shuts the returned server down.
func PublishService(instance, service string, port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(instance, service, common.ServiceDomain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not register service %s: %w", service, err)
	}
	return server, nil
}

// DiscoverService browses for service until ctx expires and returns the
// host:port of the first instance with an IPv4 address.
func DiscoverService(ctx context.Context, service string, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to initialize resolver: %w", err)
	}

	results := make(chan *zeroconf.ServiceEntry)
	found := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		for entry := range results {
			if len(entry.AddrIPv4) == 0 {
				logger.Debug("Skipping instance without IPv4 address", zap.String("instance", entry.Instance))
				continue
			}
			logger.Info("Discovered service",
				zap.String("service", service),
				zap.String("instance", entry.Instance),
				zap.Stringer("ip", entry.AddrIPv4[0]),
				zap.Int("port", entry.Port))
			select {
			case found <- entry:
			default:
			}
		}
	}()

	if err := resolver.Browse(ctx, service, common.ServiceDomain, results); err != nil {
		return "", fmt.Errorf("failed to browse %s: %w", service, err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("discover %s: %w", service, ErrNotFound)
	case entry := <-found:
		return net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port)), nil
	}
}
