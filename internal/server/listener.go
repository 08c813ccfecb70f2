package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dhtracker/internal/common"
)

// Listener serves one handler on any number of TCP addresses and at most
// one UDP address over HTTP/3.
type Listener struct {
	addrs    []string
	quicAddr string
	handler  http.Handler
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	servers  []*http.Server
	bound    []net.Addr
	quicSrv  *http3.Server
	quicConn net.PacketConn
	wg       sync.WaitGroup
}

// NewListener prepares a listener. quicAddr may be empty to disable HTTP/3.
func NewListener(addrs []string, quicAddr string, handler http.Handler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{addrs: addrs, quicAddr: quicAddr, handler: handler, logger: logger}
}

// Start binds every address and serves in the background. If any address
// cannot be bound, nothing is left listening.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("listener already running")
	}
	if len(l.addrs) == 0 && l.quicAddr == "" {
		return errors.New("no listen address configured")
	}

	var listeners []net.Listener
	closeAll := func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}
	for _, addr := range l.addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
	}

	if l.quicAddr != "" {
		tlsConfig, err := common.GenerateTLSConfig()
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to generate TLS config: %w", err)
		}
		conn, err := net.ListenPacket("udp", l.quicAddr)
		if err != nil {
			closeAll()
			return fmt.Errorf("listen on %s/udp: %w", l.quicAddr, err)
		}
		l.quicConn = conn
		l.quicSrv = &http3.Server{Handler: l.handler, TLSConfig: tlsConfig}
	}

	l.servers = l.servers[:0]
	l.bound = l.bound[:0]
	for _, ln := range listeners {
		srv := &http.Server{
			Handler:           l.handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(l.logger.Named("http")),
		}
		l.servers = append(l.servers, srv)
		l.bound = append(l.bound, ln.Addr())
		l.logger.Info("Listening", zap.Stringer("addr", ln.Addr()), zap.String("proto", "http"))

		l.wg.Add(1)
		go func(ln net.Listener) {
			defer l.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.logger.Error("HTTP server stopped", zap.Stringer("addr", ln.Addr()), zap.Error(err))
			}
		}(ln)
	}

	if l.quicSrv != nil {
		srv, conn := l.quicSrv, l.quicConn
		l.logger.Info("Listening", zap.Stringer("addr", conn.LocalAddr()), zap.String("proto", "http3"))
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			if err := srv.Serve(conn); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				l.logger.Error("HTTP/3 server stopped", zap.Error(err))
			}
		}()
	}

	l.running = true
	return nil
}

// Addrs returns the bound addresses while running: TCP listeners in
// configuration order, then the HTTP/3 socket if any.
func (l *Listener) Addrs() []net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	addrs := append([]net.Addr(nil), l.bound...)
	if l.quicConn != nil {
		addrs = append(addrs, l.quicConn.LocalAddr())
	}
	return addrs
}

// Port is the port worth advertising: the first TCP listener's, or the
// HTTP/3 socket's when there is no TCP listener. It is 0 when stopped.
func (l *Listener) Port() int {
	for _, addr := range l.Addrs() {
		switch a := addr.(type) {
		case *net.TCPAddr:
			return a.Port
		case *net.UDPAddr:
			return a.Port
		}
	}
	return 0
}

// Running reports whether Start succeeded and Stop has not been called.
func (l *Listener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx expires.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	servers, quicSrv, quicConn := l.servers, l.quicSrv, l.quicConn
	l.servers, l.quicSrv, l.quicConn = nil, nil, nil
	l.bound = nil
	l.mu.Unlock()

	var err error
	for _, srv := range servers {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	if quicSrv != nil {
		err = multierr.Append(err, quicSrv.Close())
		err = multierr.Append(err, quicConn.Close())
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}
	l.logger.Info("Listener stopped")
	return err
}
