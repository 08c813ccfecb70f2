package server

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/dht"
	"dhtracker/internal/query"
)

// Handler serves announce and scrape requests. Paths (after the optional
// prefix) starting with /scrape are scrapes; everything else announces.
type Handler struct {
	bridge *Bridge
	prefix string
	logger *zap.Logger
}

// NewHandler creates a Handler. prefix is stripped from request paths
// before classification, e.g. "/tracker" for "/tracker/scrape".
func NewHandler(bridge *Bridge, prefix string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bridge: bridge, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}
}

// responseWriter remembers whether anything reached the client.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", uuid.NewString()), zap.String("remote", r.RemoteAddr))
	rw := &responseWriter{ResponseWriter: w}
	defer h.recoverPanic(rw, logger)

	h.serve(rw, r, logger)
	logger.Debug("Sent response")
}

// stripPrefix removes the configured prefix only on a segment boundary, so
// "/tracker" does not match "/trackerx/scrape".
func (h *Handler) stripPrefix(p string) string {
	switch {
	case h.prefix == "":
		return p
	case p == h.prefix:
		return "/"
	case strings.HasPrefix(p, h.prefix+"/"):
		return p[len(h.prefix):]
	}
	return p
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, logger *zap.Logger) {
	rawURL := r.RequestURI
	if rawURL == "" {
		rawURL = r.URL.RequestURI()
	}
	scrape := bittorrent.IsScrapePath(h.stripPrefix(r.URL.Path))
	logger.Debug("Request received", zap.String("raw_url", rawURL), zap.Bool("scrape", scrape))

	req := bittorrent.ParseRequest(query.Parse(rawURL), clientAddr(r), scrape)
	if !req.Valid() {
		// The failure reason is already in the response.
		logger.Info("Rejected request", zap.Stringer("kind", req.Kind), zap.String("reason", req.FailureReason()))
		h.writeResponse(w, req, logger)
		return
	}

	if req.Kind == bittorrent.KindScrape {
		h.bridge.Scrape(req.Scrape)
	} else if err := h.bridge.Announce(r.Context(), req.Announce); err != nil {
		if errors.Is(err, dht.ErrResource) {
			logger.Error("DHT unavailable", zap.Error(err))
			writeFailure(w, http.StatusServiceUnavailable, "dht unavailable")
			return
		}
		logger.Error("Announce failed", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeResponse(w, req, logger)
}

func (h *Handler) writeResponse(w http.ResponseWriter, req bittorrent.Request, logger *zap.Logger) {
	var buf bytes.Buffer
	if err := req.EncodeResponse(&buf); err != nil {
		logger.Error("Could not encode response", zap.Error(err))
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write(bittorrent.Failure(reason))
}

// recoverPanic keeps one broken request from taking anything else down.
// If the response has not started, the client still gets a bencoded
// failure; otherwise the connection is dropped.
func (h *Handler) recoverPanic(w *responseWriter, logger *zap.Logger) {
	v := recover()
	if v == nil {
		return
	}
	if v == http.ErrAbortHandler {
		panic(v)
	}
	logger.Error("Error in handling this request", zap.Any("panic", v), zap.Stack("stack"))
	if w.wroteHeader {
		panic(http.ErrAbortHandler)
	}
	w.Header().Set("Connection", "close")
	writeFailure(w, http.StatusInternalServerError, "internal error")
}

func clientAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.WithZone("").Unmap()
}
