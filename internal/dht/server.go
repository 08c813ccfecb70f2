package dht

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/jackpal/bencode-go"
	"go.uber.org/zap"

	"dhtracker/internal/bittorrent"
)

// Server exposes a Memory store through the remote proxy protocol used by
// Remote. Its handler is transport agnostic and is served over HTTP and
// HTTP/3 alike.
type Server struct {
	store  *Memory
	logger *zap.Logger
}

// NewServer creates a proxy daemon serving store.
func NewServer(store *Memory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, logger: logger}
}

// Handler returns the daemon's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/peers/", s.peersHandler)
	return mux
}

func (s *Server) peersHandler(w http.ResponseWriter, r *http.Request) {
	infoHash, err := bittorrent.ParseInfoHashHex(strings.TrimPrefix(r.URL.Path, "/peers/"))
	if err != nil {
		http.Error(w, "invalid peers request format: /peers/{hex info hash}", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getPeers(r.Context(), w, infoHash)
	case http.MethodPut:
		s.putPeer(w, r, infoHash)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getPeers(ctx context.Context, w http.ResponseWriter, infoHash bittorrent.InfoHash) {
	entries, err := s.store.LookupPeers(ctx, infoHash)
	if err != nil {
		s.logger.Error("Lookup failed", zap.Stringer("info_hash", infoHash), zap.Error(err))
		http.Error(w, "lookup failed", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, entries); err != nil {
		s.logger.Error("Could not encode peers", zap.Stringer("info_hash", infoHash), zap.Error(err))
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(buf.Bytes())
}

func (s *Server) putPeer(w http.ResponseWriter, r *http.Request, infoHash bittorrent.InfoHash) {
	raw, err := bencode.Decode(r.Body)
	if err != nil {
		http.Error(w, "invalid bencoded body", http.StatusBadRequest)
		return
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.Put(r.Context(), infoHash, entry); err != nil {
		s.logger.Error("Register failed", zap.Stringer("info_hash", infoHash), zap.Error(err))
		http.Error(w, "register failed", http.StatusServiceUnavailable)
		return
	}
	s.logger.Debug("Registered peer",
		zap.Stringer("info_hash", infoHash),
		zap.String("peer_id", entry.PeerID),
		zap.String("ip", entry.IP),
		zap.Int("port", entry.Port))
	w.WriteHeader(http.StatusNoContent)
}
