package server

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/dht"
	"dhtracker/internal/query"
)

// EventSink consumes validated requests and fills in their responses.
// Both calls are synchronous.
type EventSink interface {
	OnAnnounce(req *bittorrent.AnnounceRequest)
	OnScrape(req *bittorrent.ScrapeRequest)
}

// synthesizedLeft marks a DHT-sourced peer as still downloading. The DHT
// does not carry transfer counters, so this is an approximation the
// swarm statistics have to live with. Replayed completions are counted
// once per peer id by the tracker.
const synthesizedLeft = 1000

// SynthesizeAnnounce builds the announce entry's peer would have sent
// itself, so the sink sees DHT peers exactly like direct clients. The
// returned request has been validated; an error means it must be skipped.
func SynthesizeAnnounce(infoHash bittorrent.InfoHash, entry dht.PeerEntry) (*bittorrent.AnnounceRequest, error) {
	addr, err := netip.ParseAddr(entry.IP)
	if err != nil {
		return nil, fmt.Errorf("peer %q has unparseable address %q: %w", entry.PeerID, entry.IP, err)
	}

	var v query.Values
	v.Add("info_hash", url.QueryEscape(string(infoHash[:])))
	v.Add("peer_id", url.QueryEscape(entry.PeerID))
	v.Add("port", strconv.Itoa(entry.Port))
	v.Add("uploaded", "0")
	v.Add("downloaded", "0")
	v.Add("left", strconv.Itoa(synthesizedLeft))
	v.Add("compact", "1")
	if entry.State != bittorrent.EventNone {
		v.Add("event", string(entry.State))
	}

	req := bittorrent.ParseAnnounce(v, addr)
	if !req.Valid() {
		return nil, fmt.Errorf("peer %q: %s", entry.PeerID, req.Response.FailureReason)
	}
	return req, nil
}

// Bridge drives validated requests through the DHT proxy and the sink.
// It holds no state of its own and is safe for concurrent use as long as
// the proxy and the sink are.
type Bridge struct {
	proxy  dht.Proxy
	sink   EventSink
	logger *zap.Logger
}

// NewBridge wires a proxy to a sink.
func NewBridge(proxy dht.Proxy, sink EventSink, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{proxy: proxy, sink: sink, logger: logger}
}

// Announce replays every DHT-known peer of the swarm into the sink,
// registers req's peer in the DHT, then lets the sink answer req. A
// returned error comes from the proxy and leaves req's response untouched.
func (b *Bridge) Announce(ctx context.Context, req *bittorrent.AnnounceRequest) error {
	logger := b.logger.With(zap.Stringer("info_hash", req.InfoHash), zap.String("peer_id", req.PeerID))

	entries, err := b.proxy.LookupPeers(ctx, req.InfoHash)
	if err != nil {
		return fmt.Errorf("lookup peers: %w", err)
	}

	replayed := 0
	for _, entry := range entries {
		synth, err := SynthesizeAnnounce(req.InfoHash, entry)
		if err != nil {
			logger.Error("Skipping peer from DHT", zap.Error(err))
			continue
		}
		// The sink answers synth too; that response is never sent anywhere.
		b.sink.OnAnnounce(synth)
		replayed++
		logger.Debug("Replayed peer from DHT",
			zap.String("dht_peer", entry.PeerID),
			zap.Stringer("addr", synth.ClientAddr),
			zap.Stringer("event", synth.Event))
	}

	if err := b.proxy.RegisterPeer(ctx, req.InfoHash, req); err != nil {
		return fmt.Errorf("register peer: %w", err)
	}

	b.sink.OnAnnounce(req)
	logger.Info("Announce handled",
		zap.Int("dht_peers", len(entries)),
		zap.Int("replayed", replayed),
		zap.Int("returned_peers", len(req.Response.Peers)))
	return nil
}

// Scrape goes straight to the sink; the DHT holds no statistics.
func (b *Bridge) Scrape(req *bittorrent.ScrapeRequest) {
	b.sink.OnScrape(req)
	b.logger.Info("Scrape handled", zap.Int("hashes", len(req.InfoHashes)), zap.Int("files", len(req.Response.Files)))
}
