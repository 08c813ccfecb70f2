// Package tracker keeps per-swarm peer bookkeeping and answers announces
// and scrapes from it.
package tracker

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"dhtracker/internal/bittorrent"
)

// Peer is the tracker's record of one peer in a swarm.
type Peer struct {
	ID         string
	Addr       netip.Addr
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	LastSeen   time.Time
}

type swarm struct {
	peers map[string]*Peer // peer id -> peer
	// Peer ids that announced completion. DHT peers in the completed state
	// are replayed on every lookup, so each id counts once.
	completed map[string]struct{}
}

func (s *swarm) downloaded() int { return len(s.completed) }

func (s *swarm) counts() (complete, incomplete int) {
	for _, p := range s.peers {
		if p.Left == 0 {
			complete++
		} else {
			incomplete++
		}
	}
	return complete, incomplete
}

// Options tune a Tracker. Zero values fall back to the defaults below.
type Options struct {
	Interval    time.Duration
	MinInterval time.Duration
	MaxPeers    int
	PeerTTL     time.Duration
}

const (
	DefaultInterval    = 30 * time.Minute
	DefaultMinInterval = time.Minute
	DefaultMaxPeers    = 50
	DefaultPeerTTL     = 45 * time.Minute
)

// Tracker holds the state of every swarm. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	swarms map[bittorrent.InfoHash]*swarm
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tracker with no swarms.
func New(opts Options, logger *zap.Logger) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = DefaultMaxPeers
	}
	if opts.PeerTTL <= 0 {
		opts.PeerTTL = DefaultPeerTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		swarms: make(map[bittorrent.InfoHash]*swarm),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// OnAnnounce records req in its swarm and fills req.Response with the
// swarm's counters and up to numwant other peers.
func (t *Tracker) OnAnnounce(req *bittorrent.AnnounceRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.swarms[req.InfoHash]
	if !ok {
		s = &swarm{peers: make(map[string]*Peer), completed: make(map[string]struct{})}
		t.swarms[req.InfoHash] = s
	}

	if req.Event == bittorrent.EventStopped {
		delete(s.peers, req.PeerID)
	} else {
		s.peers[req.PeerID] = &Peer{
			ID:         req.PeerID,
			Addr:       req.ClientAddr,
			Port:       req.Port,
			Uploaded:   req.Uploaded,
			Downloaded: req.Downloaded,
			Left:       req.Left,
			LastSeen:   t.now(),
		}
	}
	if req.Event == bittorrent.EventCompleted {
		s.completed[req.PeerID] = struct{}{}
	}

	resp := &req.Response
	resp.Interval = t.opts.Interval
	resp.MinInterval = t.opts.MinInterval
	resp.Complete, resp.Incomplete = s.counts()
	resp.Peers = t.peerList(s, req)

	if len(s.peers) == 0 && s.downloaded() == 0 {
		delete(t.swarms, req.InfoHash)
	}

	t.logger.Debug("Announce recorded",
		zap.Stringer("info_hash", req.InfoHash),
		zap.String("peer_id", req.PeerID),
		zap.Stringer("event", req.Event),
		zap.Int("complete", resp.Complete),
		zap.Int("incomplete", resp.Incomplete),
		zap.Int("peers", len(resp.Peers)))
}

// peerList picks the peers returned to req, never including req itself.
// Seeders get no other seeders. Callers hold t.mu.
func (t *Tracker) peerList(s *swarm, req *bittorrent.AnnounceRequest) []bittorrent.Peer {
	if req.Event == bittorrent.EventStopped {
		return nil
	}
	want := t.opts.MaxPeers
	if req.NumWant >= 0 && req.NumWant < want {
		want = req.NumWant
	}

	peers := make([]bittorrent.Peer, 0, min(want, len(s.peers)))
	for id, p := range s.peers {
		if len(peers) >= want {
			break
		}
		if id == req.PeerID || (req.Seeding() && p.Left == 0) {
			continue
		}
		peers = append(peers, bittorrent.Peer{ID: p.ID, Addr: p.Addr, Port: p.Port})
	}
	return peers
}

// OnScrape fills req.Response with statistics for the requested swarms, or
// for every swarm when none were named. Unknown swarms report zeros.
func (t *Tracker) OnScrape(req *bittorrent.ScrapeRequest) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	files := make(map[bittorrent.InfoHash]bittorrent.ScrapeFile)
	stat := func(h bittorrent.InfoHash) bittorrent.ScrapeFile {
		s, ok := t.swarms[h]
		if !ok {
			return bittorrent.ScrapeFile{}
		}
		complete, incomplete := s.counts()
		return bittorrent.ScrapeFile{Complete: complete, Incomplete: incomplete, Downloaded: s.downloaded()}
	}

	if len(req.InfoHashes) == 0 {
		for h := range t.swarms {
			files[h] = stat(h)
		}
	} else {
		for _, h := range req.InfoHashes {
			files[h] = stat(h)
		}
	}
	req.Response.Files = files
}

// Peers returns a snapshot of one swarm's peers.
func (t *Tracker) Peers(infoHash bittorrent.InfoHash) []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.swarms[infoHash]
	if !ok {
		return nil
	}
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	return out
}

// Run removes peers that have not announced within the peer TTL until ctx
// is cancelled.
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.cleanupStalePeers()
		}
	}
}

func (t *Tracker) cleanupStalePeers() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := t.now().Add(-t.opts.PeerTTL)
	for infoHash, s := range t.swarms {
		for peerID, p := range s.peers {
			if p.LastSeen.Before(cutoff) {
				t.logger.Debug("Removing stale peer", zap.String("peer_id", peerID), zap.Stringer("info_hash", infoHash))
				delete(s.peers, peerID)
				removed++
			}
		}
		if len(s.peers) == 0 && s.downloaded() == 0 {
			delete(t.swarms, infoHash)
		}
	}
	if removed > 0 {
		t.logger.Info("Cleanup removed stale peers", zap.Int("removed", removed))
	}
	return removed
}
