package dht

import (
	"context"
	"sync"
	"time"

	"dhtracker/internal/bittorrent"
)

type memoryEntry struct {
	PeerEntry
	updated time.Time
}

// Memory is an in-process Proxy. Entries keep the position of their first
// registration; later registrations of the same peer replace them in place.
type Memory struct {
	mu     sync.Mutex
	swarms map[bittorrent.InfoHash][]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewMemory creates an empty store. Entries older than ttl are hidden from
// lookups and pruned; a zero ttl keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		swarms: make(map[bittorrent.InfoHash][]memoryEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *Memory) LookupPeers(ctx context.Context, infoHash bittorrent.InfoHash) ([]PeerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "lookup", InfoHash: infoHash, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.prune(infoHash)
	peers := make([]PeerEntry, 0, len(entries))
	for _, e := range entries {
		peers = append(peers, e.PeerEntry)
	}
	return peers, nil
}

func (m *Memory) RegisterPeer(ctx context.Context, infoHash bittorrent.InfoHash, req *bittorrent.AnnounceRequest) error {
	return m.Put(ctx, infoHash, EntryFromAnnounce(req))
}

// Put upserts entry. It is the storage primitive behind RegisterPeer and
// the proxy daemon's PUT endpoint.
func (m *Memory) Put(ctx context.Context, infoHash bittorrent.InfoHash, entry PeerEntry) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "register", InfoHash: infoHash, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{PeerEntry: entry, updated: m.now()}
	entries := m.prune(infoHash)
	for i := range entries {
		if entries[i].PeerID == entry.PeerID {
			entries[i] = e
			return nil
		}
	}
	m.swarms[infoHash] = append(entries, e)
	return nil
}

// Len returns the number of live entries for infoHash.
func (m *Memory) Len(infoHash bittorrent.InfoHash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prune(infoHash))
}

// prune drops expired entries of one swarm. Callers hold m.mu.
func (m *Memory) prune(infoHash bittorrent.InfoHash) []memoryEntry {
	entries := m.swarms[infoHash]
	if m.ttl <= 0 {
		return entries
	}

	cutoff := m.now().Add(-m.ttl)
	live := entries[:0]
	for _, e := range entries {
		if e.updated.After(cutoff) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(m.swarms, infoHash)
		return nil
	}
	m.swarms[infoHash] = live
	return live
}
