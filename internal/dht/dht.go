// Package dht is the tracker's view of the distributed peer directory.
//
// The tracker never speaks a DHT routing protocol itself. It goes through a
// Proxy, which is either an in-process store or a remote dictionary service
// reached over HTTP or HTTP/3.
package dht

import (
	"context"
	"errors"
	"fmt"

	"dhtracker/internal/bittorrent"
)

// PeerEntry is the DHT-resident record of one peer in one swarm.
type PeerEntry struct {
	PeerID string           `bencode:"peer id" mapstructure:"peer id"`
	IP     string           `bencode:"ip" mapstructure:"ip"`
	Port   int              `bencode:"port" mapstructure:"port"`
	State  bittorrent.Event `bencode:"state" mapstructure:"state"`
}

// EntryFromAnnounce is the record a registration stores for req.
func EntryFromAnnounce(req *bittorrent.AnnounceRequest) PeerEntry {
	return PeerEntry{
		PeerID: req.PeerID,
		IP:     req.ClientAddr.String(),
		Port:   int(req.Port),
		State:  req.Event,
	}
}

// Proxy looks up and registers peers. Implementations must be safe for
// concurrent use and must not block forever.
type Proxy interface {
	// LookupPeers returns the swarm's known peers in directory order.
	LookupPeers(ctx context.Context, infoHash bittorrent.InfoHash) ([]PeerEntry, error)

	// RegisterPeer upserts the announcing peer, keyed by info hash and peer
	// id. Repeated registrations overwrite the previous entry.
	RegisterPeer(ctx context.Context, infoHash bittorrent.InfoHash, req *bittorrent.AnnounceRequest) error
}

// ErrResource classifies failures of an external resource. Every *Error
// matches it with errors.Is.
var ErrResource = errors.New("resource unavailable")

// Error is returned by proxies when the directory cannot serve a request.
type Error struct {
	Op       string
	InfoHash bittorrent.InfoHash
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dht %s %s: %v", e.Op, e.InfoHash, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrResource }
