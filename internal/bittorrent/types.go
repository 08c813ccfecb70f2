package bittorrent

import (
	"encoding/hex"
	"fmt"
	"net/netip"
)

// InfoHash is the 20-byte SHA-1 of a torrent's info dictionary.
type InfoHash [20]byte

// NewInfoHash copies b into an InfoHash. b must be exactly 20 bytes long.
func NewInfoHash(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != len(h) {
		return h, fmt.Errorf("info hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseInfoHashHex decodes a 40-character hex string.
func ParseInfoHashHex(s string) (InfoHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex info hash: %w", err)
	}
	return NewInfoHash(b)
}

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

// Event is the optional announce event reported by a client.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// ParseEvent maps the wire vocabulary onto Event. "none" and "empty" are
// accepted as synonyms of an absent event.
func ParseEvent(s string) (Event, error) {
	switch s {
	case "", "none", "empty":
		return EventNone, nil
	case string(EventStarted):
		return EventStarted, nil
	case string(EventStopped):
		return EventStopped, nil
	case string(EventCompleted):
		return EventCompleted, nil
	default:
		return EventNone, fmt.Errorf("unknown event %q", s)
	}
}

func (e Event) String() string {
	if e == EventNone {
		return "none"
	}
	return string(e)
}

// Peer is one entry of an announce response's peer list.
type Peer struct {
	ID   string
	Addr netip.Addr
	Port uint16
}
