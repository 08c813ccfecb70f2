package bittorrent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/jackpal/bencode-go"
)

// AnnounceResponse is the tracker's reply to an announce.
type AnnounceResponse struct {
	FailureReason  string
	WarningMessage string
	Interval       time.Duration
	MinInterval    time.Duration
	TrackerID      string
	Complete       int
	Incomplete     int
	Peers          []Peer

	// Copied from the request so the encoder knows which peer format to use.
	Compact  bool
	NoPeerID bool
}

// ScrapeFile holds the statistics of one swarm.
type ScrapeFile struct {
	Complete   int
	Incomplete int
	Downloaded int
}

// ScrapeResponse is the tracker's reply to a scrape.
type ScrapeResponse struct {
	FailureReason string
	Files         map[InfoHash]ScrapeFile
}

// Failure returns the encoding of a bare failure response.
func Failure(reason string) []byte {
	var buf bytes.Buffer
	// A map of strings cannot fail to encode.
	_ = bencode.Marshal(&buf, map[string]interface{}{"failure reason": reason})
	return buf.Bytes()
}

// Encode writes the bencoded response.
func (r *AnnounceResponse) Encode(w io.Writer) error {
	if err := bencode.Marshal(w, r.dict()); err != nil {
		return fmt.Errorf("encode announce response: %w", err)
	}
	return nil
}

func (r *AnnounceResponse) dict() map[string]interface{} {
	if r.FailureReason != "" {
		return map[string]interface{}{"failure reason": r.FailureReason}
	}

	d := map[string]interface{}{
		"interval":   int64(r.Interval / time.Second),
		"complete":   int64(r.Complete),
		"incomplete": int64(r.Incomplete),
	}
	if r.MinInterval > 0 {
		d["min interval"] = int64(r.MinInterval / time.Second)
	}
	if r.TrackerID != "" {
		d["tracker id"] = r.TrackerID
	}
	if r.WarningMessage != "" {
		d["warning message"] = r.WarningMessage
	}

	if r.Compact {
		v4, v6 := compactPeers(r.Peers)
		d["peers"] = v4
		if v6 != "" {
			d["peers6"] = v6
		}
		return d
	}

	peers := make([]interface{}, 0, len(r.Peers))
	for _, p := range r.Peers {
		pd := map[string]interface{}{
			"ip":   p.Addr.String(),
			"port": int64(p.Port),
		}
		if !r.NoPeerID {
			pd["peer id"] = p.ID
		}
		peers = append(peers, pd)
	}
	d["peers"] = peers
	return d
}

// compactPeers packs IPv4 peers into 6-byte records and IPv6 peers into
// 18-byte records (BEP 23, BEP 7).
func compactPeers(peers []Peer) (v4, v6 string) {
	var b4, b6 []byte
	for _, p := range peers {
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], p.Port)
		addr := p.Addr.Unmap()
		switch {
		case addr.Is4():
			ip := addr.As4()
			b4 = append(append(b4, ip[:]...), port[:]...)
		case addr.Is6():
			ip := addr.As16()
			b6 = append(append(b6, ip[:]...), port[:]...)
		}
	}
	return string(b4), string(b6)
}

// Encode writes the bencoded response.
func (r *ScrapeResponse) Encode(w io.Writer) error {
	var d map[string]interface{}
	if r.FailureReason != "" {
		d = map[string]interface{}{"failure reason": r.FailureReason}
	} else {
		files := make(map[string]interface{}, len(r.Files))
		for h, f := range r.Files {
			files[string(h[:])] = map[string]interface{}{
				"complete":   int64(f.Complete),
				"incomplete": int64(f.Incomplete),
				"downloaded": int64(f.Downloaded),
			}
		}
		d = map[string]interface{}{"files": files}
	}
	if err := bencode.Marshal(w, d); err != nil {
		return fmt.Errorf("encode scrape response: %w", err)
	}
	return nil
}
