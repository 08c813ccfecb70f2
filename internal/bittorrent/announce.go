package bittorrent

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"

	"dhtracker/internal/query"
)

// AnnounceRequest is a parsed announce, either received from a client or
// synthesized from a DHT entry. Response is filled in by the event sink.
type AnnounceRequest struct {
	InfoHash   InfoHash
	PeerID     string
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Compact    bool
	NoPeerID   bool
	Event      Event
	NumWant    int // -1 when the client did not ask for a specific count
	Key        string
	ClientAddr netip.Addr

	Response AnnounceResponse
}

// ParseAnnounce builds an AnnounceRequest from raw query values. It never
// fails: when a field is missing or malformed the returned request carries
// a failure reason in its Response and Valid reports false.
func ParseAnnounce(v query.Values, addr netip.Addr) *AnnounceRequest {
	req := &AnnounceRequest{ClientAddr: addr.Unmap(), NumWant: -1}
	if err := req.parse(v); err != nil {
		req.Response.FailureReason = err.Error()
	}
	req.Response.Compact = req.Compact
	req.Response.NoPeerID = req.NoPeerID
	return req
}

// Valid reports whether the request passed validation.
func (r *AnnounceRequest) Valid() bool {
	return r.Response.FailureReason == ""
}

// Seeding reports whether the peer has the complete content.
func (r *AnnounceRequest) Seeding() bool {
	return r.Left == 0
}

func (r *AnnounceRequest) parse(v query.Values) error {
	var err error

	if r.InfoHash, err = infoHashField(v, "info_hash"); err != nil {
		return err
	}
	if r.PeerID, err = stringField(v, "peer_id"); err != nil {
		return err
	}
	if r.PeerID == "" {
		return errors.New("invalid peer_id")
	}

	port, err := intField(v, "port")
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return errors.New("invalid port")
	}
	r.Port = uint16(port)

	if r.Uploaded, err = intField(v, "uploaded"); err != nil {
		return err
	}
	if r.Downloaded, err = intField(v, "downloaded"); err != nil {
		return err
	}
	if r.Left, err = intField(v, "left"); err != nil {
		return err
	}

	r.Compact = flagField(v, "compact")
	r.NoPeerID = flagField(v, "no_peer_id")

	if raw, ok := v.Get("event"); ok {
		if r.Event, err = ParseEvent(raw); err != nil {
			return errors.New("invalid event")
		}
	}
	if v.Has("numwant") {
		n, err := intField(v, "numwant")
		if err != nil {
			return err
		}
		r.NumWant = int(n)
	}
	if v.Has("key") {
		if r.Key, err = stringField(v, "key"); err != nil {
			return err
		}
	}

	if !r.ClientAddr.IsValid() {
		return errors.New("invalid client address")
	}
	return nil
}

func stringField(v query.Values, key string) (string, error) {
	raw, ok := v.Get(key)
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s", key)
	}
	return s, nil
}

func intField(v query.Values, key string) (int64, error) {
	s, err := stringField(v, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func flagField(v query.Values, key string) bool {
	s, ok := v.Get(key)
	return ok && s == "1"
}

func infoHashField(v query.Values, key string) (InfoHash, error) {
	s, err := stringField(v, key)
	if err != nil {
		return InfoHash{}, err
	}
	return decodeInfoHash(s, key)
}

func decodeInfoHash(s, key string) (InfoHash, error) {
	h, err := NewInfoHash([]byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid %s", key)
	}
	return h, nil
}
