package dht

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jackpal/bencode-go"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/common"
)

// Remote is a Proxy backed by a DHT proxy daemon. Entries travel as
// bencoded dictionaries under /peers/{hex info hash}.
type Remote struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewRemote talks to the daemon at baseURL (scheme://host:port) with
// client. The client's timeout bounds every call.
func NewRemote(baseURL string, client *http.Client, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{baseURL: baseURL, client: client, logger: logger}
}

func newQUICClient(cfg Config) (*http.Client, error) {
	tlsConfig, err := common.GenerateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("could not generate TLS config for client: %w", err)
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http3.RoundTripper{
			TLSClientConfig: tlsConfig,
		},
	}, nil
}

func (r *Remote) peersURL(infoHash bittorrent.InfoHash) string {
	return r.baseURL + "/peers/" + infoHash.String()
}

func (r *Remote) LookupPeers(ctx context.Context, infoHash bittorrent.InfoHash) ([]PeerEntry, error) {
	fail := func(err error) error { return &Error{Op: "lookup", InfoHash: infoHash, Err: err} }

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.peersURL(infoHash), nil)
	if err != nil {
		return nil, fail(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []PeerEntry{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fail(fmt.Errorf("proxy returned %s", resp.Status))
	}

	raw, err := bencode.Decode(resp.Body)
	if err != nil {
		return nil, fail(fmt.Errorf("decode response: %w", err))
	}
	entries, err := decodeEntries(raw, func(index int, err error) {
		r.logger.Error("Skipping malformed peer entry",
			zap.Stringer("info_hash", infoHash), zap.Int("index", index), zap.Error(err))
	})
	if err != nil {
		return nil, fail(err)
	}
	r.logger.Debug("Looked up peers", zap.Stringer("info_hash", infoHash), zap.Int("count", len(entries)))
	return entries, nil
}

func (r *Remote) RegisterPeer(ctx context.Context, infoHash bittorrent.InfoHash, announce *bittorrent.AnnounceRequest) error {
	fail := func(err error) error { return &Error{Op: "register", InfoHash: infoHash, Err: err} }

	var body bytes.Buffer
	if err := bencode.Marshal(&body, EntryFromAnnounce(announce)); err != nil {
		return fail(fmt.Errorf("encode entry: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.peersURL(infoHash), &body)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := r.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("proxy returned %s", resp.Status))
	}
	return nil
}
