package main

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/dht"
	"dhtracker/internal/server"
	"dhtracker/internal/tracker"
)

func TestDecodePeers(t *testing.T) {
	tests := []struct {
		name string
		resp map[string]interface{}
		want []string
	}{
		{
			name: "compact",
			resp: map[string]interface{}{
				"peers":  "\x0a\x00\x00\x06\x1a\xe2",
				"peers6": "\x20\x01\x0d\xb8" + strings.Repeat("\x00", 11) + "\x01\x00\x50",
			},
			want: []string{"10.0.0.6:6882", "[2001:db8::1]:80"},
		},
		{
			name: "dictionaries",
			resp: map[string]interface{}{
				"peers": []interface{}{
					map[string]interface{}{"ip": "10.0.0.1", "port": int64(1), "peer id": "A"},
					map[string]interface{}{"ip": "10.0.0.2", "port": int64(2)},
				},
			},
			want: []string{"10.0.0.1:1 (A)", "10.0.0.2:2"},
		},
		{
			name: "none",
			resp: map[string]interface{}{},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePeers(tt.resp)
			if err != nil {
				t.Fatalf("decodePeers() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodePeers() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := decodePeers(map[string]interface{}{"peers": "12345"}); err == nil {
		t.Error("decodePeers() accepted a truncated compact list")
	}
}

func TestTrackerClientAgainstTracker(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bridge := server.NewBridge(dht.NewMemory(0), tracker.New(tracker.Options{}, logger), logger)
	srv := httptest.NewServer(server.NewHandler(bridge, "", logger))
	defer srv.Close()

	ctx := context.Background()
	client := NewTrackerClient(srv.URL + "/")
	hash := bittorrent.InfoHash{0xde, 0xad, 0xbe, 0xef}

	first := announceParams{infoHash: hash, peerID: newPeerID(), port: 6881, left: 10, event: bittorrent.EventStarted, numWant: -1, compact: true}
	if _, err := client.Announce(ctx, first); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	second := first
	second.peerID = newPeerID()
	second.port = 6882
	resp, err := client.Announce(ctx, second)
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	peers, err := decodePeers(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(peers, []string{"127.0.0.1:6881"}) {
		t.Errorf("peers = %q, want the first peer", peers)
	}

	scrape, err := client.Scrape(ctx, []bittorrent.InfoHash{hash})
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	files := scrape["files"].(map[string]interface{})
	stats := files[string(hash[:])].(map[string]interface{})
	if stats["incomplete"] != int64(2) {
		t.Errorf("scrape stats = %v", stats)
	}

	if _, err := client.Announce(ctx, announceParams{infoHash: hash, port: 1, numWant: -1}); err == nil ||
		!strings.Contains(err.Error(), "invalid peer_id") {
		t.Errorf("Announce() without peer id error = %v", err)
	}
}

func TestNewPeerID(t *testing.T) {
	id := newPeerID()
	if len(id) != 20 || !strings.HasPrefix(id, "-DT0001-") {
		t.Errorf("newPeerID() = %q", id)
	}
}
