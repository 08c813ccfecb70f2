package tracker

import (
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"dhtracker/internal/bittorrent"
)

var hashA = bittorrent.InfoHash{0xaa}
var hashB = bittorrent.InfoHash{0xbb}

func announce(h bittorrent.InfoHash, peerID string, left int64, event bittorrent.Event) *bittorrent.AnnounceRequest {
	return &bittorrent.AnnounceRequest{
		InfoHash:   h,
		PeerID:     peerID,
		Port:       6881,
		Left:       left,
		Event:      event,
		NumWant:    -1,
		ClientAddr: netip.MustParseAddr("10.0.0.1"),
	}
}

func TestOnAnnounceCounts(t *testing.T) {
	tr := New(Options{}, zaptest.NewLogger(t))

	tr.OnAnnounce(announce(hashA, "seed", 0, bittorrent.EventStarted))
	tr.OnAnnounce(announce(hashA, "leech1", 100, bittorrent.EventStarted))
	req := announce(hashA, "leech2", 50, bittorrent.EventNone)
	tr.OnAnnounce(req)

	resp := req.Response
	if resp.Complete != 1 || resp.Incomplete != 2 {
		t.Errorf("complete/incomplete = %d/%d, want 1/2", resp.Complete, resp.Incomplete)
	}
	if resp.Interval != DefaultInterval || resp.MinInterval != DefaultMinInterval {
		t.Errorf("intervals = %v/%v", resp.Interval, resp.MinInterval)
	}
	if len(resp.Peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(resp.Peers))
	}
	for _, p := range resp.Peers {
		if p.ID == "leech2" {
			t.Error("requester returned in its own peer list")
		}
	}
}

func TestOnAnnounceSeederGetsNoSeeders(t *testing.T) {
	tr := New(Options{}, nil)
	tr.OnAnnounce(announce(hashA, "seed1", 0, bittorrent.EventNone))
	tr.OnAnnounce(announce(hashA, "leech", 10, bittorrent.EventNone))

	req := announce(hashA, "seed2", 0, bittorrent.EventNone)
	tr.OnAnnounce(req)
	if len(req.Response.Peers) != 1 || req.Response.Peers[0].ID != "leech" {
		t.Errorf("peers = %+v, want only the leecher", req.Response.Peers)
	}
}

func TestOnAnnounceNumWant(t *testing.T) {
	tr := New(Options{MaxPeers: 3}, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tr.OnAnnounce(announce(hashA, id, 1, bittorrent.EventNone))
	}

	req := announce(hashA, "x", 1, bittorrent.EventNone)
	tr.OnAnnounce(req)
	if len(req.Response.Peers) != 3 {
		t.Errorf("got %d peers, want MaxPeers 3", len(req.Response.Peers))
	}

	req = announce(hashA, "y", 1, bittorrent.EventNone)
	req.NumWant = 1
	tr.OnAnnounce(req)
	if len(req.Response.Peers) != 1 {
		t.Errorf("got %d peers, want numwant 1", len(req.Response.Peers))
	}

	req = announce(hashA, "z", 1, bittorrent.EventNone)
	req.NumWant = 0
	tr.OnAnnounce(req)
	if len(req.Response.Peers) != 0 {
		t.Errorf("got %d peers, want none for numwant 0", len(req.Response.Peers))
	}
}

func TestStoppedAndCompleted(t *testing.T) {
	tr := New(Options{}, nil)
	tr.OnAnnounce(announce(hashA, "p1", 10, bittorrent.EventStarted))
	tr.OnAnnounce(announce(hashA, "p1", 0, bittorrent.EventCompleted))

	scrape := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{hashA}}
	tr.OnScrape(scrape)
	if got := scrape.Response.Files[hashA]; got != (bittorrent.ScrapeFile{Complete: 1, Downloaded: 1}) {
		t.Errorf("after completed: %+v", got)
	}

	stop := announce(hashA, "p1", 0, bittorrent.EventStopped)
	tr.OnAnnounce(stop)
	if len(stop.Response.Peers) != 0 {
		t.Errorf("stopped peer received %d peers", len(stop.Response.Peers))
	}
	if got := tr.Peers(hashA); len(got) != 0 {
		t.Errorf("Peers() = %+v after stop", got)
	}

	tr.OnScrape(scrape)
	if got := scrape.Response.Files[hashA]; got != (bittorrent.ScrapeFile{Downloaded: 1}) {
		t.Errorf("after stopped: %+v", got)
	}
}

func TestCompletedCountsOncePerPeer(t *testing.T) {
	tr := New(Options{}, nil)
	// A completed DHT peer is replayed on every lookup.
	for i := 0; i < 3; i++ {
		tr.OnAnnounce(announce(hashA, "p1", 1000, bittorrent.EventCompleted))
	}
	tr.OnAnnounce(announce(hashA, "p2", 0, bittorrent.EventCompleted))

	scrape := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{hashA}}
	tr.OnScrape(scrape)
	if got := scrape.Response.Files[hashA].Downloaded; got != 2 {
		t.Errorf("Downloaded = %d, want 2", got)
	}
}

func TestOnScrapeAll(t *testing.T) {
	tr := New(Options{}, nil)
	tr.OnAnnounce(announce(hashA, "p1", 0, bittorrent.EventNone))
	tr.OnAnnounce(announce(hashB, "p2", 5, bittorrent.EventNone))

	req := &bittorrent.ScrapeRequest{}
	tr.OnScrape(req)
	if len(req.Response.Files) != 2 {
		t.Fatalf("files = %+v, want both swarms", req.Response.Files)
	}
	if req.Response.Files[hashB].Incomplete != 1 {
		t.Errorf("hashB = %+v", req.Response.Files[hashB])
	}

	unknown := &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{{0xcc}}}
	tr.OnScrape(unknown)
	if got, ok := unknown.Response.Files[bittorrent.InfoHash{0xcc}]; !ok || got != (bittorrent.ScrapeFile{}) {
		t.Errorf("unknown swarm = %+v, %v", got, ok)
	}
}

func TestCleanupStalePeers(t *testing.T) {
	now := time.Unix(5000, 0)
	tr := New(Options{PeerTTL: time.Minute}, zaptest.NewLogger(t))
	tr.now = func() time.Time { return now }

	tr.OnAnnounce(announce(hashA, "old", 1, bittorrent.EventNone))
	now = now.Add(50 * time.Second)
	tr.OnAnnounce(announce(hashA, "fresh", 1, bittorrent.EventNone))
	now = now.Add(20 * time.Second)

	if removed := tr.cleanupStalePeers(); removed != 1 {
		t.Errorf("cleanupStalePeers() = %d, want 1", removed)
	}
	peers := tr.Peers(hashA)
	if len(peers) != 1 || peers[0].ID != "fresh" {
		t.Errorf("Peers() = %+v", peers)
	}
}
