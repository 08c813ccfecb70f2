package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"reflect"
	"sync"
	"testing"

	"github.com/jackpal/bencode-go"
	"go.uber.org/zap/zaptest"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/dht"
)

var testHash = bittorrent.InfoHash{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't'}

// callLog records proxy and sink calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeProxy struct {
	log         *callLog
	entries     []dht.PeerEntry
	lookupErr   error
	registerErr error
}

func (p *fakeProxy) LookupPeers(ctx context.Context, infoHash bittorrent.InfoHash) ([]dht.PeerEntry, error) {
	p.log.add("lookup")
	return p.entries, p.lookupErr
}

func (p *fakeProxy) RegisterPeer(ctx context.Context, infoHash bittorrent.InfoHash, req *bittorrent.AnnounceRequest) error {
	p.log.add("register " + req.PeerID)
	return p.registerErr
}

type fakeSink struct {
	log       *callLog
	announces []*bittorrent.AnnounceRequest
	scrapes   []*bittorrent.ScrapeRequest
	panicOn   string
}

func (s *fakeSink) OnAnnounce(req *bittorrent.AnnounceRequest) {
	s.log.add("sink " + req.PeerID)
	if s.panicOn != "" && req.PeerID == s.panicOn {
		panic("sink exploded")
	}
	s.announces = append(s.announces, req)
}

func (s *fakeSink) OnScrape(req *bittorrent.ScrapeRequest) {
	s.log.add("scrape")
	s.scrapes = append(s.scrapes, req)
	req.Response.Files = map[bittorrent.InfoHash]bittorrent.ScrapeFile{}
}

func newFakes(entries ...dht.PeerEntry) (*callLog, *fakeProxy, *fakeSink) {
	log := &callLog{}
	return log, &fakeProxy{log: log, entries: entries}, &fakeSink{log: log}
}

func selfAnnounce(peerID string) *bittorrent.AnnounceRequest {
	return &bittorrent.AnnounceRequest{
		InfoHash:   testHash,
		PeerID:     peerID,
		Port:       6881,
		Left:       100,
		NumWant:    -1,
		ClientAddr: netip.MustParseAddr("10.0.0.5"),
	}
}

func TestSynthesizeAnnounce(t *testing.T) {
	tests := []struct {
		name  string
		entry dht.PeerEntry
		want  bittorrent.AnnounceRequest
	}{
		{
			name:  "started",
			entry: dht.PeerEntry{PeerID: "P2", IP: "10.0.0.6", Port: 6882, State: bittorrent.EventStarted},
			want: bittorrent.AnnounceRequest{
				InfoHash: testHash, PeerID: "P2", Port: 6882, Left: 1000, Compact: true,
				Event: bittorrent.EventStarted, NumWant: -1, ClientAddr: netip.MustParseAddr("10.0.0.6"),
				Response: bittorrent.AnnounceResponse{Compact: true},
			},
		},
		{
			name:  "no state and reserved characters in peer id",
			entry: dht.PeerEntry{PeerID: "a&b=c", IP: "2001:db8::7", Port: 1, State: bittorrent.EventNone},
			want: bittorrent.AnnounceRequest{
				InfoHash: testHash, PeerID: "a&b=c", Port: 1, Left: 1000, Compact: true,
				NumWant: -1, ClientAddr: netip.MustParseAddr("2001:db8::7"),
				Response: bittorrent.AnnounceResponse{Compact: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SynthesizeAnnounce(testHash, tt.entry)
			if err != nil {
				t.Fatalf("SynthesizeAnnounce() error = %v", err)
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("SynthesizeAnnounce() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestSynthesizeAnnounceRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry dht.PeerEntry
	}{
		{"bad ip", dht.PeerEntry{PeerID: "P", IP: "not-an-ip", Port: 1}},
		{"port zero", dht.PeerEntry{PeerID: "P", IP: "10.0.0.1", Port: 0}},
		{"port too large", dht.PeerEntry{PeerID: "P", IP: "10.0.0.1", Port: 70000}},
		{"empty peer id", dht.PeerEntry{IP: "10.0.0.1", Port: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := SynthesizeAnnounce(testHash, tt.entry); err == nil {
				t.Errorf("SynthesizeAnnounce() = %+v, want error", got)
			}
		})
	}
}

func TestBridgeAnnounceOrdering(t *testing.T) {
	a := dht.PeerEntry{PeerID: "A", IP: "10.0.0.1", Port: 1}
	b := dht.PeerEntry{PeerID: "B", IP: "10.0.0.2", Port: 2}
	tests := []struct {
		name    string
		entries []dht.PeerEntry
		want    []string
	}{
		{"two peers", []dht.PeerEntry{a, b}, []string{"lookup", "sink A", "sink B", "register S", "sink S"}},
		{"duplicates pass through", []dht.PeerEntry{a, a, b}, []string{"lookup", "sink A", "sink A", "sink B", "register S", "sink S"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, proxy, sink := newFakes(tt.entries...)
			b := NewBridge(proxy, sink, zaptest.NewLogger(t))

			if err := b.Announce(context.Background(), selfAnnounce("S")); err != nil {
				t.Fatalf("Announce() error = %v", err)
			}
			if got := log.get(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %q, want %q", got, tt.want)
			}
		})
	}
}

// remoteWithBody serves body for every lookup and records registrations.
func remoteWithBody(t *testing.T, log *callLog, body []interface{}) dht.Proxy {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			log.add("register")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.add("lookup")
		bencode.Marshal(w, body)
	}))
	t.Cleanup(srv.Close)
	return dht.NewRemote(srv.URL, srv.Client(), zaptest.NewLogger(t))
}

func TestBridgeRemoteSkipsMalformedEntries(t *testing.T) {
	log := &callLog{}
	proxy := remoteWithBody(t, log, []interface{}{
		map[string]interface{}{"peer id": "A", "ip": "10.0.0.1", "port": int64(1), "state": "started"},
		map[string]interface{}{"peer id": "B", "ip": "10.0.0.2", "port": int64(2), "state": "paused"},
	})
	sink := &fakeSink{log: log}

	self := selfAnnounce("S")
	if err := NewBridge(proxy, sink, zaptest.NewLogger(t)).Announce(context.Background(), self); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	want := []string{"lookup", "sink A", "register", "sink S"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
	if sink.announces[0].Event != bittorrent.EventStarted {
		t.Errorf("replayed A with event %v, want started", sink.announces[0].Event)
	}
}

func TestBridgeSkipsBadEntries(t *testing.T) {
	log, proxy, sink := newFakes(
		dht.PeerEntry{PeerID: "A", IP: "10.0.0.1", Port: 1},
		dht.PeerEntry{PeerID: "B", IP: "999.1.1.1", Port: 2},
		dht.PeerEntry{PeerID: "C", IP: "10.0.0.3", Port: 3},
	)
	b := NewBridge(proxy, sink, zaptest.NewLogger(t))

	if err := b.Announce(context.Background(), selfAnnounce("S")); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	want := []string{"lookup", "sink A", "sink C", "register S", "sink S"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestBridgeEmptySwarm(t *testing.T) {
	log, proxy, sink := newFakes()
	b := NewBridge(proxy, sink, nil)

	if err := b.Announce(context.Background(), selfAnnounce("S")); err != nil {
		t.Fatal(err)
	}
	want := []string{"lookup", "register S", "sink S"}
	if got := log.get(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestBridgeProxyFailures(t *testing.T) {
	dhtErr := &dht.Error{Op: "lookup", InfoHash: testHash, Err: errors.New("timeout")}

	log, proxy, sink := newFakes(dht.PeerEntry{PeerID: "A", IP: "10.0.0.1", Port: 1})
	proxy.lookupErr = dhtErr
	err := NewBridge(proxy, sink, nil).Announce(context.Background(), selfAnnounce("S"))
	if !errors.Is(err, dht.ErrResource) {
		t.Errorf("Announce() error = %v, want ErrResource", err)
	}
	if got, want := log.get(), []string{"lookup"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls after lookup failure = %q, want %q", got, want)
	}

	log, proxy, sink = newFakes(dht.PeerEntry{PeerID: "A", IP: "10.0.0.1", Port: 1})
	proxy.registerErr = &dht.Error{Op: "register", InfoHash: testHash, Err: errors.New("refused")}
	err = NewBridge(proxy, sink, nil).Announce(context.Background(), selfAnnounce("S"))
	if !errors.Is(err, dht.ErrResource) {
		t.Errorf("Announce() error = %v, want ErrResource", err)
	}
	if got, want := log.get(), []string{"lookup", "sink A", "register S"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls after register failure = %q, want %q", got, want)
	}
}

func TestBridgeScrapeSkipsProxy(t *testing.T) {
	log, proxy, sink := newFakes()
	NewBridge(proxy, sink, nil).Scrape(&bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testHash}})
	if got, want := log.get(), []string{"scrape"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}
