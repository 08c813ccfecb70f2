package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackpal/bencode-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dhtracker/internal/bittorrent"
	"dhtracker/internal/common"
	"dhtracker/internal/discovery"
)

func init() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

// TrackerClient sends announces and scrapes to one tracker.
type TrackerClient struct {
	baseURL string
	client  *http.Client
}

func NewTrackerClient(trackerURL string) *TrackerClient {
	return &TrackerClient{
		baseURL: strings.TrimSuffix(trackerURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// newPeerID builds an Azureus-style 20 byte peer id.
func newPeerID() string {
	return "-DT0001-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (c *TrackerClient) get(ctx context.Context, path string, params []string) (map[string]interface{}, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + strings.Join(params, "&")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := bencode.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker answered %s with an undecodable body: %w", resp.Status, err)
	}
	dict, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("tracker answered %s with a non-dictionary body", resp.Status)
	}
	if reason, ok := dict["failure reason"].(string); ok {
		return nil, fmt.Errorf("tracker failure (%s): %s", resp.Status, reason)
	}
	return dict, nil
}

type announceParams struct {
	infoHash bittorrent.InfoHash
	peerID   string
	port     int
	left     int64
	event    bittorrent.Event
	numWant  int
	compact  bool
}

func (c *TrackerClient) Announce(ctx context.Context, p announceParams) (map[string]interface{}, error) {
	params := []string{
		"info_hash=" + url.QueryEscape(string(p.infoHash[:])),
		"peer_id=" + url.QueryEscape(p.peerID),
		"port=" + strconv.Itoa(p.port),
		"uploaded=0",
		"downloaded=0",
		"left=" + strconv.FormatInt(p.left, 10),
	}
	if p.compact {
		params = append(params, "compact=1")
	}
	if p.event != bittorrent.EventNone {
		params = append(params, "event="+string(p.event))
	}
	if p.numWant >= 0 {
		params = append(params, "numwant="+strconv.Itoa(p.numWant))
	}
	return c.get(ctx, "/announce", params)
}

func (c *TrackerClient) Scrape(ctx context.Context, hashes []bittorrent.InfoHash) (map[string]interface{}, error) {
	params := make([]string, 0, len(hashes))
	for _, h := range hashes {
		params = append(params, "info_hash="+url.QueryEscape(string(h[:])))
	}
	return c.get(ctx, "/scrape", params)
}

func main() {
	logger := zap.L()

	announceCmd := flag.NewFlagSet("announce", flag.ExitOnError)
	announceTracker := announceCmd.String("tracker", "", "tracker URL (discovered over mDNS when empty)")
	announcePort := announceCmd.Int("port", 6881, "port to announce")
	announceLeft := announceCmd.Int64("left", 0, "bytes left to download")
	announceEvent := announceCmd.String("event", "started", "started, stopped, completed or none")
	announcePeerID := announceCmd.String("peer-id", "", "peer id (random when empty)")
	announceNumWant := announceCmd.Int("numwant", -1, "number of peers wanted")
	announceCompact := announceCmd.Bool("compact", true, "ask for compact peer lists")

	scrapeCmd := flag.NewFlagSet("scrape", flag.ExitOnError)
	scrapeTracker := scrapeCmd.String("tracker", "", "tracker URL (discovered over mDNS when empty)")

	if len(os.Args) < 2 {
		fmt.Println("Usage: client <announce|scrape> [options] <hex info hash>...")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "announce":
		announceCmd.Parse(os.Args[2:])
		if announceCmd.NArg() != 1 {
			logger.Fatal("announce requires exactly one info hash")
		}
		infoHash, err := bittorrent.ParseInfoHashHex(announceCmd.Arg(0))
		if err != nil {
			logger.Fatal("Invalid info hash", zap.Error(err))
		}
		event, err := bittorrent.ParseEvent(*announceEvent)
		if err != nil {
			logger.Fatal("Invalid event", zap.Error(err))
		}
		peerID := *announcePeerID
		if peerID == "" {
			peerID = newPeerID()
		}

		client := NewTrackerClient(trackerURL(ctx, *announceTracker))
		resp, err := client.Announce(ctx, announceParams{
			infoHash: infoHash,
			peerID:   peerID,
			port:     *announcePort,
			left:     *announceLeft,
			event:    event,
			numWant:  *announceNumWant,
			compact:  *announceCompact,
		})
		if err != nil {
			logger.Fatal("Announce failed", zap.Error(err))
		}
		printAnnounce(peerID, resp)

	case "scrape":
		scrapeCmd.Parse(os.Args[2:])
		var hashes []bittorrent.InfoHash
		for _, arg := range scrapeCmd.Args() {
			h, err := bittorrent.ParseInfoHashHex(arg)
			if err != nil {
				logger.Fatal("Invalid info hash", zap.String("arg", arg), zap.Error(err))
			}
			hashes = append(hashes, h)
		}

		client := NewTrackerClient(trackerURL(ctx, *scrapeTracker))
		resp, err := client.Scrape(ctx, hashes)
		if err != nil {
			logger.Fatal("Scrape failed", zap.Error(err))
		}
		printScrape(resp)

	default:
		logger.Fatal("Unknown command. Use 'announce' or 'scrape'.", zap.String("command", os.Args[1]))
	}
}

func trackerURL(ctx context.Context, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	logger := zap.L()
	logger.Info("Discovering tracker on the network...")
	discoverCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	hostPort, err := discovery.DiscoverService(discoverCtx, common.TrackerServiceName, logger)
	if err != nil {
		logger.Fatal("Could not find tracker", zap.Error(err))
	}
	logger.Info("Tracker found", zap.String("addr", hostPort))
	return "http://" + hostPort
}

func printAnnounce(peerID string, resp map[string]interface{}) {
	fmt.Printf("peer id:    %s\n", peerID)
	fmt.Printf("interval:   %vs\n", resp["interval"])
	if mi, ok := resp["min interval"]; ok {
		fmt.Printf("min:        %vs\n", mi)
	}
	fmt.Printf("seeders:    %v\n", resp["complete"])
	fmt.Printf("leechers:   %v\n", resp["incomplete"])
	if warning, ok := resp["warning message"]; ok {
		fmt.Printf("warning:    %v\n", warning)
	}

	peers, err := decodePeers(resp)
	if err != nil {
		zap.L().Error("Could not decode peers", zap.Error(err))
		return
	}
	fmt.Printf("peers:      %d\n", len(peers))
	for _, p := range peers {
		fmt.Printf("  %s\n", p)
	}
}

// decodePeers understands the compact (peers/peers6 strings) and the
// dictionary peer list formats.
func decodePeers(resp map[string]interface{}) ([]string, error) {
	var out []string
	switch peers := resp["peers"].(type) {
	case string:
		compact, err := decodeCompact(peers, 4)
		if err != nil {
			return nil, err
		}
		out = append(out, compact...)
	case []interface{}:
		for _, item := range peers {
			d, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.New("peer entry is not a dictionary")
			}
			entry := fmt.Sprintf("%v:%v", d["ip"], d["port"])
			if id, ok := d["peer id"]; ok {
				entry += fmt.Sprintf(" (%v)", id)
			}
			out = append(out, entry)
		}
	case nil:
	default:
		return nil, fmt.Errorf("unexpected peers type %T", peers)
	}

	if peers6, ok := resp["peers6"].(string); ok {
		compact, err := decodeCompact(peers6, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, compact...)
	}
	return out, nil
}

func decodeCompact(s string, ipLen int) ([]string, error) {
	size := ipLen + 2
	if len(s)%size != 0 {
		return nil, fmt.Errorf("compact peer list length %d is not a multiple of %d", len(s), size)
	}
	var out []string
	for i := 0; i < len(s); i += size {
		addr, _ := netip.AddrFromSlice([]byte(s[i : i+ipLen]))
		port := binary.BigEndian.Uint16([]byte(s[i+ipLen : i+size]))
		out = append(out, netip.AddrPortFrom(addr, port).String())
	}
	return out, nil
}

func printScrape(resp map[string]interface{}) {
	files, _ := resp["files"].(map[string]interface{})
	hashes := make([]string, 0, len(files))
	for h := range files {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	fmt.Printf("%-40s %8s %8s %10s\n", "info hash", "seeders", "leechers", "downloaded")
	for _, h := range hashes {
		stats, _ := files[h].(map[string]interface{})
		fmt.Printf("%-40x %8v %8v %10v\n", h, stats["complete"], stats["incomplete"], stats["downloaded"])
	}
}
