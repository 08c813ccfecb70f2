package bittorrent

import (
	"fmt"
	"net/netip"
	"net/url"

	"dhtracker/internal/query"
)

// ScrapeRequest asks for swarm statistics. An empty InfoHashes list means
// every swarm the tracker knows about.
type ScrapeRequest struct {
	InfoHashes []InfoHash
	ClientAddr netip.Addr

	Response ScrapeResponse
}

// ParseScrape builds a ScrapeRequest from raw query values. Like
// ParseAnnounce it reports problems through the response's failure reason.
func ParseScrape(v query.Values, addr netip.Addr) *ScrapeRequest {
	req := &ScrapeRequest{ClientAddr: addr.Unmap()}
	for _, raw := range v.All("info_hash") {
		s, err := url.QueryUnescape(raw)
		if err != nil {
			req.Response.FailureReason = "invalid info_hash"
			return req
		}
		h, err := decodeInfoHash(s, "info_hash")
		if err != nil {
			req.Response.FailureReason = err.Error()
			return req
		}
		req.InfoHashes = append(req.InfoHashes, h)
	}
	return req
}

// Valid reports whether the request passed validation.
func (r *ScrapeRequest) Valid() bool {
	return r.Response.FailureReason == ""
}

func (r *ScrapeRequest) String() string {
	return fmt.Sprintf("scrape(%d hashes)", len(r.InfoHashes))
}
