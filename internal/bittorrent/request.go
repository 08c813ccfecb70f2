package bittorrent

import (
	"io"
	"net/netip"
	"strings"

	"dhtracker/internal/query"
)

// Kind tags the variant held by a Request.
type Kind uint8

const (
	KindAnnounce Kind = iota
	KindScrape
)

func (k Kind) String() string {
	if k == KindScrape {
		return "scrape"
	}
	return "announce"
}

// Request holds exactly one of Announce or Scrape, selected by Kind.
type Request struct {
	Kind     Kind
	Announce *AnnounceRequest
	Scrape   *ScrapeRequest
}

// IsScrapePath reports whether a request path addresses the scrape
// endpoint. Anything else is treated as an announce.
func IsScrapePath(path string) bool {
	const prefix = "/scrape"
	return len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix)
}

// ParseRequest validates query values as a scrape or an announce coming
// from addr.
func ParseRequest(v query.Values, addr netip.Addr, scrape bool) Request {
	if scrape {
		return Request{Kind: KindScrape, Scrape: ParseScrape(v, addr)}
	}
	return Request{Kind: KindAnnounce, Announce: ParseAnnounce(v, addr)}
}

// Valid reports whether the wrapped request passed validation.
func (r Request) Valid() bool {
	if r.Kind == KindScrape {
		return r.Scrape.Valid()
	}
	return r.Announce.Valid()
}

// FailureReason returns the validation failure, if any.
func (r Request) FailureReason() string {
	if r.Kind == KindScrape {
		return r.Scrape.Response.FailureReason
	}
	return r.Announce.Response.FailureReason
}

// EncodeResponse writes the bencoded response of the wrapped request.
func (r Request) EncodeResponse(w io.Writer) error {
	if r.Kind == KindScrape {
		return r.Scrape.Response.Encode(w)
	}
	return r.Announce.Response.Encode(w)
}
