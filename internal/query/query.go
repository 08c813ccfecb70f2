// Package query parses tracker request URLs into an ordered multimap.
//
// Tracker clients send binary info hashes and peer ids, so values are kept
// exactly as they appear on the wire and decoded later by whoever knows
// what a field is supposed to contain.
package query

import "strings"

type pair struct {
	key   string
	value string
}

// Values is an ordered multimap of raw query keys to raw values. Repeated
// keys keep every occurrence in the order they were added.
type Values struct {
	pairs []pair
}

// Parse returns the query part of raw (everything after the first '?').
// Tokens are split on both '&' and '=' and paired up alternately; a
// trailing key without a value is dropped. A string without '?' yields an
// empty result.
func Parse(raw string) Values {
	i := strings.IndexByte(raw, '?')
	if i < 0 {
		return Values{}
	}
	q := raw[i+1:]

	// Empty tokens are significant: "a=&b=1" pairs a with "".
	parts := strings.Split(strings.ReplaceAll(q, "=", "&"), "&")

	var v Values
	for j := 0; j+1 < len(parts); j += 2 {
		v.Add(parts[j], parts[j+1])
	}
	return v
}

// Add appends a key/value pair.
func (v *Values) Add(key, value string) {
	v.pairs = append(v.pairs, pair{key: key, value: value})
}

// Get returns the first value for key.
func (v Values) Get(key string) (string, bool) {
	for _, p := range v.pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return "", false
}

// All returns every value for key in insertion order.
func (v Values) All(key string) []string {
	var out []string
	for _, p := range v.pairs {
		if p.key == key {
			out = append(out, p.value)
		}
	}
	return out
}

// Has reports whether key occurs at least once.
func (v Values) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Len is the number of pairs, counting repeats.
func (v Values) Len() int { return len(v.pairs) }

// Keys returns the distinct keys in order of first occurrence.
func (v Values) Keys() []string {
	seen := make(map[string]bool, len(v.pairs))
	var keys []string
	for _, p := range v.pairs {
		if !seen[p.key] {
			seen[p.key] = true
			keys = append(keys, p.key)
		}
	}
	return keys
}

// Encode renders the pairs back into a query string without escaping;
// values are expected to be in wire form already.
func (v Values) Encode() string {
	var b strings.Builder
	for i, p := range v.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}
