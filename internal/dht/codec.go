package dht

import (
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"dhtracker/internal/bittorrent"
)

var eventType = reflect.TypeOf(bittorrent.EventNone)

// eventHook normalizes the wire spellings of a peer state ("none",
// "empty", "") while decoding entries.
func eventHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != eventType || from.Kind() != reflect.String {
		return data, nil
	}
	ev, err := bittorrent.ParseEvent(reflect.ValueOf(data).String())
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// decodeEntries converts a decoded bencode list of peer dictionaries.
// Elements that do not decode are reported to skip and left out; only a
// body that is not a list is an error.
func decodeEntries(raw interface{}, skip func(index int, err error)) ([]PeerEntry, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected peer list, got %T", raw)
	}
	entries := make([]PeerEntry, 0, len(list))
	for i, item := range list {
		entry, err := decodeEntry(item)
		if err != nil {
			if skip != nil {
				skip(i, err)
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeEntry converts a single decoded bencode peer dictionary.
func decodeEntry(raw interface{}) (PeerEntry, error) {
	var entry PeerEntry
	if _, ok := raw.(map[string]interface{}); !ok {
		return entry, fmt.Errorf("expected peer dictionary, got %T", raw)
	}
	if err := decodeInto(raw, &entry); err != nil {
		return entry, err
	}
	if entry.PeerID == "" {
		return entry, fmt.Errorf("peer entry without peer id")
	}
	return entry, nil
}

func decodeInto(input, result interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       eventHook,
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode peer entry: %w", err)
	}
	return nil
}
