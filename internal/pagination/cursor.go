// Package pagination provides cursor-based pagination utilities.
//
// Cursors are opaque tokens over record sequence IDs. Listings run
// newest-first, so a cursor marks the ID to continue below.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Encode returns an opaque cursor string for a record ID.
func Encode(id int64) string {
	return base64.URLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// Decode parses an opaque cursor string. Returns 0 for empty input.
func Decode(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor")
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return id, nil
}

// ComputePage takes a slice of items (fetched with limit+1), the requested limit,
// and a function to extract the sequence ID from the last item.
// Returns the trimmed items, next cursor, and has_more flag.
func ComputePage[T any](items []T, limit int, extractID func(T) int64) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	return items, Encode(extractID(last)), true
}
