// Package listing implements the paged object-listing algorithm shared by
// the ListObjects (v1) and ListObjectsV2 (v2) APIs. It operates on a sorted
// snapshot of a bucket's key set; the metadata stores map the returned keys
// back to full object records.
package listing

import (
	"encoding/base64"
	"sort"
	"strings"
)

// MaxKeysCeiling is the hard upper bound on entries per page. Requests above
// it are served at most this many entries, though the response echoes the
// requested MaxKeys.
const MaxKeysCeiling = 1000

// Options control a single listing page.
type Options struct {
	// Prefix restricts the listing to keys having this byte-prefix.
	Prefix string
	// Delimiter groups keys sharing a prefix segment into common prefixes.
	Delimiter string
	// Marker is the exclusive starting point: the page begins at the first
	// key strictly greater than Marker. For v2 requests the caller resolves
	// start-after / continuation-token into a Marker before calling Walk.
	Marker string
	// MaxKeys is the requested page size. Values above MaxKeysCeiling are
	// clamped; zero yields an empty, non-truncated page.
	MaxKeys int
}

// Page is the result of walking one page of a key set.
type Page struct {
	// Keys are the emitted content keys, in lexicographic order.
	Keys []string
	// CommonPrefixes are the emitted delimiter groupings, each at most once.
	CommonPrefixes []string
	// IsTruncated reports whether candidate entries remain past the cap.
	IsTruncated bool
	// NextMarker is the last emitted entry (content key or common prefix,
	// whichever came later). Meaningful only when truncated; the v1 handler
	// additionally surfaces it only when a delimiter was supplied.
	NextMarker string
	// NextToken is the opaque continuation cursor for v2, set when truncated.
	NextToken string
}

// Walk pages through keys, which must be sorted in lexicographic byte order.
// Both content keys and common prefixes count against the MaxKeys cap; the
// page is truncated as soon as one more entry would exceed it.
func Walk(keys []string, opts Options) Page {
	var page Page

	maxKeys := opts.MaxKeys
	if maxKeys > MaxKeysCeiling {
		maxKeys = MaxKeysCeiling
	}
	if maxKeys == 0 {
		// MaxKeys=0 is a valid request: empty page, not truncated.
		return page
	}

	emitted := 0
	lastPrefix := ""

	for _, key := range keys {
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		if opts.Marker != "" && key <= opts.Marker {
			continue
		}

		if opts.Delimiter != "" {
			rest := key[len(opts.Prefix):]
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				cp := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				// A marker that names a common prefix positions the page
				// past the whole grouping, not into it.
				if opts.Marker != "" && cp <= opts.Marker {
					continue
				}
				if cp == lastPrefix {
					// Already emitted for this page.
					continue
				}
				if emitted >= maxKeys {
					page.IsTruncated = true
					break
				}
				page.CommonPrefixes = append(page.CommonPrefixes, cp)
				page.NextMarker = cp
				lastPrefix = cp
				emitted++
				continue
			}
		}

		if emitted >= maxKeys {
			page.IsTruncated = true
			break
		}
		page.Keys = append(page.Keys, key)
		page.NextMarker = key
		emitted++
	}

	if page.IsTruncated {
		page.NextToken = EncodeToken(page.NextMarker)
	}
	return page
}

// Sorted returns a lexicographically sorted copy of keys. Stores that keep
// keys in hash maps use it to build the iteration snapshot.
func Sorted(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)
	return out
}

// EncodeToken produces the opaque continuation token for the given cursor
// key. The encoding is deterministic so repeated listings of an unchanged
// bucket produce identical tokens.
func EncodeToken(key string) string {
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// DecodeToken recovers the cursor key from a continuation token. Tokens that
// do not decode are treated as positioning before the whole key set, which
// matches how S3 clients never observe a malformed token from the server.
func DecodeToken(token string) string {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return ""
	}
	return string(raw)
}
