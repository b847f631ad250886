// Package pathcodec normalizes and percent-encodes remote paths for URL
// construction.
//
// Paths are opaque keys: each segment is encoded independently so that a
// "/" embedded in a name can never be confused with a separator. Encode
// is deliberately not idempotent - encoding an already-encoded path
// double-encodes it, so callers must encode exactly once.
package pathcodec

import "strings"

const upperhex = "0123456789ABCDEF"

// Normalize ensures exactly the requested leading-slash convention
// without touching internal segments.
func Normalize(path string, leadingSlash bool) string {
	if leadingSlash {
		if !strings.HasPrefix(path, "/") {
			return "/" + path
		}
		return path
	}
	return strings.TrimPrefix(path, "/")
}

// Encode normalizes path then percent-encodes each segment
// independently, rejoining with "/".
func Encode(path string, leadingSlash bool) string {
	path = Normalize(path, leadingSlash)
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = escapeSegment(segment)
	}
	return strings.Join(segments, "/")
}

// shouldEscape reports whether c must be percent-encoded. Only RFC 3986
// unreserved characters pass through, which guarantees "%", "?", "&"
// and "#" are always encoded.
func shouldEscape(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return false
	}
	switch c {
	case '-', '_', '.', '~':
		return false
	}
	return true
}

func escapeSegment(s string) string {
	hexCount := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			hexCount++
		}
	}
	if hexCount == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*hexCount)
	for i := 0; i < len(s); i++ {
		if c := s[i]; shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}
