// Package urlutil resolves manifest-relative references the way every
// playlist flavor requires: segment, init, and key URIs are given
// relative to the playlist's effective base, which itself may have moved
// after an HTTP redirect.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves ref against base per RFC 3986. An absolute ref is
// returned unchanged; an unparsable base or ref falls back to returning
// ref as-is rather than failing the whole manifest parse.
func Resolve(base, ref string) string {
	if ref == "" {
		return base
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// IsRemote reports whether u is fetchable over HTTP(S), including
// protocol-relative form. Manifest entries that are bare paths are not
// remote until resolved against a base.
func IsRemote(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}
