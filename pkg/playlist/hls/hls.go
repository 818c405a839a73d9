// Package hls implements the HLS (EXT-M3U) manifest parser: lexing and
// parsing master and media playlists into the common pkg/playlist
// model, the live-refresh update protocol, and a canonical renderer
// whose output parses back to the same playlist.
//
// Lexing is a bufio.Scanner with an enlarged line buffer plus a
// regexp-based attribute splitter that tolerates quoted commas in
// EXTINF and EXT-X-STREAM-INF attribute lists.
package hls

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/urlutil"
	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
)

const maxLineSize = 1 << 20 // 1 MiB, matching pkg/m3u's long-URL allowance

// attrRegex splits NAME=VALUE attribute lists, tolerating quoted strings
// that themselves contain commas (`CODECS="avc1.77.30, mp4a.40.2"`).
var attrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)=(?:"([^"]*)"|([^,]*))`)

// Domain is the corestreamerrors.Error domain for this package.
const Domain = "hls"

func newErr(kind corestreamerrors.Kind, code, desc string) error {
	return corestreamerrors.New(kind, Domain, code, desc)
}

func wrapErr(kind corestreamerrors.Kind, code, desc string, cause error) error {
	return corestreamerrors.Wrap(kind, Domain, code, desc, cause)
}

// Key describes an active EXT-X-KEY.
type Key struct {
	Method string // "NONE" or "AES-128"
	URI    string
	IV     []byte // nil means sequence-derived default IV
}

// Parse parses HLS bytes (master or media) against baseURI, dispatching to
// parseMaster or parseMedia based on the presence of
// #EXT-X-STREAM-INF.
func Parse(raw []byte, baseURI string) (*playlist.Playlist, error) {
	data, err := manifestio.ReadAll(strings.NewReader(string(raw)))
	if err != nil {
		if err == manifestio.ErrInvalidEncoding {
			return nil, newErr(corestreamerrors.InvalidEncoding, "E001", "manifest is not valid UTF-8")
		}
		return nil, wrapErr(corestreamerrors.InvalidEncoding, "E001", "reading manifest body", err)
	}

	text := string(data)
	if !strings.HasPrefix(strings.TrimLeft(text, "\ufeff \t\r\n"), "#EXTM3U") {
		return nil, newErr(corestreamerrors.NotAPlaylist, "E002", "input does not begin with #EXTM3U")
	}

	if isMaster(text) {
		return parseMaster(text, baseURI)
	}
	return parseMedia(text, baseURI)
}

func isMaster(text string) bool {
	return strings.Contains(text, "#EXT-X-STREAM-INF:")
}

func newScanner(text string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(text))
	buf := make([]byte, maxLineSize)
	scanner.Buffer(buf, maxLineSize)
	return scanner
}

// parseAttrs splits an attribute-list tail (the part after the tag's
// colon for attribute-style tags like EXT-X-STREAM-INF) into a map,
// upper-casing keys for lookup.
func parseAttrs(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrRegex.FindAllStringSubmatch(s, -1) {
		key := strings.ToUpper(strings.TrimSpace(m[1]))
		val := m[2]
		if val == "" {
			val = strings.TrimSpace(m[3])
		}
		out[key] = val
	}
	return out
}

func attrInt(attrs map[string]string, key string) (int64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func attrFloat(attrs map[string]string, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	return n, err == nil
}

func resolve(base, ref string) string {
	return urlutil.Resolve(base, ref)
}

// secondsToDuration converts a fractional-second EXTINF duration to a
// time.Duration, the unit pkg/playlist stores presentation times and
// durations in regardless of source timescale.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
