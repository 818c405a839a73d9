package hls

import (
	"bytes"
	"strings"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/pkg/playlist"
)

// ResolveVariant parses one master-playlist variant's media sub-playlist
// bytes and installs its segment list into rep under pl's lock. baseURI
// is the URI the sub-playlist was actually served from (post-redirect),
// used to resolve its relative segment and key URIs.
//
// The playlist's liveness follows the resolved child: a master playlist
// says nothing about ENDLIST, so pl.IsLive is only known once a media
// sub-playlist has been read.
func ResolveVariant(pl *playlist.Playlist, rep *playlist.Representation, raw []byte, baseURI string) error {
	text := string(raw)
	if !strings.HasPrefix(strings.TrimLeft(text, "\ufeff \t\r\n"), "#EXTM3U") {
		return newErr(corestreamerrors.NotAPlaylist, "E002", "variant playlist does not begin with #EXTM3U")
	}

	newRep, meta, err := parseMediaInto(text, baseURI)
	if err != nil {
		return err
	}
	if len(newRep.Segments) == 0 {
		return newErr(corestreamerrors.EmptyMediaPlaylist, "E004", "variant media playlist has no segments")
	}

	pl.Mu.Lock()
	rep.Segments = newRep.Segments
	pl.IsLive = !meta.endlist
	if meta.version > pl.Version {
		pl.Version = meta.version
	}
	pl.Mu.Unlock()
	return nil
}

// UpdateVariant applies a live refresh of one variant's media
// sub-playlist in place: identical bytes are a no-op; otherwise the new
// segment list is reconciled against rep's current one with the same
// sequence/URI rules Update applies, then swapped in under pl's lock. On
// an Inconsistent result rep keeps its old segment list.
func UpdateVariant(pl *playlist.Playlist, rep *playlist.Representation, rawOld, rawNew []byte, baseURI string) error {
	if bytes.Equal(rawOld, rawNew) {
		return nil
	}

	newRep, meta, err := parseMediaInto(string(rawNew), baseURI)
	if err != nil {
		return err
	}
	if len(newRep.Segments) == 0 {
		return newErr(corestreamerrors.EmptyMediaPlaylist, "E004", "variant media playlist refresh has no segments")
	}

	pl.Mu.Lock()
	defer pl.Mu.Unlock()
	if err := reconcile(rep, newRep, meta.mediaSequenceSet); err != nil {
		return err
	}
	rep.Segments = newRep.Segments
	pl.IsLive = !meta.endlist
	return nil
}
