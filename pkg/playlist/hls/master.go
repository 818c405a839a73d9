package hls

import (
	"strconv"
	"strings"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/pkg/playlist"
)

// renditionGroup accumulates #EXT-X-MEDIA entries sharing one GROUP-ID.
type renditionGroup struct {
	kind playlist.MediaKind
	set  *playlist.AdaptationSet
}

// parseMaster parses a master playlist (one containing EXT-X-STREAM-INF)
// into a synthetic single Period: one AdaptationSet per alternate-
// rendition group (EXT-X-MEDIA GROUP-ID) plus a primary video
// AdaptationSet built from EXT-X-STREAM-INF entries.
func parseMaster(text, baseURI string) (*playlist.Playlist, error) {
	pl := &playlist.Playlist{MPDURI: baseURI, BaseURI: baseURI}
	period := &playlist.Period{ID: "0"}
	pl.Periods = []*playlist.Period{period}

	primary := &playlist.AdaptationSet{Kind: playlist.KindVideo}
	iframes := &playlist.AdaptationSet{Kind: playlist.KindVideo, ID: "iframe"}
	groups := map[string]*renditionGroup{}

	scanner := newScanner(text)
	var pendingAttrs map[string]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			if v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:")); err == nil {
				pl.Version = v
			}
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pendingAttrs = parseAttrs(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-I-FRAME-STREAM-INF:"))
			rep := representationFromAttrs(attrs, baseURI)
			rep.IFrame = true
			if uri, ok := attrs["URI"]; ok {
				rep.SegmentIndexKind = playlist.SegmentIndexFixedList
				rep.MediaPlaylistURI = resolve(baseURI, uri)
			}
			iframes.Representations = append(iframes.Representations, rep)
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttrs(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			addRendition(groups, attrs, baseURI)
		case strings.HasPrefix(line, "#"):
			// Other tags (EXT-X-INDEPENDENT-SEGMENTS etc.) carried but not
			// modeled at this layer.
		default:
			if pendingAttrs != nil {
				rep := representationFromAttrs(pendingAttrs, baseURI)
				rep.SegmentIndexKind = playlist.SegmentIndexFixedList
				rep.MediaPlaylistURI = resolve(baseURI, line)
				primary.Representations = append(primary.Representations, rep)
				pendingAttrs = nil
			}
		}
	}

	sortRepresentationsByBandwidth(primary)
	sortRepresentationsByBandwidth(iframes)

	if len(primary.Representations) == 0 {
		return nil, corestreamerrors.New(corestreamerrors.NotAVariant, Domain, "E003", "master playlist has no EXT-X-STREAM-INF variants")
	}

	period.AdaptationSets = append(period.AdaptationSets, primary)
	if len(iframes.Representations) > 0 {
		period.AdaptationSets = append(period.AdaptationSets, iframes)
	}
	for _, g := range groups {
		period.AdaptationSets = append(period.AdaptationSets, g.set)
	}

	return pl, nil
}

func representationFromAttrs(attrs map[string]string, baseURI string) *playlist.Representation {
	rep := &playlist.Representation{Timescale: 1_000_000_000}
	if bw, ok := attrInt(attrs, "BANDWIDTH"); ok {
		rep.Bandwidth = bw
	} else if bw, ok := attrInt(attrs, "AVERAGE-BANDWIDTH"); ok {
		rep.Bandwidth = bw
	}
	rep.Codecs = strings.Trim(attrs["CODECS"], `"`)
	if res, ok := attrs["RESOLUTION"]; ok {
		if w, h, ok := parseResolution(res); ok {
			rep.Width, rep.Height = w, h
		}
	}
	if fps, ok := attrFloat(attrs, "FRAME-RATE"); ok {
		rep.Framerate = fps
	}
	rep.ID = attrs["PROGRAM-ID"]
	if rep.ID == "" {
		rep.ID = strconv.FormatInt(rep.Bandwidth, 10)
	}
	return rep
}

func parseResolution(s string) (w, h int, ok bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	wi, err1 := strconv.Atoi(parts[0])
	hi, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return wi, hi, true
}

func addRendition(groups map[string]*renditionGroup, attrs map[string]string, baseURI string) {
	groupID := attrs["GROUP-ID"]
	if groupID == "" {
		return
	}
	g, ok := groups[groupID]
	if !ok {
		kind := kindFromMediaType(attrs["TYPE"])
		g = &renditionGroup{kind: kind, set: &playlist.AdaptationSet{
			ID:       groupID,
			Kind:     kind,
			Language: attrs["LANGUAGE"],
		}}
		groups[groupID] = g
	}
	rep := &playlist.Representation{
		ID:        attrs["NAME"],
		Timescale: 1_000_000_000,
	}
	if uri, ok := attrs["URI"]; ok {
		rep.SegmentIndexKind = playlist.SegmentIndexFixedList
		rep.MediaPlaylistURI = resolve(baseURI, uri)
	}
	g.set.Representations = append(g.set.Representations, rep)
}

func kindFromMediaType(t string) playlist.MediaKind {
	switch strings.ToUpper(t) {
	case "AUDIO":
		return playlist.KindAudio
	case "SUBTITLES":
		return playlist.KindSubtitle
	case "CLOSED-CAPTIONS":
		return playlist.KindClosedCaption
	default:
		return playlist.KindVideo
	}
}

func sortRepresentationsByBandwidth(set *playlist.AdaptationSet) {
	reps := set.Representations
	for i := 1; i < len(reps); i++ {
		for j := i; j > 0 && reps[j-1].Bandwidth > reps[j].Bandwidth; j-- {
			reps[j-1], reps[j] = reps[j], reps[j-1]
		}
	}
}
