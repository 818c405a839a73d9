// Package dash implements the DASH (MPD/XML) manifest parser: decodes an MPD document into the common pkg/playlist model.
// Uses stdlib encoding/xml struct-tag decoding into a typed tree —
// encoding/xml is the idiomatic,
// justified stdlib default rather than an ecosystem gap (see DESIGN.md).
package dash

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/urlutil"
	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
)

// Domain is the corestreamerrors.Error domain for this package.
const Domain = "dash"

// mpdXML mirrors the subset of the MPD schema this engine consumes.
type mpdXML struct {
	XMLName                   xml.Name       `xml:"MPD"`
	Type                      string         `xml:"type,attr"`
	Profiles                  string         `xml:"profiles,attr"`
	AvailabilityStartTime     string         `xml:"availabilityStartTime,attr"`
	MinimumUpdatePeriod       string         `xml:"minimumUpdatePeriod,attr"`
	TimeShiftBufferDepth      string         `xml:"timeShiftBufferDepth,attr"`
	SuggestedPresentationDelay string        `xml:"suggestedPresentationDelay,attr"`
	MaxSegmentDuration        string         `xml:"maxSegmentDuration,attr"`
	UTCTiming                 []utcTimingXML `xml:"UTCTiming"`
	Periods                   []periodXML    `xml:"Period"`
}

type utcTimingXML struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type periodXML struct {
	ID             string            `xml:"id,attr"`
	Start          string            `xml:"start,attr"`
	Duration       string            `xml:"duration,attr"`
	AdaptationSets []adaptationSetXML `xml:"AdaptationSet"`
}

type adaptationSetXML struct {
	ID                 string               `xml:"id,attr"`
	ContentType        string               `xml:"contentType,attr"`
	MimeType           string               `xml:"mimeType,attr"`
	Lang               string               `xml:"lang,attr"`
	ContentProtections []contentProtXML     `xml:"ContentProtection"`
	Representations    []representationXML  `xml:"Representation"`
	SegmentTemplate    *segmentTemplateXML  `xml:"SegmentTemplate"`
	SegmentList        *segmentListXML      `xml:"SegmentList"`
	SegmentBase        *segmentBaseXML      `xml:"SegmentBase"`
	Role               *roleXML             `xml:"Role"`
}

type roleXML struct {
	Value string `xml:"value,attr"`
}

type contentProtXML struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type representationXML struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       int64               `xml:"bandwidth,attr"`
	Codecs          string              `xml:"codecs,attr"`
	Width           int                 `xml:"width,attr"`
	Height          int                 `xml:"height,attr"`
	FrameRate       string              `xml:"frameRate,attr"`
	SegmentTemplate *segmentTemplateXML `xml:"SegmentTemplate"`
	SegmentList     *segmentListXML     `xml:"SegmentList"`
	SegmentBase     *segmentBaseXML     `xml:"SegmentBase"`
	BaseURL         string              `xml:"BaseURL"`
}

type segmentBaseXML struct {
	Timescale      uint32     `xml:"timescale,attr"`
	IndexRange     string     `xml:"indexRange,attr"`
	Initialization *urlXML    `xml:"Initialization"`
}

type urlXML struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

type segmentListXML struct {
	Timescale      uint32        `xml:"timescale,attr"`
	Duration       int64         `xml:"duration,attr"`
	Initialization *urlXML       `xml:"Initialization"`
	SegmentURLs    []segmentURLXML `xml:"SegmentURL"`
}

type segmentURLXML struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

type segmentTemplateXML struct {
	Timescale      uint32          `xml:"timescale,attr"`
	Duration       int64           `xml:"duration,attr"`
	StartNumber    int64           `xml:"startNumber,attr"`
	Media          string          `xml:"media,attr"`
	Initialization string          `xml:"initialization,attr"`
	SegmentTimeline *segmentTimelineXML `xml:"SegmentTimeline"`
}

type segmentTimelineXML struct {
	S []sXML `xml:"S"`
}

type sXML struct {
	T *int64 `xml:"t,attr"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr"`
}

// Parse decodes MPD bytes into the common Playlist model.
func Parse(raw []byte, baseURI string) (*playlist.Playlist, error) {
	data, err := manifestio.ReadAll(bytes.NewReader(raw))
	if err != nil {
		if err == manifestio.ErrInvalidEncoding {
			return nil, corestreamerrors.New(corestreamerrors.InvalidEncoding, Domain, "E001", "manifest is not valid UTF-8")
		}
		return nil, corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, Domain, "E001", "reading manifest body", err)
	}

	var doc mpdXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E002", "invalid MPD XML", err)
	}
	if doc.XMLName.Local != "MPD" {
		return nil, corestreamerrors.New(corestreamerrors.NotAPlaylist, Domain, "E002", "root element is not <MPD>")
	}

	pl := &playlist.Playlist{
		MPDURI:  baseURI,
		BaseURI: baseURI,
		IsLive:  doc.Type == "dynamic",
	}

	if ast, err := time.Parse(time.RFC3339, doc.AvailabilityStartTime); err == nil {
		pl.AvailabilityStartTime = &ast
	}
	if d, ok := parseXSDuration(doc.MinimumUpdatePeriod); ok {
		pl.MinimumUpdatePeriod = &d
	}
	if d, ok := parseXSDuration(doc.TimeShiftBufferDepth); ok {
		pl.TimeShiftBufferDepth = &d
	}
	if d, ok := parseXSDuration(doc.SuggestedPresentationDelay); ok {
		pl.SuggestedPresentationDelay = &d
	}
	for _, ut := range doc.UTCTiming {
		pl.UTCTimingSources = append(pl.UTCTimingSources, playlist.UTCTimingSource{
			Scheme: ut.SchemeIDURI,
			Value:  ut.Value,
		})
	}

	onDemandProfile := strings.Contains(doc.Profiles, "on-demand")

	for _, pxml := range doc.Periods {
		period, err := convertPeriod(pxml, baseURI, onDemandProfile)
		if err != nil {
			return nil, err
		}
		pl.Periods = append(pl.Periods, period)
	}

	if len(pl.Periods) == 0 {
		return nil, corestreamerrors.New(corestreamerrors.NotAVariant, Domain, "E003", "MPD has no Period elements")
	}

	return pl, nil
}

func convertPeriod(px periodXML, baseURI string, onDemandProfile bool) (*playlist.Period, error) {
	period := &playlist.Period{ID: px.ID}
	if d, ok := parseXSDuration(px.Start); ok {
		period.Start = d
	}
	if d, ok := parseXSDuration(px.Duration); ok {
		period.Duration = &d
	}

	for _, axml := range px.AdaptationSets {
		set, err := convertAdaptationSet(axml, baseURI, onDemandProfile)
		if err != nil {
			return nil, err
		}
		period.AdaptationSets = append(period.AdaptationSets, set)
	}
	return period, nil
}

func convertAdaptationSet(ax adaptationSetXML, baseURI string, onDemandProfile bool) (*playlist.AdaptationSet, error) {
	set := &playlist.AdaptationSet{
		ID:       ax.ID,
		Kind:     adaptationKind(ax),
		Language: ax.Lang,
	}
	if ax.Role != nil {
		set.Role = ax.Role.Value
	}
	for _, cp := range ax.ContentProtections {
		set.ContentProtections = append(set.ContentProtections, playlist.ContentProtection{
			SchemeURI: cp.SchemeIDURI,
			Payload:   []byte(cp.Value),
		})
	}

	for _, rxml := range ax.Representations {
		rep, err := convertRepresentation(rxml, ax, baseURI, onDemandProfile)
		if err != nil {
			return nil, err
		}
		set.Representations = append(set.Representations, rep)
	}

	for i := 1; i < len(set.Representations); i++ {
		for j := i; j > 0 && set.Representations[j-1].Bandwidth > set.Representations[j].Bandwidth; j-- {
			set.Representations[j-1], set.Representations[j] = set.Representations[j], set.Representations[j-1]
		}
	}

	return set, nil
}

func adaptationKind(ax adaptationSetXML) playlist.MediaKind {
	ct := ax.ContentType
	if ct == "" {
		ct = ax.MimeType
	}
	switch {
	case strings.Contains(ct, "video"):
		return playlist.KindVideo
	case strings.Contains(ct, "audio"):
		return playlist.KindAudio
	case strings.Contains(ct, "text") || strings.Contains(ct, "subtitle"):
		return playlist.KindSubtitle
	default:
		return playlist.KindVideo
	}
}

func convertRepresentation(rx representationXML, ax adaptationSetXML, baseURI string, onDemandProfile bool) (*playlist.Representation, error) {
	repBase := baseURI
	if rx.BaseURL != "" {
		repBase = urlutil.Resolve(baseURI, rx.BaseURL)
	}

	rep := &playlist.Representation{
		ID:        rx.ID,
		Bandwidth: rx.Bandwidth,
		Codecs:    rx.Codecs,
		Width:     rx.Width,
		Height:    rx.Height,
		Timescale: 1,
	}
	if fps, ok := parseFrameRate(rx.FrameRate); ok {
		rep.Framerate = fps
	}

	segTemplate := rx.SegmentTemplate
	if segTemplate == nil {
		segTemplate = ax.SegmentTemplate
	}
	segList := rx.SegmentList
	if segList == nil {
		segList = ax.SegmentList
	}
	segBase := rx.SegmentBase
	if segBase == nil {
		segBase = ax.SegmentBase
	}

	switch {
	case segTemplate != nil:
		buildFromTemplate(rep, segTemplate, repBase)
		playlist.ExpandTemplateSegments(rep, segTemplate.StartNumber)
	case segList != nil:
		buildFromList(rep, segList, repBase)
	case segBase != nil:
		buildFromBase(rep, segBase, repBase, onDemandProfile)
	default:
		// Bare Representation@BaseURL with no indexing info: treat the
		// whole resource as SIDX-indexed when the profile allows
		// runtime sidx discovery: the on-demand profile enables SIDX
		// byte-range subfragmenting.
		if onDemandProfile && repBase != "" {
			rep.SegmentIndexKind = playlist.SegmentIndexSIDX
			rep.SIDXURI = repBase
		}
	}

	return rep, nil
}

func buildFromTemplate(rep *playlist.Representation, t *segmentTemplateXML, base string) {
	rep.SegmentIndexKind = playlist.SegmentIndexTemplate
	if t.Timescale > 0 {
		rep.Timescale = t.Timescale
	}
	rep.URLTemplate = urlutil.Resolve(base, t.Media)
	if t.Initialization != "" {
		rep.InitURI = urlutil.Resolve(base, resolveRepIDTemplate(t.Initialization, rep.ID))
	}

	if t.SegmentTimeline != nil {
		var cursor int64
		for _, s := range t.SegmentTimeline.S {
			start := cursor
			if s.T != nil {
				start = *s.T
			}
			repeat := s.R
			if repeat < 0 {
				// r=-1 means "repeat until the next S's explicit t or EOS";
				// not resolvable without look-ahead, treat as a single entry.
				repeat = 0
			}
			rep.TemplateTable = append(rep.TemplateTable, playlist.TemplateRepeatEntry{
				StartTime: start, Duration: s.D, RepeatCount: repeat,
			})
			cursor = start + s.D*int64(repeat+1)
		}
	} else if t.Duration > 0 {
		rep.TemplateTable = append(rep.TemplateTable, playlist.TemplateRepeatEntry{
			StartTime: 0, Duration: t.Duration, RepeatCount: -1, // open-ended, driven by startNumber/live edge
		})
	}
}

// resolveRepIDTemplate substitutes $RepresentationID$ (the only
// substitution meaningful for an initialization template, since $Time$/
// $Number$ don't apply to a single init segment).
func resolveRepIDTemplate(tmpl, repID string) string {
	return strings.ReplaceAll(tmpl, "$RepresentationID$", repID)
}

func buildFromList(rep *playlist.Representation, l *segmentListXML, base string) {
	rep.SegmentIndexKind = playlist.SegmentIndexFixedList
	if l.Timescale > 0 {
		rep.Timescale = l.Timescale
	}
	if l.Initialization != nil {
		rep.InitURI = urlutil.Resolve(base, l.Initialization.SourceURL)
		if br, ok := parseRange(l.Initialization.Range); ok {
			rep.InitRange = &br
		}
	}

	var pts int64
	for i, su := range l.SegmentURLs {
		seg := &playlist.Segment{
			MediaSequence:    uint64(i),
			URI:              urlutil.Resolve(base, su.Media),
			PresentationTime: 0,
			Duration:         0,
			AllowCache:       true,
		}
		if l.Duration > 0 {
			seg.Duration = timescaleToDuration(l.Duration, rep.Timescale)
		}
		seg.PresentationTime = timescaleToDuration(pts, rep.Timescale)
		pts += l.Duration
		if br, ok := parseRange(su.MediaRange); ok {
			seg.Range = &br
		}
		rep.Segments = append(rep.Segments, seg)
	}
}

func buildFromBase(rep *playlist.Representation, b *segmentBaseXML, base string, onDemandProfile bool) {
	if b.Timescale > 0 {
		rep.Timescale = b.Timescale
	}
	if b.Initialization != nil {
		rep.InitURI = urlutil.Resolve(base, b.Initialization.SourceURL)
		if rep.InitURI == "" {
			rep.InitURI = base
		}
		if br, ok := parseRange(b.Initialization.Range); ok {
			rep.InitRange = &br
		}
	}
	rep.SegmentIndexKind = playlist.SegmentIndexSIDX
	rep.SIDXURI = base
	_ = onDemandProfile
}

// timescaleToDuration splits the tick count into whole seconds and a
// remainder so high-rate timescales don't overflow int64 nanoseconds
// mid-conversion.
func timescaleToDuration(units int64, timescale uint32) time.Duration {
	if timescale == 0 {
		timescale = 1
	}
	ts := int64(timescale)
	return time.Duration(units/ts)*time.Second + time.Duration(units%ts)*time.Second/time.Duration(ts)
}

func parseRange(s string) (playlist.ByteRange, bool) {
	if s == "" {
		return playlist.ByteRange{}, false
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return playlist.ByteRange{}, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return playlist.ByteRange{}, false
	}
	return playlist.ByteRange{Offset: start, Size: end - start + 1}, true
}

func parseFrameRate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, "/") {
		parts := strings.SplitN(s, "/", 2)
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0, false
		}
		return num / den, true
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// parseXSDuration parses a subset of xs:duration ("PT4S", "PT1M30S",
// "PT12S") sufficient for MPD attributes (minimumUpdatePeriod,
// timeShiftBufferDepth, suggestedPresentationDelay, Period@start/duration).
func parseXSDuration(s string) (time.Duration, bool) {
	if s == "" || !strings.HasPrefix(s, "P") {
		return 0, false
	}
	s = strings.TrimPrefix(s, "P")

	var datePart, timePart string
	if idx := strings.Index(s, "T"); idx >= 0 {
		datePart, timePart = s[:idx], s[idx+1:]
	} else {
		datePart = s
	}

	var total time.Duration
	if datePart != "" {
		d, ok := consumeUnits(datePart, map[byte]time.Duration{
			'Y': 365 * 24 * time.Hour,
			'M': 30 * 24 * time.Hour,
			'D': 24 * time.Hour,
		})
		if !ok {
			return 0, false
		}
		total += d
	}
	if timePart != "" {
		d, ok := consumeUnits(timePart, map[byte]time.Duration{
			'H': time.Hour,
			'M': time.Minute,
			'S': time.Second,
		})
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}

func consumeUnits(s string, units map[byte]time.Duration) (time.Duration, bool) {
	var total time.Duration
	numStart := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		mult, ok := units[c]
		if !ok {
			return 0, false
		}
		val, err := strconv.ParseFloat(s[numStart:i], 64)
		if err != nil {
			return 0, false
		}
		total += time.Duration(val * float64(mult))
		numStart = i + 1
	}
	return total, true
}
