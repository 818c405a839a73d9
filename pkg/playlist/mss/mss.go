// Package mss implements the Smooth Streaming (XML) manifest parser.
// Like pkg/playlist/dash, this uses stdlib encoding/xml struct-tag
// decoding.
package mss

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/urlutil"
	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
)

// Domain is the corestreamerrors.Error domain for this package.
const Domain = "mss"

type smoothStreamingMediaXML struct {
	XMLName                xml.Name         `xml:"SmoothStreamingMedia"`
	Duration               int64            `xml:"Duration,attr"`
	TimeScale              uint32           `xml:"TimeScale,attr"`
	IsLive                 string           `xml:"IsLive,attr"`
	LookAheadFragmentCount int              `xml:"LookAheadFragmentCount,attr"`
	Protection             *protectionXML   `xml:"Protection"`
	StreamIndexes          []streamIndexXML `xml:"StreamIndex"`
}

type protectionXML struct {
	ProtectionHeader protectionHeaderXML `xml:"ProtectionHeader"`
}

type protectionHeaderXML struct {
	SystemID string `xml:"SystemID,attr"`
	Content  string `xml:",chardata"`
}

type streamIndexXML struct {
	Type          string            `xml:"Type,attr"`
	Name          string            `xml:"Name,attr"`
	Language      string            `xml:"Language,attr"`
	Url           string            `xml:"Url,attr"`
	QualityLevels []qualityLevelXML `xml:"QualityLevel"`
	Chunks        []cXML            `xml:"c"`
}

type qualityLevelXML struct {
	Index            int    `xml:"Index,attr"`
	Bitrate          int64  `xml:"Bitrate,attr"`
	FourCC           string `xml:"FourCC,attr"`
	MaxWidth         int    `xml:"MaxWidth,attr"`
	MaxHeight        int    `xml:"MaxHeight,attr"`
	SamplingRate     int    `xml:"SamplingRate,attr"`
	CodecPrivateData string `xml:"CodecPrivateData,attr"`
}

type cXML struct {
	T *int64 `xml:"t,attr"`
	D int64  `xml:"d,attr"`
	R int    `xml:"r,attr"`
}

// Parse decodes Smooth Streaming manifest bytes into the common
// Playlist model.
func Parse(raw []byte, baseURI string) (*playlist.Playlist, error) {
	data, err := manifestio.ReadAll(bytes.NewReader(raw))
	if err != nil {
		if err == manifestio.ErrInvalidEncoding {
			return nil, corestreamerrors.New(corestreamerrors.InvalidEncoding, Domain, "E001", "manifest is not valid UTF-8")
		}
		return nil, corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, Domain, "E001", "reading manifest body", err)
	}

	var doc smoothStreamingMediaXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.NotAPlaylist, Domain, "E002", "invalid Smooth Streaming XML", err)
	}
	if doc.XMLName.Local != "SmoothStreamingMedia" {
		return nil, corestreamerrors.New(corestreamerrors.NotAPlaylist, Domain, "E002", "root element is not <SmoothStreamingMedia>")
	}

	pl := &playlist.Playlist{
		MPDURI:  baseURI,
		BaseURI: baseURI,
		IsLive:  strings.EqualFold(doc.IsLive, "TRUE"),
	}
	period := &playlist.Period{ID: "0"}
	pl.Periods = []*playlist.Period{period}

	timescale := doc.TimeScale
	if timescale == 0 {
		timescale = 10_000_000 // MSS default: 100ns ticks
	}

	for _, six := range doc.StreamIndexes {
		set, err := convertStreamIndex(six, baseURI, timescale, doc.Protection)
		if err != nil {
			return nil, err
		}
		period.AdaptationSets = append(period.AdaptationSets, set)
	}

	if len(period.AdaptationSets) == 0 {
		return nil, corestreamerrors.New(corestreamerrors.NotAVariant, Domain, "E003", "manifest has no StreamIndex elements")
	}

	return pl, nil
}

func convertStreamIndex(six streamIndexXML, baseURI string, timescale uint32, prot *protectionXML) (*playlist.AdaptationSet, error) {
	set := &playlist.AdaptationSet{
		Kind:     kindFromType(six.Type),
		Language: six.Language,
	}
	if prot != nil {
		set.ContentProtections = append(set.ContentProtections, playlist.ContentProtection{
			SchemeURI: prot.ProtectionHeader.SystemID,
			Payload:   []byte(prot.ProtectionHeader.Content),
		})
	}

	var table []playlist.TemplateRepeatEntry
	var cursor int64
	for _, c := range six.Chunks {
		start := cursor
		if c.T != nil {
			start = *c.T
		}
		repeat := c.R
		if repeat < 0 {
			repeat = 0
		}
		table = append(table, playlist.TemplateRepeatEntry{StartTime: start, Duration: c.D, RepeatCount: repeat})
		cursor = start + c.D*int64(repeat+1)
	}

	for _, ql := range six.QualityLevels {
		rep := &playlist.Representation{
			ID:               strconv.Itoa(ql.Index),
			Bandwidth:        ql.Bitrate,
			Width:            ql.MaxWidth,
			Height:           ql.MaxHeight,
			Codecs:           ql.FourCC,
			Timescale:        timescale,
			SegmentIndexKind: playlist.SegmentIndexTemplate,
			TemplateTable:    table,
		}
		rep.URLTemplate = expandBitrateToken(six.Url, ql.Bitrate)
		playlist.ExpandTemplateSegments(rep, 1)
		for _, seg := range rep.Segments {
			seg.URI = urlutil.Resolve(baseURI, seg.URI)
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

// expandBitrateToken substitutes MSS's {bitrate} placeholder up front
// (it is fixed per QualityLevel, unlike {start time} which varies per
// chunk and is left for playlist.ExpandTemplateSegments).
func expandBitrateToken(tmpl string, bitrate int64) string {
	out := strings.ReplaceAll(tmpl, "{bitrate}", strconv.FormatInt(bitrate, 10))
	out = strings.ReplaceAll(out, "{Bitrate}", strconv.FormatInt(bitrate, 10))
	out = strings.ReplaceAll(out, "{CustomAttributes}", "")
	return out
}

func kindFromType(t string) playlist.MediaKind {
	switch strings.ToLower(t) {
	case "audio":
		return playlist.KindAudio
	case "text":
		return playlist.KindSubtitle
	default:
		return playlist.KindVideo
	}
}
