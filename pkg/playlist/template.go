package playlist

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExpandTemplateSegments materializes a DASH/MSS SegmentTemplate's
// piecewise repetition table into a concrete Segments list,
// substituting $Number$/$Time$/$Bandwidth$/
// $RepresentationID$ in rep.URLTemplate. This lets every query in
// queries.go operate uniformly on rep.Segments regardless of addressing
// scheme — only the SIDX-indexed scheme defers segment discovery to
// runtime (internal/isobmff).
//
// startNumber is the DASH @startNumber (MSS template numbering always
// starts at 1 via startTime-addressing, so MSS callers pass 1). A
// RepeatCount of -1 in the final row means "open-ended" (no @r / t
// attribute closing it); ExpandTemplateSegments stops there, leaving
// further entries for internal/live to append on refresh.
func ExpandTemplateSegments(rep *Representation, startNumber int64) {
	if rep.URLTemplate == "" || len(rep.TemplateTable) == 0 {
		return
	}
	if startNumber <= 0 {
		startNumber = 1
	}

	number := startNumber
	for _, row := range rep.TemplateTable {
		repeat := row.RepeatCount
		if repeat < 0 {
			repeat = 0
		}
		t := row.StartTime
		for i := 0; i <= repeat; i++ {
			seq := uint64(number - 1)
			seg := &Segment{
				MediaSequence:    seq,
				URI:              expandTemplateURI(rep.URLTemplate, rep.ID, number, t, rep.Bandwidth),
				PresentationTime: timescaleToDuration(t, rep.Timescale),
				Duration:         timescaleToDuration(row.Duration, rep.Timescale),
				AllowCache:       true,
			}
			rep.Segments = append(rep.Segments, seg)
			t += row.Duration
			number++
		}
	}
}

// timescaleToDuration splits the tick count into whole seconds and a
// remainder so high-rate timescales (MSS's 10 MHz 100ns ticks) don't
// overflow int64 nanoseconds mid-conversion.
func timescaleToDuration(units int64, timescale uint32) time.Duration {
	if timescale == 0 {
		timescale = 1
	}
	ts := int64(timescale)
	secs := units / ts
	rem := units % ts
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(ts)
}

// expandTemplateURI substitutes $RepresentationID$, $Number$, $Number%0Nd$,
// $Time$, and $Bandwidth$ tokens per the DASH/MSS template grammar.
func expandTemplateURI(tmpl, repID string, number, t, bandwidth int64) string {
	out := tmpl
	out = strings.ReplaceAll(out, "$RepresentationID$", repID)
	out = strings.ReplaceAll(out, "$Bandwidth$", strconv.FormatInt(bandwidth, 10))
	out = replaceNumberToken(out, "$Number", number)
	out = replaceNumberToken(out, "$Time", t)
	out = strings.ReplaceAll(out, "{bitrate}", strconv.FormatInt(bandwidth, 10))
	out = strings.ReplaceAll(out, "{time}", strconv.FormatInt(t, 10))
	out = strings.ReplaceAll(out, "{start time}", strconv.FormatInt(t, 10))
	return out
}

// replaceNumberToken handles both the bare "$Number$" form and the
// width-padded "$Number%05d$" form.
func replaceNumberToken(s, prefix string, value int64) string {
	for {
		start := strings.Index(s, prefix)
		if start < 0 {
			return s
		}
		closeIdx := strings.Index(s[start+len(prefix):], "$")
		if closeIdx < 0 {
			return s
		}
		token := s[start : start+len(prefix)+closeIdx+1]
		formatted := strconv.FormatInt(value, 10)
		if spec := token[len(prefix) : len(token)-1]; strings.HasPrefix(spec, "%") {
			formatted = formatWidth(spec, value)
		}
		s = s[:start] + formatted + s[start+len(token):]
	}
}

// formatWidth applies a printf-style width spec like "%05d" (the only
// verb the DASH template grammar permits).
func formatWidth(spec string, value int64) string {
	return fmt.Sprintf(spec, value)
}
