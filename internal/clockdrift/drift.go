// Package clockdrift tracks server/client clock skew: periodic
// sampling of a server clock (NTP/HTTP Date/XSDATE/ISO/NTP-body) against
// the local monotonic wall clock, publishing a single process-global
// offset every active track's scheduler and live controller read to
// compute "now" for server-relative operations.
package clockdrift

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/streamcore/corestream/internal/transport"
	"github.com/streamcore/corestream/pkg/playlist"
)

// SlowInterval is the resample period after a successful update.
const SlowInterval = 30 * time.Minute

// FastInterval is the resample period after a failed update.
const FastInterval = 30 * time.Second

// Offset is a process-global atomic signed-microsecond clock
// compensation. Exactly one Service instance should write to a given Offset; any
// number of goroutines may read it.
type Offset struct {
	microseconds atomic.Int64
}

// Get returns the current compensation in microseconds: a positive value
// means the server clock runs ahead of the local clock.
func (o *Offset) Get() int64 {
	return o.microseconds.Load()
}

// set publishes a new compensation value atomically.
func (o *Offset) set(us int64) {
	o.microseconds.Store(us)
}

// Now returns the client's best estimate of the server's current wall
// clock time: local wall clock plus the published compensation. Use
// this for any deadline computed against server-side availability.
func (o *Offset) Now() time.Time {
	return time.Now().Add(time.Duration(o.Get()) * time.Microsecond)
}

// Source is one resolved clock source a Service round-robins across,
// built from a playlist.UTCTimingSource descriptor.
type Source interface {
	// Sample performs one round-trip against the source, returning the
	// server's reported time and the local times bracketing the
	// round-trip (used to bound the estimate error at RTT/2).
	Sample(ctx context.Context) (serverNow, sentAt, receivedAt time.Time, err error)
	String() string
}

// knownSchemeBuilders maps a DASH UTCTiming @schemeIdUri to the Source
// constructor that understands it.
var knownSchemeBuilders = map[string]func(value string, d transport.Downloader) Source{
	"urn:mpeg:dash:utc:ntp:2014": func(value string, _ transport.Downloader) Source {
		return &ntpSource{server: value}
	},
	"urn:mpeg:dash:utc:http-head:2014": func(value string, d transport.Downloader) Source {
		return &httpDateSource{uri: value, downloader: d}
	},
	"urn:mpeg:dash:utc:http-xsdate:2014": func(value string, d transport.Downloader) Source {
		return &httpBodySource{uri: value, downloader: d, format: formatXSDate}
	},
	"urn:mpeg:dash:utc:http-iso:2014": func(value string, d transport.Downloader) Source {
		return &httpBodySource{uri: value, downloader: d, format: formatISO}
	},
	"urn:mpeg:dash:utc:http-ntp:2014": func(value string, d transport.Downloader) Source {
		return &httpBodySource{uri: value, downloader: d, format: formatNTPBody}
	},
}

// BuildSources resolves a playlist's UTCTiming descriptors into Sources,
// skipping any scheme this package doesn't recognize.
func BuildSources(timings []playlist.UTCTimingSource, downloader transport.Downloader) []Source {
	var sources []Source
	for _, t := range timings {
		if build, ok := knownSchemeBuilders[t.Scheme]; ok {
			sources = append(sources, build(t.Value, downloader))
		}
	}
	return sources
}
