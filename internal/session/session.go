// Package session wires the engine into one playback session: it
// parses a manifest into a playlist.Playlist, spawns one
// scheduler.Track goroutine per selected AdaptationSet, a
// live.Controller refresh loop, and a clockdrift.Service, fanning
// every track's events
// into a single host-facing channel: a goroutine-per-session owner
// holding uuid-identified state behind a context/cancel pair, with atomic
// fields for anything read outside the owning goroutine.
package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamcore/corestream/internal/adapter"
	"github.com/streamcore/corestream/internal/clockdrift"
	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/fragment"
	"github.com/streamcore/corestream/internal/live"
	"github.com/streamcore/corestream/internal/scheduler"
	"github.com/streamcore/corestream/internal/transport"
	"github.com/streamcore/corestream/internal/typefind"
	"github.com/streamcore/corestream/pkg/playlist"
	"github.com/streamcore/corestream/pkg/playlist/dash"
	"github.com/streamcore/corestream/pkg/playlist/hls"
	"github.com/streamcore/corestream/pkg/playlist/manifestio"
	"github.com/streamcore/corestream/pkg/playlist/mss"
)

// Flavor names the manifest dialect a session was handed.
type Flavor int

const (
	FlavorHLS Flavor = iota
	FlavorDASH
	FlavorMSS
)

// Caps is the format-independent knob set that shapes track selection
// and bitrate adaptation for this session.
type Caps struct {
	ConnectionSpeed        int64
	StartBitrate           int64
	MaxVideoWidth          int
	MaxVideoHeight         int
	MaxVideoFramerate      int
	FragmentsCache         int
	BitrateSwitchTolerance float64
	TrickmodeKeyUnits      bool
	MaxTrickBitrate        int64
}

// Event is one item on a Session's host-facing channel: a Track's
// internal scheduler.Event translated 1:1 plus the originating track
// ID. Kept distinct from scheduler.Event
// (internal/scheduler is a leaf package internal/session depends on, so
// reusing its type directly would be fine, but a session-owned type
// keeps the host contract stable if the scheduler's internals change).
type Event struct {
	TrackID    string
	Kind       scheduler.EventKind
	Buffer     scheduler.Buffer
	Protection scheduler.ProtectionEvent
	Tags       scheduler.TagList
	Switch     scheduler.BitrateSwitchEvent
	Err        error
}

// Session owns one playback session's Playlist, tracks, and background
// services. Exactly one goroutine (the caller of Start) mutates Session
// fields outside of the tracks themselves; everything else is read-only
// snapshots or channel sends.
type Session struct {
	ID uuid.UUID

	caps       Caps
	downloader transport.Downloader
	prober     typefind.Prober
	logger     *slog.Logger

	playlist *playlist.Playlist
	flavor   Flavor

	// rawManifest is the decoded bytes of the last successfully applied
	// manifest, used by the refresh loop's identical-bytes short-circuit
	// and the HLS/DASH update protocols. Touched only from the refresh
	// goroutine after Start.
	rawManifest []byte

	// childRaw caches the last applied bytes of each resolved HLS media
	// sub-playlist, keyed by its URI, for the per-variant refresh
	// short-circuit. Guarded by mu: resolution can run from a track
	// goroutine (after a bitrate switch) concurrently with the refresh
	// goroutine.
	childRaw map[string][]byte

	keyCache    *fragment.KeyCache
	clockOff    *clockdrift.Offset
	clockSvc    *clockdrift.Service
	liveCtrl    *live.Controller
	adapters    map[string]*adapter.Adapter
	tracks      map[string]*scheduler.Track
	trackEvents map[string]chan scheduler.Event
	trackDone   sync.WaitGroup

	events chan Event

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses raw manifest bytes of the given flavor into a Playlist and
// builds a Session ready to Start. baseURI resolves relative URIs
// within the manifest; pass the post-redirect URI so resolution tracks
// where the manifest was actually served from.
func New(raw []byte, flavor Flavor, baseURI string, downloader transport.Downloader, prober typefind.Prober, caps Caps, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = typefind.MagicByteProber{}
	}

	decoded, err := manifestio.ReadAll(bytes.NewReader(raw))
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, "session", "E001", "decoding manifest bytes", err)
	}

	pl, err := parseManifest(decoded, flavor, baseURI)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:          uuid.New(),
		caps:        caps,
		downloader:  downloader,
		prober:      prober,
		logger:      logger,
		playlist:    pl,
		flavor:      flavor,
		rawManifest: decoded,
		childRaw:    make(map[string][]byte),
		keyCache:    fragment.NewKeyCache(downloader, fragment.DefaultKeyCacheSize),
		clockOff:    &clockdrift.Offset{},
		adapters:    make(map[string]*adapter.Adapter),
		tracks:      make(map[string]*scheduler.Track),
		trackEvents: make(map[string]chan scheduler.Event),
		events:      make(chan Event, 256),
	}
	return s, nil
}

func parseManifest(raw []byte, flavor Flavor, baseURI string) (*playlist.Playlist, error) {
	switch flavor {
	case FlavorHLS:
		return hls.Parse(raw, baseURI)
	case FlavorDASH:
		return dash.Parse(raw, baseURI)
	case FlavorMSS:
		return mss.Parse(raw, baseURI)
	default:
		return nil, corestreamerrors.New(corestreamerrors.NotAPlaylist, "session", "E002", "unknown manifest flavor")
	}
}

// Playlist exposes the session's parsed Playlist Model for callers that
// need to inspect AdaptationSets before selecting tracks to play.
func (s *Session) Playlist() *playlist.Playlist {
	return s.playlist
}

// Events returns the channel every track's translated events are
// published to. The caller must keep draining it while the session runs.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SelectTrack starts one scheduler.Track for the given AdaptationSet,
// selecting its initial Representation via the bitrate adapter and
// resolving its media sub-playlist when the Representation came out of
// an HLS master playlist. Must be called before Start (or from within an
// event handler while the session's tracks WaitGroup is still open); it
// is not safe to call concurrently with itself.
func (s *Session) SelectTrack(ctx context.Context, set *playlist.AdaptationSet) error {
	if len(set.Representations) == 0 {
		return corestreamerrors.New(corestreamerrors.InternalBug, "session", "E003", "adaptation set has no representations")
	}

	capsForAdapter := adapter.Caps{
		MaxBitrate:   s.caps.ConnectionSpeed,
		MaxWidth:     s.caps.MaxVideoWidth,
		MaxHeight:    s.caps.MaxVideoHeight,
		MaxFramerate: float64(s.caps.MaxVideoFramerate),
	}
	start := s.caps.StartBitrate
	if start == 0 {
		start = s.caps.ConnectionSpeed
	}
	ad := adapter.New(capsForAdapter, start)

	initial := playlist.RepresentationForBitrate(set, start, s.caps.MaxVideoWidth, s.caps.MaxVideoHeight, float64(s.caps.MaxVideoFramerate))
	if initial == nil {
		initial = set.Representations[0]
	}
	set.SetCurrent(initial)

	if err := s.resolveVariant(ctx, initial); err != nil {
		return err
	}

	trackID := fmt.Sprintf("%s-%d", set.Kind.String(), len(s.tracks))
	s.adapters[trackID] = ad

	schedCfg := scheduler.Config{
		FragmentsCache:         s.caps.FragmentsCache,
		BitrateSwitchTolerance: s.caps.BitrateSwitchTolerance,
		TrickmodeKeyUnits:      s.caps.TrickmodeKeyUnits && initial.IFrame,
		MaxTrickFramerate:      float64(s.caps.MaxVideoFramerate),
		MaxTrickBitrate:        s.caps.MaxTrickBitrate,
	}

	trackEvents := make(chan scheduler.Event, 64)
	track := scheduler.NewTrack(trackID, s.playlist, set, s.downloader, s.keyCache, s.prober, s.resolveVariant, ad, trackEvents, schedCfg, s.logger.With("track", trackID))
	s.tracks[trackID] = track
	s.trackEvents[trackID] = trackEvents

	return nil
}

// pumpTrackEvents forwards one track's scheduler.Event channel onto the
// session's unified Event channel until the track closes its channel or
// runCtx is cancelled. Only launched from Start, after runCtx exists, so
// there is no unsynchronized read of Session.ctx here.
func (s *Session) pumpTrackEvents(runCtx context.Context, trackID string, in <-chan scheduler.Event) {
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.events <- Event{
				TrackID:    trackID,
				Kind:       ev.Kind,
				Buffer:     ev.Buffer,
				Protection: ev.Protection,
				Tags:       ev.Tags,
				Switch:     ev.Switch,
				Err:        ev.Err,
			}:
			case <-runCtx.Done():
				return
			}
		case <-runCtx.Done():
			return
		}
	}
}

// Start runs every selected track's scheduler loop, the live-refresh
// controller (if the playlist is live), and the clock-drift service (if
// the playlist carries UTCTiming sources), until ctx is cancelled or
// Stop is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.playlist.Mu.RLock()
	sources := clockdrift.BuildSources(s.playlist.UTCTimingSources, s.downloader)
	isLive := s.playlist.IsLive
	s.playlist.Mu.RUnlock()

	if len(sources) > 0 {
		s.clockSvc = clockdrift.NewService(sources, s.clockOff, s.logger.With("component", "clockdrift"))
		go s.clockSvc.Start(runCtx)
	}

	if isLive {
		s.liveCtrl = live.NewController(s.playlist, s.refreshInterval(), s.refresh, s.logger.With("component", "live"))
		go s.liveCtrl.Start(runCtx)
	}

	for id, track := range s.tracks {
		s.trackDone.Add(1)
		go func(id string, t *scheduler.Track) {
			defer s.trackDone.Done()
			s.pumpTrackEvents(runCtx, id, s.trackEvents[id])
		}(id, track)
		go func(t *scheduler.Track) {
			t.Run(runCtx)
		}(track)
	}
}

func (s *Session) refreshInterval() time.Duration {
	var maxDur time.Duration
	s.playlist.Mu.RLock()
	if s.playlist.MinimumUpdatePeriod != nil {
		maxDur = *s.playlist.MinimumUpdatePeriod
	}
	s.playlist.Mu.RUnlock()
	if maxDur > 0 {
		return maxDur
	}
	return 4 * time.Second
}

// resolveVariant fetches and parses rep's media sub-playlist on first
// use, for Representations parsed out of an HLS master playlist whose
// segment lists live in child playlists. A cheap no-op for every other
// kind of Representation, so the scheduler can call it before each
// fragment.
func (s *Session) resolveVariant(ctx context.Context, rep *playlist.Representation) error {
	s.playlist.Mu.RLock()
	uri := rep.MediaPlaylistURI
	resolved := len(rep.Segments) > 0
	s.playlist.Mu.RUnlock()
	if uri == "" || resolved {
		return nil
	}

	body, finalURI, err := s.downloader.Get(ctx, uri)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "session", "E020", "fetching variant playlist", err)
	}
	defer body.Close()

	raw, err := manifestio.ReadAll(body)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, "session", "E021", "decoding variant playlist", err)
	}

	base := uri
	if finalURI != "" {
		base = finalURI
	}
	if base != uri {
		s.playlist.Mu.Lock()
		rep.MediaPlaylistURI = base
		s.playlist.Mu.Unlock()
	}

	if err := hls.ResolveVariant(s.playlist, rep, raw, base); err != nil {
		return err
	}

	s.mu.Lock()
	s.childRaw[base] = raw
	s.mu.Unlock()
	return nil
}

// refresh implements one manifest-refresh attempt: refetch the manifest
// bytes and fold them into the existing Playlist via the flavor-specific
// update protocol. An Inconsistent result leaves the old playlist in
// place; the live controller's backoff handles the fast retry. For an
// HLS master-playlist session the master itself is static — the refresh
// instead targets each active track's media sub-playlist.
func (s *Session) refresh(ctx context.Context) error {
	if s.flavor == FlavorHLS && s.hasMasterVariants() {
		return s.refreshVariants(ctx)
	}

	s.playlist.Mu.RLock()
	uri := s.playlist.MPDURI
	base := s.playlist.BaseURI
	s.playlist.Mu.RUnlock()

	body, finalURI, err := s.downloader.Get(ctx, uri)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "session", "E010", "refetching manifest", err)
	}
	defer body.Close()

	rawNew, err := manifestio.ReadAll(body)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, "session", "E011", "decoding refreshed manifest", err)
	}
	if finalURI != "" {
		base = finalURI
	}

	var updated *playlist.Playlist
	switch s.flavor {
	case FlavorHLS:
		updated, err = hls.Update(s.playlist, s.rawManifest, rawNew, base)
	case FlavorDASH:
		updated, err = dash.Update(s.playlist, s.rawManifest, rawNew, base)
	case FlavorMSS:
		// MSS live growth is driven by tfrf look-ahead rather than a
		// numbered update protocol; a refresh is a full re-parse.
		updated, err = mss.Parse(rawNew, base)
	}
	if err != nil {
		return err
	}
	if updated == s.playlist {
		return nil // identical bytes
	}

	s.graft(updated)
	s.rawManifest = rawNew
	return nil
}

// hasMasterVariants reports whether any Representation in the playlist
// came from an HLS master playlist (its segment list lives in a media
// sub-playlist).
func (s *Session) hasMasterVariants() bool {
	s.playlist.Mu.RLock()
	defer s.playlist.Mu.RUnlock()
	for _, period := range s.playlist.Periods {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				if rep.MediaPlaylistURI != "" {
					return true
				}
			}
		}
	}
	return false
}

// refreshVariants refreshes each active track's current media
// sub-playlist in place. Per-variant failures don't stop the sweep; the
// first error is returned so the controller's backoff still reacts.
func (s *Session) refreshVariants(ctx context.Context) error {
	var firstErr error
	for _, set := range s.trackSets() {
		s.playlist.Mu.RLock()
		rep := set.Current()
		var uri string
		if rep != nil {
			uri = rep.MediaPlaylistURI
		}
		s.playlist.Mu.RUnlock()
		if rep == nil || uri == "" {
			continue
		}

		err := s.refreshOneVariant(ctx, rep, uri)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Session) refreshOneVariant(ctx context.Context, rep *playlist.Representation, uri string) error {
	body, _, err := s.downloader.Get(ctx, uri)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "session", "E022", "refetching variant playlist", err)
	}
	defer body.Close()

	rawNew, err := manifestio.ReadAll(body)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.InvalidEncoding, "session", "E023", "decoding refreshed variant playlist", err)
	}

	s.mu.Lock()
	rawOld := s.childRaw[uri]
	s.mu.Unlock()

	if err := hls.UpdateVariant(s.playlist, rep, rawOld, rawNew, uri); err != nil {
		return err
	}

	s.mu.Lock()
	s.childRaw[uri] = rawNew
	s.mu.Unlock()
	return nil
}

// graft folds a freshly parsed playlist's segment lists and timing
// metadata into the session's existing Playlist in place, preserving
// the Period/AdaptationSet/Representation pointers every running track
// holds. Representations are matched by ID; one not present in the new
// manifest keeps its old segment list until a later refresh or a track
// rematch retires it.
func (s *Session) graft(updated *playlist.Playlist) {
	s.playlist.Mu.Lock()
	defer s.playlist.Mu.Unlock()

	s.playlist.BaseURI = updated.BaseURI
	s.playlist.IsLive = updated.IsLive
	s.playlist.Version = updated.Version
	s.playlist.AvailabilityStartTime = updated.AvailabilityStartTime
	s.playlist.TimeShiftBufferDepth = updated.TimeShiftBufferDepth
	s.playlist.MinimumUpdatePeriod = updated.MinimumUpdatePeriod
	s.playlist.SuggestedPresentationDelay = updated.SuggestedPresentationDelay

	for _, period := range updated.Periods {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				if existing := findRepLocked(s.playlist, rep.ID); existing != nil {
					existing.Segments = rep.Segments
					existing.TemplateTable = rep.TemplateTable
				}
			}
		}
	}
}

func findRepLocked(pl *playlist.Playlist, id string) *playlist.Representation {
	for _, period := range pl.Periods {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				if rep.ID == id {
					return rep
				}
			}
		}
	}
	return nil
}

// Stop cancels every track, the live controller, and the clock-drift
// service, then waits for all track-event pumps to drain.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.liveCtrl != nil {
		s.liveCtrl.Stop()
	}
	if s.clockSvc != nil {
		s.clockSvc.Stop()
	}
	s.trackDone.Wait()
	close(s.events)
}

// TrackSnapshot is one track's introspectable state, exposed to
// internal/debughttp for read-only session inspection.
type TrackSnapshot struct {
	TrackID               string  `json:"track_id"`
	Kind                  string  `json:"kind"`
	CurrentRepresentation string  `json:"current_representation,omitempty"`
	BandwidthBps          int64   `json:"bandwidth_bps,omitempty"`
	DownloadRateBps       float64 `json:"download_rate_bps"`

	// LiveSeekStartNs/StopNs is the clock-compensated live seek window,
	// present only for live playlists.
	LiveSeekStartNs int64 `json:"live_seek_start_ns,omitempty"`
	LiveSeekStopNs  int64 `json:"live_seek_stop_ns,omitempty"`
}

// Snapshot is the session's current introspectable state.
type Snapshot struct {
	SessionID         string          `json:"session_id"`
	IsLive            bool            `json:"is_live"`
	ClockCompensation int64           `json:"clock_compensation_us"`
	Tracks            []TrackSnapshot `json:"tracks"`
}

// Snapshot returns a point-in-time, read-only view of the session for
// the debug HTTP surface. Safe to call concurrently with Start/Stop and
// from any goroutine — it only takes the Playlist's RLock and the
// adapter's own internally-synchronized readers.
func (s *Session) Snapshot() Snapshot {
	s.playlist.Mu.RLock()
	isLive := s.playlist.IsLive
	s.playlist.Mu.RUnlock()

	snap := Snapshot{
		SessionID:         s.ID.String(),
		IsLive:            isLive,
		ClockCompensation: s.clockOff.Get(),
	}

	for id, set := range s.trackSets() {
		ts := TrackSnapshot{TrackID: id, Kind: set.Kind.String()}
		if rep := set.Current(); rep != nil {
			ts.CurrentRepresentation = rep.ID
			ts.BandwidthBps = rep.Bandwidth
			if isLive {
				compensation := time.Duration(s.clockOff.Get()) * time.Microsecond
				start, stop := live.SeekRange(s.playlist, rep, compensation)
				ts.LiveSeekStartNs = int64(start)
				ts.LiveSeekStopNs = int64(stop)
			}
		}
		if ad, ok := s.adapters[id]; ok {
			ts.DownloadRateBps = ad.CurrentRateBps()
		}
		snap.Tracks = append(snap.Tracks, ts)
	}
	return snap
}

func (s *Session) trackSets() map[string]*playlist.AdaptationSet {
	sets := make(map[string]*playlist.AdaptationSet, len(s.tracks))
	for id, t := range s.tracks {
		sets[id] = t.Set
	}
	return sets
}
