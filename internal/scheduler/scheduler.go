// Package scheduler drives playback: one goroutine per active track
// picks the next fragment, fetches its bytes, feeds them through the
// decryptor and the box walker, and emits parsed buffers to the host
// over a channel, retuning bitrate between fragments.
//
// One context per track; cancellation tears the goroutine down cleanly,
// and no state is shared across tracks except the Playlist Model's own
// mutex.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/streamcore/corestream/internal/adapter"
	corestreamcipher "github.com/streamcore/corestream/internal/cipher"
	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/fragment"
	"github.com/streamcore/corestream/internal/isobmff"
	"github.com/streamcore/corestream/internal/live"
	"github.com/streamcore/corestream/internal/mpegts"
	"github.com/streamcore/corestream/internal/observability"
	"github.com/streamcore/corestream/internal/transport"
	"github.com/streamcore/corestream/internal/typefind"
	"github.com/streamcore/corestream/pkg/playlist"
)

// maxConsecutiveFailures is the per-fragment download-failure budget;
// the failure that reaches it raises a fatal ResourceNotFound (a failure
// whose own kind is already fatal keeps that kind).
const maxConsecutiveFailures = 3

// downloadChunkSize is the read granularity the scheduler pulls from a
// fragment's response body, feeding the decryptor and box walker
// incrementally rather than buffering the whole fragment.
const downloadChunkSize = 32 * 1024

// VariantResolver lazily materializes a Representation's segment list
// before its first use — for an HLS master-playlist variant, the fetch
// and parse of its media sub-playlist. It must be a cheap no-op for a
// Representation whose segments are already known; nil disables
// resolution entirely.
type VariantResolver func(ctx context.Context, rep *playlist.Representation) error

// Track owns one active track's playback position and parser state. It
// is driven exclusively by its own goroutine; the Playlist Model is the
// only state touched from elsewhere (under its own mutex).
type Track struct {
	ID  string
	Set *playlist.AdaptationSet

	playlist   *playlist.Playlist
	downloader transport.Downloader
	keyCache   *fragment.KeyCache
	prober     typefind.Prober
	resolver   VariantResolver
	adapter    *adapter.Adapter
	events     chan<- Event
	logger     *slog.Logger

	cfg Config

	sequence    uint64
	direction   playlist.Direction
	needHeader  bool
	walker      *isobmff.Walker
	syncTable   isobmff.SyncSampleTable
	tableSeeded bool
	trackInfo   isobmff.TrackInfo
	failedCount int

	// fragmentFirstEmit marks the first buffer emitted for the current
	// fragment, which carries the fragment's timestamp anchor (ID3 PTS
	// or first PCR) on MPEG-TS. pendingDiscont marks the next emitted
	// buffer as discontinuous after a representation switch or an
	// EXT-X-DISCONTINUITY segment.
	fragmentFirstEmit bool
	pendingDiscont    bool

	trickmode  bool
	trickState TrickmodeState
	trickIndex int

	// ctx is set once at the top of Run and used only by emit/emitFatal,
	// which need to block on a full event channel without taking a ctx
	// parameter through every caller up the stack (applySwitch,
	// handleFragmentError).
	ctx context.Context
}

// Config carries the scheduler properties that affect this track's
// loop (manifest-format-independent).
type Config struct {
	FragmentsCache         int
	BitrateSwitchTolerance float64
	TrickmodeKeyUnits      bool
	MaxTrickFramerate      float64
	MaxTrickBitrate        int64
}

// NewTrack builds a Track starting at the given Representation's first
// segment.
func NewTrack(id string, pl *playlist.Playlist, set *playlist.AdaptationSet, downloader transport.Downloader, keyCache *fragment.KeyCache, prober typefind.Prober, resolver VariantResolver, ad *adapter.Adapter, events chan<- Event, cfg Config, logger *slog.Logger) *Track {
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = typefind.MagicByteProber{}
	}
	return &Track{
		ID:         id,
		Set:        set,
		playlist:   pl,
		downloader: downloader,
		keyCache:   keyCache,
		prober:     prober,
		resolver:   resolver,
		adapter:    ad,
		events:     events,
		cfg:        cfg,
		direction:  playlist.Forward,
		needHeader: true,
		walker:     isobmff.NewWalker(),
		trickmode:  cfg.TrickmodeKeyUnits,
		logger:     logger,
	}
}

// Run executes the track's main loop until ctx is cancelled, the track
// reaches end-of-stream, or a fatal error occurs.
func (t *Track) Run(ctx context.Context) {
	t.ctx = ctx
	for {
		if ctx.Err() != nil {
			return
		}

		rep := t.Set.Current()
		if rep == nil {
			t.emitFatal(corestreamerrors.New(corestreamerrors.InternalBug, "scheduler", "E900", "no representation selected"))
			return
		}

		// A representation switched to mid-playback may still be an
		// unresolved master-playlist variant; its media sub-playlist must
		// be fetched before any fragment can be addressed.
		if t.resolver != nil {
			if err := t.resolver(ctx, rep); err != nil {
				if t.handleFragmentError(err) {
					continue
				}
				return
			}
		}

		if t.needHeader {
			if err := t.fetchHeader(ctx, rep); err != nil {
				t.emitFatal(err)
				return
			}
			t.needHeader = false
		}

		seg, err := t.playlist.CurrentFragment(rep, t.sequence)
		if err == playlist.ErrEndOfStream {
			if t.playlist.IsLiveStream() {
				// The sequence is outside the current window (fell off
				// the start, or not yet published); wait out a refresh
				// and clamp back into the window.
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.playlist.TargetDuration(rep)):
				}
				t.sequence = live.Reposition(t.playlist, rep, t.sequence, 0)
				continue
			}
			t.emit(Event{Kind: EventEndOfStream, TrackID: t.ID})
			return
		}
		if err != nil {
			t.emitFatal(corestreamerrors.Wrap(corestreamerrors.InternalBug, "scheduler", "E901", "resolving current fragment", err))
			return
		}

		var fragErr error
		if t.trickmode {
			fragErr = t.runTrickFragment(ctx, rep, seg)
		} else {
			fragErr = t.runFullFragment(ctx, rep, seg)
		}
		if fragErr != nil {
			if t.handleFragmentError(fragErr) {
				continue
			}
			return
		}

		decision := t.adapter.SelectBitrate(t.Set, t.trickmode)
		if decision.Switch {
			t.applySwitch(decision.Target)
			continue
		}

		next, err := t.playlist.Advance(rep, t.sequence, t.direction)
		// Live: the next sequence isn't known yet; the live refresh loop
		// extends the representation's segment list. Keep retrying
		// Advance (never CurrentFragment, which would replay the
		// fragment just emitted) until a successor appears.
		for err == playlist.ErrEndOfStream && t.playlist.IsLiveStream() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.playlist.TargetDuration(rep)):
			}
			t.sequence = live.Reposition(t.playlist, rep, t.sequence, 0)
			next, err = t.playlist.Advance(rep, t.sequence, t.direction)
		}
		if err == playlist.ErrEndOfStream {
			t.emit(Event{Kind: EventEndOfStream, TrackID: t.ID})
			return
		}
		t.sequence = next
	}
}

func (t *Track) fetchHeader(ctx context.Context, rep *playlist.Representation) error {
	uri, byteRange := t.playlist.NextHeaderInfo(rep)
	if uri == "" {
		t.walker.Reset()
		return nil
	}

	var body io.ReadCloser
	var err error
	if byteRange != nil {
		body, _, err = t.downloader.GetRange(ctx, uri, byteRange.Offset, byteRange.Offset+byteRange.Size-1)
	} else {
		body, _, err = t.downloader.Get(ctx, uri)
	}
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E902", "fetching init segment", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E903", "reading init segment", err)
	}

	infos, err := isobmff.ParseInit(data)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.TypefindFailed, "scheduler", "E904", "parsing init segment", err)
	}
	if len(infos) > 0 {
		t.trackInfo = infos[0]
	}
	t.walker.Reset()
	t.tableSeeded = false
	return nil
}

// runFullFragment downloads and processes one fragment end to end,
// emitting Buffer events as ISOBMFF fragments become available. This is
// the normal (non-trick-mode) path; see runTrickFragment for the
// chunked keyframe-only fetch.
func (t *Track) runFullFragment(ctx context.Context, rep *playlist.Representation, seg *playlist.Segment) error {
	decryptor, err := t.buildDecryptor(ctx, seg)
	if err != nil {
		return err
	}

	t.fragmentFirstEmit = true
	if seg.Discontinuity {
		t.pendingDiscont = true
	}

	requestRange := t.resolveRequestRange(rep, seg)

	fragLogger := t.logger
	if observability.TraceEnabled(fragLogger) {
		fragLogger = fragLogger.With("fragment_id", observability.NewCorrelationID())
		observability.Trace(fragLogger, "fragment start", "track", t.ID, "sequence", seg.MediaSequence, "uri", seg.URI)
	}

	t0 := time.Now()
	var body io.ReadCloser
	if requestRange != nil {
		body, _, err = t.downloader.GetRange(ctx, seg.URI, requestRange.Offset, requestRange.Offset+requestRange.Size-1)
	} else {
		body, _, err = t.downloader.Get(ctx, seg.URI)
	}
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E905", "fetching fragment", err)
	}
	defer body.Close()

	var totalBytes int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			totalBytes += int64(n)
			plain, derr := decryptor.Push(buf[:n])
			if derr != nil {
				return corestreamerrors.Wrap(corestreamerrors.StreamDecrypt, "scheduler", "E906", "decrypting fragment chunk", derr)
			}
			t.processPlain(plain, decryptor)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E907", "reading fragment body", rerr)
		}
	}

	final, err := decryptor.Finish()
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.StreamDecrypt, "scheduler", "E908", "finishing fragment decryption", err)
	}
	t.processPlain(final, decryptor)

	if decryptor.TypefindExceeded() {
		return corestreamerrors.New(corestreamerrors.TypefindFailed, "scheduler", "E909", "fragment exceeded typefind ceiling with no format detected")
	}

	observability.Trace(fragLogger, "fragment done", "track", t.ID, "sequence", seg.MediaSequence, "bytes", totalBytes, "elapsed", time.Since(t0))
	t.adapter.Observe(totalBytes, time.Since(t0))
	t.failedCount = 0
	return nil
}

func (t *Track) processPlain(plain []byte, decryptor *fragment.Decryptor) {
	if len(plain) == 0 {
		return
	}
	if decryptor.TypefindDone() && decryptor.Caps().Format == typefind.ISOBMFF {
		fragments, _, uuidBoxes, err := t.walker.Push(plain)
		if err != nil {
			t.logger.Warn("scheduler: isobmff walk error", "track", t.ID, "error", err)
			return
		}
		for _, fr := range fragments {
			if fr.Moof != nil {
				table, rejected := isobmff.BuildSyncSampleTable(fr.Moof, int64(fr.Moof.Size), t.syncTable, t.tableSeeded, nil, 0, t.trackInfo)
				if !rejected {
					t.syncTable = table
					t.tableSeeded = true
				}
				continue
			}
			// mdat payload bytes, forwarded as they arrived.
			if len(fr.Mdat) > 0 {
				t.emit(Event{Kind: EventBuffer, TrackID: t.ID, Buffer: Buffer{
					Data:          fr.Mdat,
					Offset:        fr.MdatStart,
					Discontinuous: t.pendingDiscont,
				}})
				t.pendingDiscont = false
				t.fragmentFirstEmit = false
			}
		}
		_ = uuidBoxes // MSS tfxd/tfrf entries are consumed by internal/live, not this loop
		return
	}

	buffer := Buffer{Data: plain, Discontinuous: t.pendingDiscont}
	if t.fragmentFirstEmit && decryptor.TypefindDone() && decryptor.Caps().Format == typefind.MPEGTS {
		// Audio-only AAC carriers anchor their timeline with an Apple
		// ID3 PRIV timestamp in the first fragment; strip the tag and
		// carry its PTS. Other TS fragments anchor on the first PCR.
		if ptsNs, headerLen, ok := mpegts.AppleID3Timestamp(plain); ok {
			buffer.Data = plain[headerLen:]
			buffer.PTS = time.Duration(ptsNs)
		} else if offset, ok := mpegts.Detect(plain); ok {
			probe := mpegts.NewProbe()
			if err := probe.Scan(plain, offset); err == nil && probe.FirstPCR >= 0 {
				buffer.PTS = time.Duration(probe.FirstPCR)
			}
		}
	}
	t.fragmentFirstEmit = false
	t.pendingDiscont = false
	t.emit(Event{Kind: EventBuffer, TrackID: t.ID, Buffer: buffer})
}

// resolveKeyIV resolves the key/IV pair for seg, or (nil, nil) for a
// cleartext segment. Shared by buildDecryptor (streaming decrypt of a
// whole fragment) and fetchSampleRange (a standalone out-of-band decrypt
// of a refetched trick-mode byte range).
func (t *Track) resolveKeyIV(ctx context.Context, seg *playlist.Segment) (key, iv []byte, err error) {
	if seg.KeyURI == "" {
		return nil, nil, nil
	}
	key, err = t.keyCache.Get(ctx, seg.KeyURI, seg.AllowCache)
	if err != nil {
		return nil, nil, err
	}
	iv = seg.IV
	if iv == nil {
		iv = playlist.DefaultIV(seg.MediaSequence)
	}
	return key, iv, nil
}

func (t *Track) buildDecryptor(ctx context.Context, seg *playlist.Segment) (*fragment.Decryptor, error) {
	key, iv, err := t.resolveKeyIV(ctx, seg)
	if err != nil {
		return nil, err
	}
	return fragment.NewDecryptor(t.prober, key, iv)
}

// resolveRequestRange picks the byte range to request on the
// non-trick-mode path: SIDX sub-fragment range, else the
// segment's own byte range. Trick mode has its own chunked request flow
// (runTrickFragment), since each fragment's moof must be parsed before
// its byte range is known at all.
func (t *Track) resolveRequestRange(rep *playlist.Representation, seg *playlist.Segment) *playlist.ByteRange {
	if rep.SegmentIndexKind == playlist.SegmentIndexSIDX {
		// The sidx box itself must be fetched and parsed before a
		// sub-fragment's entry offsets are known; callers that want SIDX
		// addressing resolve that out of band and set seg.Range directly.
		return seg.Range
	}
	return seg.Range
}

// selectTrickSample applies the trick-mode target-time table to pick
// the next keyframe out of the most recently parsed sync-sample
// table. The running "now" position is approximated as the last
// selected keyframe's own running time, since this loop has no
// independent wall-clock playback position to diverge from it.
func (t *Track) selectTrickSample(rep *playlist.Representation) (isobmff.SyncSample, bool) {
	caps := TrickCaps{
		MaxFramerate:    t.cfg.MaxTrickFramerate,
		MaxBitrate:      t.cfg.MaxTrickBitrate,
		KeyframeAvgSize: t.syncTable.KeyframeAvgSize,
	}

	target := ComputeTargetTime(t.trickState, t.trickState.CurRT, caps, int(t.direction))
	step := target - t.trickState.CurRT
	if step < 0 {
		step = -step
	}

	avgSampleDur := t.averageSyncSampleDuration(rep)
	steps := 1
	if avgSampleDur > 0 {
		if n := int(step / avgSampleDur); n > steps {
			steps = n
		}
	}

	idx := t.trickIndex + steps*int(t.direction)
	idx = clampIndex(idx, len(t.syncTable.Samples))

	sample, ok := isobmff.SelectSyncSample(t.syncTable, idx)
	if !ok {
		return isobmff.SyncSample{}, false
	}

	t.trickIndex = idx
	t.trickState.ObserveSkip(step)
	t.trickState.CurRT = target

	return sample, true
}

// trickHeaderAllowance is a constant budget reserved for the moof box
// itself before its actual size is known, so
// the initial chunk almost always spans the whole moof.
const trickHeaderAllowance = 1536

// trickFallbackChunkSize is the initial chunk requested before any
// sync-sample table exists yet to seed InitialChunkSize's estimate
// (e.g. the very first fragment of a trick-mode representation).
const trickFallbackChunkSize = 64 * 1024

// aesBlockSize mirrors crypto/aes.BlockSize without importing crypto/aes
// here; internal/cipher owns the actual AES primitives.
const aesBlockSize = 16

// runTrickFragment is the chunked trick-mode download: an initial
// request sized to cover the header, the average moof, and one average
// keyframe; parse that fragment's own moof; then either keep
// the initial chunk (if the chosen sync sample directly follows the
// moof) or refetch it by range.
func (t *Track) runTrickFragment(ctx context.Context, rep *playlist.Representation, seg *playlist.Segment) error {
	baseOffset := int64(0)
	if seg.Range != nil {
		baseOffset = seg.Range.Offset
	}

	chunkSize := int64(trickFallbackChunkSize)
	if t.tableSeeded {
		chunkSize = InitialChunkSize(trickHeaderAllowance, t.syncTable)
	}

	t0 := time.Now()
	plain, totalBytes, err := t.fetchAndDecrypt(ctx, seg, baseOffset, baseOffset+chunkSize-1)
	if err != nil {
		return err
	}

	moof, mdatStart, _, ok, err := isobmff.PeekFragmentHeader(baseOffset, plain)
	if err != nil {
		return corestreamerrors.Wrap(corestreamerrors.TypefindFailed, "scheduler", "E911", "parsing trick-mode moof", err)
	}
	if !ok {
		// The initial chunk didn't even cover a full moof+mdat header;
		// fall back to the ordinary whole-fragment path for this fragment.
		return t.runFullFragment(ctx, rep, seg)
	}

	var partialMdat []byte
	if rel := mdatStart - baseOffset; rel >= 0 && rel < int64(len(plain)) {
		partialMdat = plain[rel:]
	}
	table, rejected := isobmff.BuildSyncSampleTable(moof, int64(moof.Size), t.syncTable, t.tableSeeded, partialMdat, mdatStart, t.trackInfo)
	if !rejected {
		t.syncTable = table
		t.tableSeeded = true
	}

	sample, ok := t.selectTrickSample(rep)
	if !ok {
		// No sync samples resolved from this fragment (e.g. trex
		// fallback rejected the table); nothing to emit this round.
		t.adapter.Observe(totalBytes, time.Since(t0))
		return nil
	}

	initialChunkEnd := baseOffset + int64(len(plain))
	keep, _ := RefineRange(sample, mdatStart, initialChunkEnd)

	var sampleData []byte
	if keep {
		start := sample.StartOffset - baseOffset
		end := sample.EndOffset - baseOffset
		if start >= 0 && end <= int64(len(plain)) {
			sampleData = append([]byte(nil), plain[start:end]...)
		} else {
			keep = false
		}
	}
	if !keep {
		sampleData, err = t.fetchSampleRange(ctx, seg, sample)
		if err != nil {
			return err
		}
	}

	t.emit(Event{Kind: EventBuffer, TrackID: t.ID, Buffer: Buffer{
		Data:   sampleData,
		Offset: sample.StartOffset,
	}})

	t.trickState.ObserveKeyframeFetch(time.Since(t0))
	t.failedCount = 0
	return nil
}

// fetchAndDecrypt fetches the byte range [rangeStart, rangeEnd] of
// seg.URI and decrypts it through a fresh Decryptor. Unlike
// runFullFragment's loop, Finish is never called: this range is a
// prefix of the fragment, not necessarily its true end, so there is no
// PKCS#7 tail to strip yet; PeekPending recovers the held-back block
// that Push would otherwise keep buffered until Finish.
func (t *Track) fetchAndDecrypt(ctx context.Context, seg *playlist.Segment, rangeStart, rangeEnd int64) ([]byte, int64, error) {
	decryptor, err := t.buildDecryptor(ctx, seg)
	if err != nil {
		return nil, 0, err
	}

	body, _, err := t.downloader.GetRange(ctx, seg.URI, rangeStart, rangeEnd)
	if err != nil {
		return nil, 0, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E912", "fetching trick-mode chunk", err)
	}
	defer body.Close()

	var totalBytes int64
	var plain []byte
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			totalBytes += int64(n)
			p, derr := decryptor.Push(buf[:n])
			if derr != nil {
				return nil, 0, corestreamerrors.Wrap(corestreamerrors.StreamDecrypt, "scheduler", "E913", "decrypting trick-mode chunk", derr)
			}
			plain = append(plain, p...)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, 0, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E914", "reading trick-mode chunk body", rerr)
		}
	}
	plain = append(plain, decryptor.PeekPending()...)

	return plain, totalBytes, nil
}

// fetchSampleRange refetches a trick-mode sync sample's exact byte
// range directly against seg.URI, independent of the initial chunk.
// For a cleartext segment this is a plain byte-range GET. For an
// encrypted segment it exploits AES-CBC's self-synchronizing property:
// decrypting ciphertext block N only needs ciphertext block N-1, so one
// extra preceding 16-byte block is fetched alongside the sample and fed
// to internal/cipher.AES128CBC.DecryptRange as that block's "IV",
// rather than replaying the whole fragment's decryption from its start.
// When the sample's aligned block starts at the fragment's first byte,
// the segment's real IV is used in place of a preceding block.
func (t *Track) fetchSampleRange(ctx context.Context, seg *playlist.Segment, sample isobmff.SyncSample) ([]byte, error) {
	baseOffset := int64(0)
	if seg.Range != nil {
		baseOffset = seg.Range.Offset
	}

	key, iv, err := t.resolveKeyIV(ctx, seg)
	if err != nil {
		return nil, err
	}

	if key == nil {
		body, _, err := t.downloader.GetRange(ctx, seg.URI, sample.StartOffset, sample.EndOffset-1)
		if err != nil {
			return nil, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E915", "refetching trick-mode sync sample", err)
		}
		defer body.Close()
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E916", "reading refetched sync sample", err)
		}
		return data, nil
	}

	alignedStart := sample.StartOffset - (sample.StartOffset-baseOffset)%aesBlockSize
	fetchStart := alignedStart
	var precedingBlock []byte
	if alignedStart == baseOffset {
		precedingBlock = iv
	} else {
		fetchStart = alignedStart - aesBlockSize
	}

	body, _, err := t.downloader.GetRange(ctx, seg.URI, fetchStart, sample.EndOffset-1)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E915", "refetching trick-mode sync sample", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.NetworkError, "scheduler", "E916", "reading refetched sync sample", err)
	}

	if precedingBlock == nil {
		precedingBlock = data[:aesBlockSize]
		data = data[aesBlockSize:]
	}

	plain, err := (corestreamcipher.AES128CBC{}).DecryptRange(key, precedingBlock, data)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.StreamDecrypt, "scheduler", "E917", "decrypting refetched sync sample", err)
	}

	off := sample.StartOffset - alignedStart
	end := off + (sample.EndOffset - sample.StartOffset)
	if end > int64(len(plain)) {
		end = int64(len(plain))
	}
	return plain[off:end], nil
}

// averageSyncSampleDuration converts the current sync-sample table's mean
// sample duration from track timescale units into wall-clock time.
func (t *Track) averageSyncSampleDuration(rep *playlist.Representation) time.Duration {
	if len(t.syncTable.Samples) == 0 || rep.Timescale == 0 {
		return 0
	}
	var sum uint64
	for _, s := range t.syncTable.Samples {
		sum += uint64(s.Duration)
	}
	avgTicks := float64(sum) / float64(len(t.syncTable.Samples))
	return time.Duration(avgTicks / float64(rep.Timescale) * float64(time.Second))
}

func clampIndex(i, n int) int {
	if n == 0 {
		return 0
	}
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (t *Track) applySwitch(target *playlist.Representation) {
	t.Set.SetCurrent(target)
	t.needHeader = true
	t.walker.Reset()
	t.syncTable = isobmff.SyncSampleTable{}
	t.tableSeeded = false
	t.pendingDiscont = true
	t.emit(Event{Kind: EventBitrateSwitch, TrackID: t.ID, Switch: BitrateSwitchEvent{
		ManifestURI: t.playlist.MPDURI,
		URI:         target.InitURI,
		Bitrate:     target.Bandwidth,
	}})
}

// handleFragmentError applies the fragment failure policy, returning
// true if the caller should retry the same fragment. Before a retry it
// waits out the playlist's minimum update period (no wait when the
// manifest signals none).
func (t *Track) handleFragmentError(err error) bool {
	t.failedCount++
	if t.failedCount < maxConsecutiveFailures {
		t.logger.Warn("scheduler: fragment failed, retrying", "track", t.ID, "attempt", t.failedCount, "error", err)
		var wait time.Duration
		t.playlist.Mu.RLock()
		if p := t.playlist.MinimumUpdatePeriod; p != nil {
			wait = *p
		}
		t.playlist.Mu.RUnlock()
		select {
		case <-t.ctx.Done():
		case <-time.After(wait):
		}
		return true
	}

	var fatal *corestreamerrors.Error
	if e, ok := err.(*corestreamerrors.Error); ok && e.Kind.Fatal() {
		fatal = e.AsFatal()
	} else {
		fatal = corestreamerrors.Wrap(corestreamerrors.ResourceNotFound, "scheduler", "E910",
			"fragment failed after max retries", err).AsFatal()
	}
	t.emitFatal(fatal)
	return false
}

// emit delivers ev to the host-facing channel, blocking (but honoring
// ctx cancellation) rather than dropping it. Emitted buffers must stay
// strictly ordered by presentation time, and a fatal error must reach
// the host before the session's tasks stop — silently dropping either
// on a full channel would violate both, so back-pressure here blocks
// the track's own goroutine instead of discarding the event.
func (t *Track) emit(ev Event) {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

func (t *Track) emitFatal(err error) {
	t.emit(Event{Kind: EventError, TrackID: t.ID, Err: err})
}
