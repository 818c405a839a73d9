// Package live schedules manifest refreshes with a backoff policy,
// repositions every active track's sequence after a refresh, and
// computes the live seek range.
package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamcore/corestream/pkg/playlist"
)

// backoffMultiplier is the refresh-interval multiplier on the Nth
// consecutive refresh attempt since the last success: 0.5x the target
// duration on the first attempt, 1.5x on the second, 3x thereafter,
// reset on success.
func backoffMultiplier(attempt int) float64 {
	switch attempt {
	case 0:
		return 0.5
	case 1:
		return 1.5
	default:
		return 3.0
	}
}

// RefreshFunc performs one manifest refresh attempt, returning an error
// if it failed (network error, Inconsistent, etc).
type RefreshFunc func(ctx context.Context) error

// Controller drives one playlist's refresh loop.
type Controller struct {
	mu sync.Mutex

	playlist        *playlist.Playlist
	minUpdatePeriod time.Duration
	refresh         RefreshFunc
	logger          *slog.Logger

	cronScheduler *cron.Cron
	entryID       cron.EntryID
	attempt       int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController builds a Controller for pl, calling refresh to perform
// each attempt and using minUpdatePeriod as the floor on every refresh
// interval: the backoff-scaled target duration never schedules a refresh
// sooner than that.
func NewController(pl *playlist.Playlist, minUpdatePeriod time.Duration, refresh RefreshFunc, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		playlist:        pl,
		minUpdatePeriod: minUpdatePeriod,
		refresh:         refresh,
		logger:          logger,
		cronScheduler:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start begins the refresh loop with one immediate attempt.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.cronScheduler.Start()
	c.tick()
}

// Stop halts the refresh loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	doneCtx := c.cronScheduler.Stop()
	<-doneCtx.Done()
}

func (c *Controller) targetDuration() time.Duration {
	var maxDur time.Duration
	c.playlist.Mu.RLock()
	for _, period := range c.playlist.Periods {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				for _, seg := range rep.Segments {
					if seg.Duration > maxDur {
						maxDur = seg.Duration
					}
				}
			}
		}
	}
	c.playlist.Mu.RUnlock()
	return maxDur
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	attempt := c.attempt
	c.mu.Unlock()

	err := c.refresh(ctx)

	c.mu.Lock()
	if err != nil {
		c.attempt = attempt + 1
		c.logger.Warn("live: refresh failed", "attempt", c.attempt, "error", err)
	} else {
		c.attempt = 0
	}
	nextAttempt := c.attempt
	c.mu.Unlock()

	interval := c.nextInterval(nextAttempt)
	c.reschedule(interval)
}

func (c *Controller) nextInterval(attempt int) time.Duration {
	scaled := time.Duration(float64(c.targetDuration()) * backoffMultiplier(attempt))
	if scaled < c.minUpdatePeriod {
		return c.minUpdatePeriod
	}
	return scaled
}

func (c *Controller) reschedule(after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || c.ctx.Err() != nil {
		return
	}
	if c.entryID != 0 {
		c.cronScheduler.Remove(c.entryID)
	}
	schedule := cron.ConstantDelaySchedule{Delay: after}
	c.entryID = c.cronScheduler.Schedule(schedule, cron.FuncJob(c.tick))
}

// Reposition resolves a track's current sequence after a refresh. Live
// playlists clamp the sequence to [first, last-MinLiveDistance]; VOD
// playlists instead realign by presentation-time lookup at targetPos.
func Reposition(pl *playlist.Playlist, rep *playlist.Representation, currentSequence uint64, targetPos time.Duration) uint64 {
	pl.Mu.RLock()
	defer pl.Mu.RUnlock()

	segs := rep.Segments
	if len(segs) == 0 {
		return currentSequence
	}

	if !pl.IsLive {
		for _, seg := range segs {
			if targetPos < seg.PresentationTime+seg.Duration {
				return seg.MediaSequence
			}
		}
		return segs[len(segs)-1].MediaSequence
	}

	first := segs[0].MediaSequence
	last := segs[len(segs)-1].MediaSequence
	maxSeq := last
	if maxSeq >= uint64(playlist.MinLiveDistance) {
		maxSeq -= uint64(playlist.MinLiveDistance)
	} else {
		maxSeq = first
	}
	if maxSeq < first {
		maxSeq = first
	}

	switch {
	case currentSequence < first:
		return first
	case currentSequence > maxSeq:
		return maxSeq
	default:
		return currentSequence
	}
}

// SeekRange computes live_seek_range = (last_file_end -
// time_shift_buffer_depth, last_file_end - max_segment_duration), shifted
// by clockCompensation.
func SeekRange(pl *playlist.Playlist, rep *playlist.Representation, clockCompensation time.Duration) (start, stop time.Duration) {
	pl.Mu.RLock()
	defer pl.Mu.RUnlock()

	segs := rep.Segments
	if len(segs) == 0 {
		return 0, 0
	}
	last := segs[len(segs)-1]
	lastFileEnd := last.PresentationTime + last.Duration

	var maxDur time.Duration
	for _, seg := range segs {
		if seg.Duration > maxDur {
			maxDur = seg.Duration
		}
	}

	depth := maxDur
	if pl.TimeShiftBufferDepth != nil {
		depth = *pl.TimeShiftBufferDepth
	}

	start = lastFileEnd - depth + clockCompensation
	stop = lastFileEnd - maxDur + clockCompensation
	if start < 0 {
		start = 0
	}
	if stop < start {
		stop = start
	}
	return start, stop
}
