package clockdrift

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Service owns one Offset and keeps it fresh by round-robining across a
// set of Sources, rescheduling itself at SlowInterval after a successful
// sample and FastInterval after a failed one.
//
// Scheduling is built on github.com/robfig/cron/v3 driving a
// self-rescheduling one-shot entry (remove-and-re-add on each tick)
// instead of a fixed cron expression.
type Service struct {
	mu sync.Mutex

	sources []Source
	next    int

	offset *Offset
	logger *slog.Logger

	cronScheduler *cron.Cron
	entryID       cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds a Service over the given sources, publishing sampled
// offsets into offset. sources may be empty, in which case Start is a
// no-op and Offset.Now() always returns the unmodified local clock.
func NewService(sources []Source, offset *Offset, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sources:       sources,
		offset:        offset,
		logger:        logger,
		cronScheduler: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start runs one immediate sample and begins the resample loop. It
// returns once the first sample attempt (success or failure) completes.
func (svc *Service) Start(ctx context.Context) {
	svc.mu.Lock()
	if svc.ctx != nil {
		svc.mu.Unlock()
		return
	}
	svc.ctx, svc.cancel = context.WithCancel(ctx)
	svc.mu.Unlock()

	svc.cronScheduler.Start()
	svc.tick()
}

// Stop halts the resample loop.
func (svc *Service) Stop() {
	svc.mu.Lock()
	cancel := svc.cancel
	svc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	ctx := svc.cronScheduler.Stop()
	<-ctx.Done()
}

// tick samples the next source in round-robin order, updates the offset
// on success, and reschedules itself.
func (svc *Service) tick() {
	svc.mu.Lock()
	if svc.ctx == nil || svc.ctx.Err() != nil {
		svc.mu.Unlock()
		return
	}
	if len(svc.sources) == 0 {
		svc.mu.Unlock()
		return
	}
	source := svc.sources[svc.next%len(svc.sources)]
	svc.next++
	ctx := svc.ctx
	svc.mu.Unlock()

	interval := svc.sample(ctx, source)
	svc.reschedule(interval)
}

// sample performs one round-trip against source and, on success,
// publishes a new compensation value computed from the midpoint
// assumption: the server's reported time corresponds to the midpoint of
// the local send/receive window.
func (svc *Service) sample(ctx context.Context, source Source) time.Duration {
	sampleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	serverNow, sentAt, receivedAt, err := source.Sample(sampleCtx)
	if err != nil {
		svc.logger.Warn("clockdrift: sample failed", "source", source.String(), "error", err)
		return FastInterval
	}

	rtt := receivedAt.Sub(sentAt)
	localMidpoint := sentAt.Add(rtt / 2)
	compensation := serverNow.Sub(localMidpoint)

	svc.offset.set(compensation.Microseconds())
	svc.logger.Debug("clockdrift: sample ok", "source", source.String(),
		"compensation", compensation, "rtt", rtt)
	return SlowInterval
}

func (svc *Service) reschedule(after time.Duration) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.ctx == nil || svc.ctx.Err() != nil {
		return
	}
	if svc.entryID != 0 {
		svc.cronScheduler.Remove(svc.entryID)
	}
	schedule := cron.ConstantDelaySchedule{Delay: after}
	svc.entryID = svc.cronScheduler.Schedule(schedule, cron.FuncJob(svc.tick))
}

// String reports the service's configured sources, for diagnostic output.
func (svc *Service) String() string {
	names := make([]string, 0, len(svc.sources))
	for _, s := range svc.sources {
		names = append(names, s.String())
	}
	return fmt.Sprintf("clockdrift.Service{sources=%v}", names)
}
