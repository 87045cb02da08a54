package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "proxyfig/pkg/logx"
)

// RunFunc is one collect+publish pass. reason is "schedule" for cron ticks
// or whatever the caller passed to Trigger.
type RunFunc func(ctx context.Context, reason string) error

const ReasonSchedule = "schedule"

// Service fires RunFunc on a schedule. A tick that arrives while a pass is
// still running is skipped, never queued.
type Service struct {
	log logx.Logger
	run RunFunc

	mu   sync.Mutex
	ctx  context.Context
	c    *cron.Cron
	spec Spec
	loc  *time.Location

	running atomic.Bool
	wg      sync.WaitGroup

	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	onSkip func()
}

func New(run RunFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{run: run, log: log}
}

// OnSkip registers a hook called for every skipped tick. Call before Start.
func (s *Service) OnSkip(fn func()) { s.onSkip = fn }

// Start schedules spec in loc. Passes run with ctx; cancel it (or call Stop)
// to end them.
func (s *Service) Start(ctx context.Context, spec Spec, loc *time.Location) error {
	if spec.Schedule == nil {
		return errors.New("scheduler: empty schedule")
	}
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler: already started")
	}
	s.ctx = ctx
	s.startLocked(spec, loc)
	return nil
}

func (s *Service) startLocked(spec Spec, loc *time.Location) {
	c := cron.New(cron.WithParser(Parser), cron.WithLocation(loc))
	c.Schedule(spec.Schedule, cron.FuncJob(func() {
		s.Trigger(s.ctx, ReasonSchedule)
	}))
	s.c = c
	s.spec = spec
	s.loc = loc
	c.Start()
	s.log.Info("schedule active",
		logx.String("schedule", spec.Raw),
		logx.String("kind", spec.Kind.String()),
		logx.String("timezone", loc.String()),
		logx.String("next", s.nextLocked().Format(time.RFC3339)),
	)
}

// Reschedule swaps the schedule without interrupting a pass in progress.
func (s *Service) Reschedule(spec Spec, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	if spec.Raw == s.spec.Raw && loc.String() == s.loc.String() {
		return
	}
	s.c.Stop()
	s.startLocked(spec, loc)
}

// Trigger runs a pass now unless one is already running. It reports whether
// the pass ran.
func (s *Service) Trigger(ctx context.Context, reason string) bool {
	if ctx == nil || ctx.Err() != nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.onSkip != nil {
			s.onSkip()
		}
		s.log.Warn("previous run still in progress; skipping", logx.String("reason", reason))
		return false
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()

	s.runs.Add(1)
	if err := s.run(ctx, reason); err != nil && !errors.Is(err, context.Canceled) {
		s.failed.Add(1)
		s.log.Error("run failed", logx.String("reason", reason), logx.Err(err))
	}
	return true
}

// Stop halts the schedule and waits for a running pass, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// Jobs already dispatched by cron may still reach Trigger; let them
		// finish before waiting on wg so Add never races Wait.
		if c != nil {
			<-c.Stop().Done()
		}
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

func (s *Service) nextLocked() time.Time {
	if s.c == nil {
		return time.Time{}
	}
	// Entries are only populated with Next once the cron loop has run; compute directly.
	return s.spec.Schedule.Next(time.Now().In(s.loc))
}

func (s *Service) Running() bool { return s.running.Load() }

// Stats is a point-in-time view of scheduler counters.
type Stats struct {
	Runs    uint64
	Skipped uint64
	Failed  uint64
}

func (s *Service) Stats() Stats {
	return Stats{Runs: s.runs.Load(), Skipped: s.skipped.Load(), Failed: s.failed.Load()}
}
