/*
scheduler.go - Periodic batch pass

PURPOSE:
  Fires Engine.ProcessAll on a fixed interval so new, edited and voided
  store-front documents reach the ledger without anyone pressing a button.

DESIGN:
  - Runs a background goroutine with a configurable interval, aligned to
    the wall clock in Location: a 30m interval fires on :00 and :30 no
    matter when the process started
  - Only fires while the local hour is inside [FromHour, ToHour]
    (default 05:00-20:59 Asia/Bangkok, the store opening hours)
  - Overlap is the engine's problem: a pass still running when the next
    tick arrives makes ProcessAll return ErrRunInProgress, which is
    logged and ignored
  - Stop cancels a pass in flight and waits for the goroutine to exit

USAGE:
  s := NewScheduler(engine, cfg.Scheduler, loc, log)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - handlers.go: ProcessAll endpoint (manual trigger)
  - points/engine.go: ProcessAll and the run lock
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/points"
)

// Processor runs one batch pass.
type Processor interface {
	ProcessAll(ctx context.Context) (points.RunResult, error)
}

// Scheduler triggers batch passes periodically.
type Scheduler struct {
	Processor Processor
	Interval  time.Duration
	FromHour  int
	ToHour    int
	Location  *time.Location
	Enabled   bool

	log zerolog.Logger
	now func() time.Time

	running bool
	stop    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler from configuration. loc is the resolved
// cfg.Timezone.
func NewScheduler(p Processor, cfg config.SchedulerConfig, loc *time.Location, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Processor: p,
		Interval:  cfg.Interval,
		FromHour:  cfg.ActiveFromHour,
		ToHour:    cfg.ActiveToHour,
		Location:  loc,
		Enabled:   cfg.Enabled,
		log:       log,
		now:       time.Now,
	}
}

// Start begins the scheduler. It runs one check immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("[Scheduler] Disabled, not starting")
		return
	}
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.running = true
	s.wg.Add(1)

	go s.run(ctx)

	s.log.Info().
		Dur("interval", s.Interval).
		Int("from_hour", s.FromHour).
		Int("to_hour", s.ToHour).
		Str("timezone", s.Location.String()).
		Msg("[Scheduler] Started")
}

// Stop stops the scheduler and waits for a pass in flight to wind down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("[Scheduler] Stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.check(ctx)

	for {
		now := s.now()
		timer := time.NewTimer(s.NextTick(now).Sub(now))
		select {
		case <-timer.C:
			s.check(ctx)
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// NextTick returns the first interval boundary strictly after t, counted
// from local midnight in Location.
func (s *Scheduler) NextTick(t time.Time) time.Time {
	local := t.In(s.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	elapsed := local.Sub(midnight)
	return midnight.Add((elapsed/s.Interval + 1) * s.Interval)
}

// RunNow performs one check immediately. It reports whether a pass ran.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	return s.check(ctx)
}

// InWindow reports whether t falls inside the active hours.
func (s *Scheduler) InWindow(t time.Time) bool {
	hour := t.In(s.Location).Hour()
	return hour >= s.FromHour && hour <= s.ToHour
}

func (s *Scheduler) check(ctx context.Context) bool {
	now := s.now()
	if !s.InWindow(now) {
		s.log.Debug().Time("now", now).Msg("[Scheduler] Outside active hours, skipping")
		return false
	}

	res, err := s.Processor.ProcessAll(ctx)
	switch {
	case errors.Is(err, points.ErrRunInProgress):
		s.log.Info().Msg("[Scheduler] Previous pass still running, skipping")
		return false
	case err != nil:
		s.log.Error().Err(err).Msg("[Scheduler] Pass failed")
		return true
	}

	if res.Processed > 0 || res.Failed > 0 {
		s.log.Info().
			Str("run_id", res.RunID).
			Int("processed", res.Processed).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("[Scheduler] Pass completed")
	}
	return true
}
