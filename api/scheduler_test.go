package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/points"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
	ran   chan struct{}
}

func (f *fakeProcessor) ProcessAll(ctx context.Context) (points.RunResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return points.RunResult{RunID: "run-1", Processed: 1}, f.err
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, p Processor, at time.Time) *Scheduler {
	t.Helper()
	cfg := config.Default().Scheduler
	loc, err := cfg.Location()
	require.NoError(t, err)
	s := NewScheduler(p, cfg, loc, zerolog.Nop())
	s.now = func() time.Time { return at }
	return s
}

func bangkok(t *testing.T, hour, minute int) time.Time {
	loc, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	return time.Date(2026, time.March, 20, hour, minute, 0, 0, loc)
}

func TestScheduler_InWindow(t *testing.T) {
	s := newTestScheduler(t, &fakeProcessor{}, time.Time{})

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before opening", bangkok(t, 4, 59), false},
		{"opening", bangkok(t, 5, 0), true},
		{"midday", bangkok(t, 12, 30), true},
		{"last hour", bangkok(t, 20, 59), true},
		{"closed", bangkok(t, 21, 0), false},
		// 22:30 UTC is 05:30 the next day in Bangkok
		{"utc input", time.Date(2026, time.March, 20, 22, 30, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.InWindow(tt.at))
		})
	}
}

func TestScheduler_NextTick(t *testing.T) {
	s := newTestScheduler(t, &fakeProcessor{}, time.Time{})

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"just after the hour", bangkok(t, 10, 1), bangkok(t, 10, 30)},
		{"on a boundary", bangkok(t, 10, 30), bangkok(t, 11, 0)},
		{"just before the hour", bangkok(t, 10, 59), bangkok(t, 11, 0)},
		{"late evening", bangkok(t, 23, 45), time.Date(2026, time.March, 21, 0, 0, 0, 0, bangkok(t, 0, 0).Location())},
		// 03:10 UTC is 10:10 in Bangkok
		{"utc input", time.Date(2026, time.March, 20, 3, 10, 0, 0, time.UTC), bangkok(t, 10, 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextTick(tt.at)), "got %s", s.NextTick(tt.at))
		})
	}
}

func TestScheduler_RunNow(t *testing.T) {
	// GIVEN: A scheduler inside its window
	p := &fakeProcessor{}
	s := newTestScheduler(t, p, bangkok(t, 10, 0))

	// WHEN / THEN: A check fires a pass
	assert.True(t, s.RunNow(context.Background()))
	assert.Equal(t, 1, p.count())

	// GIVEN: The same scheduler at night
	s.now = func() time.Time { return bangkok(t, 23, 0) }

	// WHEN / THEN: Nothing runs
	assert.False(t, s.RunNow(context.Background()))
	assert.Equal(t, 1, p.count())
}

func TestScheduler_OverlapIsSkipped(t *testing.T) {
	p := &fakeProcessor{err: points.ErrRunInProgress}
	s := newTestScheduler(t, p, bangkok(t, 10, 0))

	assert.False(t, s.RunNow(context.Background()))
	assert.Equal(t, 1, p.count())
}

func TestScheduler_FailedPassStillCounts(t *testing.T) {
	p := &fakeProcessor{err: errors.New("database is locked")}
	s := newTestScheduler(t, p, bangkok(t, 10, 0))

	assert.True(t, s.RunNow(context.Background()))
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	// GIVEN: A long interval so only the initial check can fire
	p := &fakeProcessor{ran: make(chan struct{}, 1)}
	s := newTestScheduler(t, p, bangkok(t, 10, 0))
	s.Interval = time.Hour

	// WHEN
	s.Start()
	defer s.Stop()

	// THEN
	select {
	case <-p.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run on start")
	}
	assert.Equal(t, 1, p.count())
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	p := &fakeProcessor{}
	s := newTestScheduler(t, p, bangkok(t, 10, 0))
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Equal(t, 0, p.count())
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, &fakeProcessor{}, bangkok(t, 23, 0))
	s.Interval = time.Hour

	s.Start()
	s.Stop()
	s.Stop()
}
