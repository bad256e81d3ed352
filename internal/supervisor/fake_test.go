package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock instead of blocking.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// fakeMonitor reports staleness from an evidence function evaluated against
// the fake clock.
type fakeMonitor struct {
	clock    *fakeClock
	evidence func(now time.Time) (time.Time, bool)
	exitAt   time.Time
	startErr error
	staleErr error

	started  bool
	killed   bool
	killedAt time.Time
	polls    []time.Time
}

func (m *fakeMonitor) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *fakeMonitor) Staleness() (time.Duration, bool, error) {
	now := m.clock.Now()
	m.polls = append(m.polls, now)
	if !m.exitAt.IsZero() && !now.Before(m.exitAt) {
		return 0, false, nil
	}
	if m.staleErr != nil {
		return 0, false, m.staleErr
	}
	ev, ok := m.evidence(now)
	if !ok {
		return 0, false, nil
	}
	age := now.Sub(ev)
	if age < 0 {
		age = 0
	}
	return age, true, nil
}

func (m *fakeMonitor) Kill() error {
	m.killed = true
	m.killedAt = m.clock.Now()
	return nil
}

func (m *fakeMonitor) Describe() string { return "fake" }

func (m *fakeMonitor) PID() int { return 4242 }

func fixedEvidence(t time.Time) func(time.Time) (time.Time, bool) {
	return func(time.Time) (time.Time, bool) { return t, true }
}

func noEvidence(time.Time) (time.Time, bool) { return time.Time{}, false }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestSupervisor(mon *fakeMonitor, opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	s := New(mon, opts)
	s.now = mon.clock.Now
	s.sleep = mon.clock.Sleep
	return s
}

// cancelAfter makes the supervisor's context expire once the fake clock
// has moved limit past its current value.
func cancelAfter(s *Supervisor, clock *fakeClock, limit time.Duration) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	deadline := clock.Now().Add(limit)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		if !clock.Now().Before(deadline) {
			cancel()
		}
		return clock.Sleep(ctx, d)
	}
	return ctx
}
