package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/lysine/internal/contingency"
	"github.com/loykin/lysine/internal/history"
	"github.com/loykin/lysine/internal/metrics"
)

// State is the supervisor's position in its start → watch → kill lifecycle.
type State string

const (
	StateStarting    State = "starting"
	StateWatching    State = "watching"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

var allStates = []string{string(StateStarting), string(StateWatching), string(StateTerminating), string(StateTerminated)}

// Reason records why the contingency was executed.
type Reason string

const (
	ReasonExpired    Reason = "expired"     // staleness exceeded MaxAge
	ReasonNoEvidence Reason = "no-evidence" // the monitor reported that no evidence will arrive
	ReasonCancelled  Reason = "cancelled"   // the supervisor itself was asked to stop
	ReasonError      Reason = "error"       // start or liveness check failed
)

// sinkTimeout bounds each history write.
const sinkTimeout = 5 * time.Second

// Options configures the watch loop.
type Options struct {
	MaxAge       time.Duration
	GraceTime    time.Duration
	PollInterval time.Duration
	Command      string // recorded in history
	Logger       *slog.Logger
	Sink         history.Sink // optional
}

// Result summarises a finished run.
type Result struct {
	Reason    Reason
	Age       time.Duration // last reported staleness
	Polls     int
	StartedAt time.Time
	EndedAt   time.Time
}

// Status is a point-in-time view of the supervisor for the status endpoint.
type Status struct {
	State      State     `json:"state"`
	Source     string    `json:"source"`
	PID        int       `json:"pid,omitempty"`
	MaxAge     float64   `json:"max_age_seconds"`
	AgeSeconds float64   `json:"age_seconds"`
	Polls      int       `json:"polls"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Reason     Reason    `json:"reason,omitempty"`
}

// Supervisor drives one contingency monitor: it starts the child, waits out
// the grace period, polls staleness at a fixed interval and kills the child
// once staleness exceeds MaxAge or the monitor reports no further evidence.
type Supervisor struct {
	mon   contingency.Monitor
	opts  Options
	log   *slog.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu     sync.RWMutex
	status Status
}

func New(mon contingency.Monitor, opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		mon:   mon,
		opts:  opts,
		log:   log.With("source", mon.Describe()),
		now:   time.Now,
		sleep: sleepCtx,
		status: Status{
			Source: mon.Describe(),
			MaxAge: opts.MaxAge.Seconds(),
		},
	}
}

// Run executes the whole lifecycle and returns once the child has been
// killed. Cancelling ctx kills the child early with ReasonCancelled. The
// returned error is non-nil only for start or liveness-check failures.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	res := Result{StartedAt: s.now()}
	source := s.mon.Describe()

	s.transition(StateStarting)
	if err := s.mon.Start(); err != nil {
		res.Reason = ReasonError
		res.EndedAt = s.now()
		s.setReason(ReasonError)
		s.transition(StateTerminated)
		return res, err
	}
	pid := pidOf(s.mon)
	s.mu.Lock()
	s.status.PID = pid
	s.status.StartedAt = res.StartedAt
	s.mu.Unlock()
	metrics.IncStart(source)
	metrics.SetMaxAge(source, s.opts.MaxAge.Seconds())
	s.log.Info("contingency in effect", "pid", pid, "max_age", s.opts.MaxAge, "grace_time", s.opts.GraceTime, "poll_interval", s.opts.PollInterval)
	s.record(ctx, history.EventStart, res)

	if g := s.opts.GraceTime; g > 0 {
		s.log.Debug("grace period", "duration", g)
		if err := s.sleep(ctx, g); err != nil {
			return s.terminate(ctx, res, ReasonCancelled), nil
		}
	}

	s.transition(StateWatching)
	for {
		age, ok, err := s.mon.Staleness()
		res.Polls++
		metrics.IncPoll(source)
		if err != nil {
			s.log.Error("liveness check failed", "error", err)
			return s.terminate(ctx, res, ReasonError), err
		}
		if !ok {
			return s.terminate(ctx, res, ReasonNoEvidence), nil
		}
		res.Age = age
		s.observe(age, res.Polls)
		if age > s.opts.MaxAge {
			return s.terminate(ctx, res, ReasonExpired), nil
		}
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return s.terminate(ctx, res, ReasonCancelled), nil
		}
	}
}

func (s *Supervisor) terminate(ctx context.Context, res Result, reason Reason) Result {
	s.transition(StateTerminating)
	res.Reason = reason
	if err := s.mon.Kill(); err != nil {
		s.log.Warn("kill failed", "error", err)
	}
	res.EndedAt = s.now()
	s.setReason(reason)
	metrics.IncKill(s.mon.Describe(), string(reason))
	s.log.Info("contingency executed", "reason", reason, "age", res.Age, "polls", res.Polls, "elapsed", res.EndedAt.Sub(res.StartedAt))
	s.record(context.WithoutCancel(ctx), history.EventKill, res)
	s.transition(StateTerminated)
	return res
}

// Status returns a snapshot of the current state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.status.State
	s.status.State = to
	s.mu.Unlock()
	metrics.SetState(s.mon.Describe(), string(to), allStates)
	s.log.Debug("state transition", "from", from, "to", to)
}

func (s *Supervisor) observe(age time.Duration, polls int) {
	s.mu.Lock()
	s.status.AgeSeconds = age.Seconds()
	s.status.Polls = polls
	s.mu.Unlock()
	metrics.SetStaleness(s.mon.Describe(), age.Seconds())
}

func (s *Supervisor) setReason(r Reason) {
	s.mu.Lock()
	s.status.Reason = r
	s.mu.Unlock()
}

func (s *Supervisor) record(ctx context.Context, typ history.EventType, res Result) {
	if s.opts.Sink == nil {
		return
	}
	st := s.Status()
	ev := history.Event{
		Type:       typ,
		OccurredAt: s.now(),
		Record: history.Record{
			Command:   s.opts.Command,
			PID:       st.PID,
			Source:    st.Source,
			MaxAge:    s.opts.MaxAge.Seconds(),
			StartedAt: res.StartedAt,
		},
	}
	if typ == history.EventKill {
		ev.Record.Reason = string(res.Reason)
		ev.Record.AgeSeconds = res.Age.Seconds()
		ev.Record.Polls = res.Polls
	}
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := s.opts.Sink.Send(ctx, ev); err != nil {
		s.log.Warn("failed to record history", "event", typ, "error", err)
	}
}

func pidOf(m contingency.Monitor) int {
	if p, ok := m.(interface{ PID() int }); ok {
		return p.PID()
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
