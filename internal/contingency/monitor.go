package contingency

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// StdinSource is the source token that selects the StdinRelay variant.
const StdinSource = "-"

// Monitor tracks liveness evidence for a supervised child and owns its
// process handle.
//
// Staleness never sleeps. When ok is false no further evidence can be
// expected (the child exited, or no input has ever been relayed) and the
// caller should treat the contingency as expired. A non-nil error is fatal.
type Monitor interface {
	Start() error
	Staleness() (age time.Duration, ok bool, err error)
	Kill() error
	Describe() string
}

// Options configures the child a monitor launches.
type Options struct {
	Command  []string  // executable followed by its arguments
	Stdin    io.Reader // defaults to os.Stdin
	Stdout   io.Writer // defaults to os.Stdout
	Stderr   io.Writer // defaults to os.Stderr
	KillTree bool      // also kill descendants of the child
	Logger   *slog.Logger
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) commandLine() string { return strings.Join(o.Command, " ") }

// New selects the monitor variant for source: StdinSource relays the
// supervisor's stdin to the child, any other value is a path to watch.
func New(source string, opts Options) (Monitor, error) {
	if source == StdinSource {
		r, err := NewStdinRelay(opts)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	w, err := NewFileWatch(source, opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// since returns now-t clamped at zero so clock skew or a timestamp in the
// future never yields a negative age.
func since(now, t time.Time) time.Duration {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
