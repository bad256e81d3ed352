package contingency

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

var (
	// ErrNotStarted is returned when a monitor is polled or killed before Start.
	ErrNotStarted = errors.New("contingency never put into effect")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("contingency already in effect")
	// ErrEmptyCommand is returned when no command was given to supervise.
	ErrEmptyCommand = errors.New("command is required")
)

// SetupError reports a failure to put a contingency into effect: the watched
// file could not be opened, the stdin pipe could not be created, or the child
// could not be spawned. Setup errors are never retried.
type SetupError struct {
	Op   string // open, pipe, spawn
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// WatchError reports that the watched file became unreadable after it was
// successfully opened.
type WatchError struct {
	Path string
	Err  error
}

func (e *WatchError) Error() string { return fmt.Sprintf("watch %s: %v", e.Path, e.Err) }

func (e *WatchError) Unwrap() error { return e.Err }

// ExitCode maps err onto a process exit status. OS errors surface as their raw
// errno; a command missing from PATH is reported as ENOENT. Anything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return int(syscall.ENOENT)
	}
	return 1
}
