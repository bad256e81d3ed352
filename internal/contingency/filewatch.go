package contingency

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileWatch derives liveness from the modification time of a file. The file
// is opened once, when the monitor is built, and stat'ed through that handle
// on every poll.
type FileWatch struct {
	opts  Options
	path  string
	file  *os.File
	child *Child
}

// NewFileWatch opens path and returns a monitor for it. The child is not
// started until Start.
func NewFileWatch(path string, opts Options) (*FileWatch, error) {
	if len(opts.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &SetupError{Op: "open", Path: path, Err: err}
	}
	return &FileWatch{opts: opts.withDefaults(), path: path, file: f}, nil
}

// Start spawns the child with the supervisor's standard streams.
func (w *FileWatch) Start() error {
	if w.child != nil {
		return ErrAlreadyStarted
	}
	child, err := spawn(w.opts.Command, w.opts.Stdin, w.opts.Stdout, w.opts.Stderr, w.opts.KillTree, w.opts.Logger)
	if err != nil {
		return err
	}
	w.child = child
	w.opts.Logger.Debug("contingency in effect", "source", w.path, "pid", child.PID(), "command", w.opts.commandLine())
	return nil
}

// Staleness returns the time since the watched file was last modified. It is
// only terminal when the child has exited.
func (w *FileWatch) Staleness() (time.Duration, bool, error) {
	if w.child == nil {
		return 0, false, ErrNotStarted
	}
	if w.child.Exited() {
		return 0, false, nil
	}
	fi, err := w.file.Stat()
	if err != nil {
		return 0, false, &WatchError{Path: w.path, Err: err}
	}
	return since(w.opts.Now(), fi.ModTime()), true, nil
}

// Kill kills the child and releases the watched file.
func (w *FileWatch) Kill() error {
	if w.child == nil {
		w.opts.Logger.Warn("cannot find child process to kill off", "source", w.path)
		return ErrNotStarted
	}
	w.child.Kill()
	_ = w.file.Close()
	return nil
}

// PID returns the child's pid, or 0 before Start.
func (w *FileWatch) PID() int {
	if w.child == nil {
		return 0
	}
	return w.child.PID()
}

func (w *FileWatch) Describe() string { return fmt.Sprintf("file:%s", w.path) }
