package contingency

import (
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killReapWait bounds how long Kill waits for the child to be reaped.
const killReapWait = 200 * time.Millisecond

// Child is the single spawned process owned by a monitor. It is created once
// by spawn and only ever checked for exit or killed.
type Child struct {
	cmd      *exec.Cmd
	killTree bool
	log      *slog.Logger

	mu      sync.Mutex
	exitErr error
	done    chan struct{} // closed once cmd.Wait returns
}

func spawn(argv []string, stdin io.Reader, stdout, stderr io.Writer, killTree bool, log *slog.Logger) (*Child, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, &SetupError{Op: "spawn", Path: argv[0], Err: err}
	}
	c := &Child{cmd: cmd, killTree: killTree, log: log, done: make(chan struct{})}
	go c.wait()
	return c, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()
	close(c.done)
}

// PID returns the child's process id.
func (c *Child) PID() int { return c.cmd.Process.Pid }

// Exited reports, without blocking, whether the child has ended.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the result of waiting on the child once it has exited.
func (c *Child) ExitErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

// Kill sends SIGKILL to the child, and to its descendants first when killTree
// is set. Failures are ignored: the child may already be gone.
func (c *Child) Kill() {
	if c.Exited() {
		return
	}
	if c.killTree {
		c.killDescendants(int32(c.PID()))
	}
	_ = c.cmd.Process.Kill()
	select {
	case <-c.done:
	case <-time.After(killReapWait):
		c.log.Debug("child not reaped after kill", "pid", c.PID())
	}
}

// killDescendants kills the process tree below pid, deepest first.
func (c *Child) killDescendants(pid int32) {
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return
	}
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, ch := range children {
		c.killDescendants(ch.Pid)
		if err := ch.Kill(); err == nil {
			c.log.Debug("killed descendant", "pid", ch.Pid, "parent", pid)
		}
	}
}
