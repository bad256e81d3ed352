package contingency

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	relayChunkSize = 32 * 1024
	relayBacklog   = 64

	// relayWriteTimeout bounds each write into the child's stdin. A child
	// that stops reading fills the pipe; the write then times out and the
	// unwritten bytes wait for the next poll.
	relayWriteTimeout = 10 * time.Millisecond

	// Bounds on waiting for the first read of the input to complete before
	// the first verdict. Input known to be readable gets the long bound,
	// input known to be empty the short one.
	firstReadReady   = time.Second
	firstReadUnknown = 50 * time.Millisecond
	firstReadIdle    = 5 * time.Millisecond
)

// StdinRelay derives liveness from input arriving on the supervisor's stdin.
// Every chunk read is forwarded to the child's stdin through a pipe; the time
// of the last successful forward is the liveness evidence.
//
// A reader goroutine only moves chunks from the input into a buffered
// channel. Forwarding, and the last-forward timestamp, stay on the goroutine
// calling Staleness, so an empty channel means "nothing available right now".
type StdinRelay struct {
	opts  Options
	child *Child
	pipe  *os.File // write end; the read end is the child's stdin

	chunks      chan []byte
	firstRead   chan struct{} // closed once the first read of the input returned
	stop        chan struct{}
	stopOnce    sync.Once
	pending     []byte // read but not yet accepted by the child
	inputClosed bool
	last        time.Time
	forwarded   atomic.Int64
}

// NewStdinRelay returns a relay monitor. Nothing is read from stdin until Start.
func NewStdinRelay(opts Options) (*StdinRelay, error) {
	if len(opts.Command) == 0 {
		return nil, ErrEmptyCommand
	}
	return &StdinRelay{opts: opts.withDefaults()}, nil
}

// Start creates the pipe, spawns the child reading from it and begins
// pumping the supervisor's stdin.
func (s *StdinRelay) Start() error {
	if s.child != nil {
		return ErrAlreadyStarted
	}
	r, w, err := os.Pipe()
	if err != nil {
		return &SetupError{Op: "pipe", Err: err}
	}
	child, err := spawn(s.opts.Command, r, s.opts.Stdout, s.opts.Stderr, s.opts.KillTree, s.opts.Logger)
	// The child holds its own copy of the read end.
	_ = r.Close()
	if err != nil {
		_ = w.Close()
		return err
	}
	s.child = child
	s.pipe = w
	s.chunks = make(chan []byte, relayBacklog)
	s.firstRead = make(chan struct{})
	s.stop = make(chan struct{})
	go pump(s.opts.Stdin, s.chunks, s.firstRead, s.stop)
	s.opts.Logger.Debug("contingency in effect", "source", "stdin", "pid", child.PID(), "command", s.opts.commandLine())
	return nil
}

// pump copies in into ch chunk by chunk and closes ch at end of stream, on a
// read error, or once stop is closed. first is closed after the first read
// returns and its data, if any, is queued.
func pump(in io.Reader, ch chan<- []byte, first chan<- struct{}, stop <-chan struct{}) {
	defer close(ch)
	var once sync.Once
	signal := func() { once.Do(func() { close(first) }) }
	defer signal()

	buf := make([]byte, relayChunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch <- chunk:
			case <-stop:
				return
			}
		}
		signal()
		if err != nil {
			return
		}
	}
}

// Staleness forwards whatever input is immediately available and returns the
// time since the last forwarded byte. Until a byte has been forwarded there is
// no evidence and ok is false, even if input may still arrive.
func (s *StdinRelay) Staleness() (time.Duration, bool, error) {
	if s.child == nil {
		return 0, false, ErrNotStarted
	}
	if s.child.Exited() {
		return 0, false, nil
	}
	if s.last.IsZero() {
		s.awaitFirstRead()
	}
	s.relay()
	if s.last.IsZero() {
		return 0, false, nil
	}
	return since(s.opts.Now(), s.last), true, nil
}

// awaitFirstRead gives input that was already waiting when the child started
// the chance to reach the channel before it is judged absent.
func (s *StdinRelay) awaitFirstRead() {
	select {
	case <-s.firstRead:
		return
	default:
	}
	bound := firstReadUnknown
	if ready, known := inputReady(s.opts.Stdin); known {
		bound = firstReadIdle
		if ready {
			bound = firstReadReady
		}
	}
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case <-s.firstRead:
	case <-t.C:
	}
}

// relay drains available chunks into the child's stdin. It stops at end of
// input, when no chunk is ready, or when the child does not accept more
// bytes within relayWriteTimeout.
func (s *StdinRelay) relay() {
	for {
		if len(s.pending) == 0 {
			if s.inputClosed {
				return
			}
			select {
			case chunk, ok := <-s.chunks:
				if !ok {
					s.inputClosed = true
					s.opts.Logger.Debug("stdin closed", "forwarded_bytes", s.forwarded.Load())
					return
				}
				s.pending = chunk
			default:
				return
			}
		}
		n, err := s.write(s.pending)
		if n > 0 {
			s.forwarded.Add(int64(n))
			s.last = s.opts.Now()
			s.pending = s.pending[n:]
		}
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			s.opts.Logger.Debug("child stdin full", "pending_bytes", len(s.pending))
			return
		default:
			s.opts.Logger.Debug("child stdin not writable", "error", err)
			s.pending = nil
			return
		}
	}
}

func (s *StdinRelay) write(b []byte) (int, error) {
	if err := s.pipe.SetWriteDeadline(time.Now().Add(relayWriteTimeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return 0, err
	}
	return s.pipe.Write(b)
}

// Kill kills the child, closes the pipe and stops the reader.
func (s *StdinRelay) Kill() error {
	if s.child == nil {
		s.opts.Logger.Warn("cannot find child process to kill off", "source", "stdin")
		return ErrNotStarted
	}
	s.child.Kill()
	_ = s.pipe.Close()
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// Forwarded returns the number of bytes relayed to the child so far.
func (s *StdinRelay) Forwarded() int64 { return s.forwarded.Load() }

// PID returns the child's pid, or 0 before Start.
func (s *StdinRelay) PID() int {
	if s.child == nil {
		return 0
	}
	return s.child.PID()
}

func (s *StdinRelay) Describe() string { return "stdin" }
