//go:build !windows

package supervisor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/lysine/internal/contingency"
)

func childOptions(command ...string) contingency.Options {
	return contingency.Options{
		Command: command,
		Stdin:   strings.NewReader(""),
		Stdout:  io.Discard,
		Stderr:  io.Discard,
		Logger:  discardLogger(),
	}
}

func TestIntegration_FileWatchExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	path := filepath.Join(t.TempDir(), "heartbeat")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	mon, err := contingency.New(path, childOptions("sleep", "30"))
	require.NoError(t, err)
	s := New(mon, Options{
		MaxAge:       time.Second,
		PollInterval: 50 * time.Millisecond,
		Logger:       discardLogger(),
	})

	begin := time.Now()
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.GreaterOrEqual(t, time.Since(begin), time.Second)
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestIntegration_ChildExitEndsWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	path := filepath.Join(t.TempDir(), "heartbeat")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	mon, err := contingency.New(path, childOptions("sh", "-c", "exit 3"))
	require.NoError(t, err)
	s := New(mon, Options{
		MaxAge:       time.Minute,
		PollInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoEvidence, res.Reason)
}

func TestIntegration_StdinRelayKeepsChildAlive(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	pr, pw := io.Pipe()
	opts := childOptions("sh", "-c", "cat > /dev/null")
	opts.Stdin = pr
	mon, err := contingency.New(contingency.StdinSource, opts)
	require.NoError(t, err)

	// Feed a byte every 100ms for 1.5s, then close the input.
	go func() {
		defer func() { _ = pw.Close() }()
		for i := 0; i < 15; i++ {
			if _, err := pw.Write([]byte("x")); err != nil {
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	s := New(mon, Options{
		MaxAge:       500 * time.Millisecond,
		GraceTime:    200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	})
	begin := time.Now()
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.GreaterOrEqual(t, time.Since(begin), 1500*time.Millisecond)
}

func TestIntegration_StdinRelayWaitingInputWithoutGrace(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	opts := childOptions("sh", "-c", "cat > /dev/null")
	opts.Stdin = strings.NewReader("ping\n")
	mon, err := contingency.New(contingency.StdinSource, opts)
	require.NoError(t, err)

	s := New(mon, Options{
		MaxAge:       300 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	})
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.Greater(t, res.Polls, 1)
}

type endlessInput struct{}

func (endlessInput) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestIntegration_StdinRelayChildStopsReading(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	opts := childOptions("sleep", "30")
	opts.Stdin = endlessInput{}
	mon, err := contingency.New(contingency.StdinSource, opts)
	require.NoError(t, err)

	s := New(mon, Options{
		MaxAge:       time.Second,
		PollInterval: 50 * time.Millisecond,
		Logger:       discardLogger(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	begin := time.Now()
	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.Less(t, time.Since(begin), 5*time.Second)
}
