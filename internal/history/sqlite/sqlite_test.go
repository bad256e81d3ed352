package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/lysine/internal/history"
)

func testRecord() history.Record {
	return history.Record{
		Command:   "sleep 30",
		PID:       12345,
		Source:    "file:/tmp/heartbeat",
		MaxAge:    60,
		StartedAt: time.Now().Add(-time.Minute).UTC(),
	}
}

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := testRecord()

	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}

	rec.Reason = "expired"
	rec.AgeSeconds = 61.2
	rec.Polls = 612
	if err := sink.Send(ctx, history.Event{Type: history.EventKill, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send kill event: %v", err)
	}

	for _, typ := range []history.EventType{history.EventStart, history.EventKill} {
		n, err := sink.Count(ctx, typ)
		if err != nil {
			t.Fatalf("count %s: %v", typ, err)
		}
		if n != 1 {
			t.Errorf("expected 1 %s event, got %d", typ, n)
		}
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: testRecord()}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	n, err := sink.Count(ctx, history.EventStart)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: testRecord()}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
