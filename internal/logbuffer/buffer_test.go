package logbuffer

import (
	"testing"
	"time"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	t.Parallel()

	buf := New(3)
	for i, msg := range []string{"one", "two", "three", "four"} {
		buf.Add(LogEntry{Timestamp: time.Unix(int64(i), 0), Level: "info", Message: msg})
	}

	all := buf.GetAll()
	if len(all) != 3 {
		t.Fatalf("entry count: got %d want 3", len(all))
	}
	if all[0].Message != "two" || all[2].Message != "four" {
		t.Fatalf("unexpected ring order: %q .. %q", all[0].Message, all[2].Message)
	}
}

func TestQueryFiltersByLevelUserAndSearch(t *testing.T) {
	t.Parallel()

	buf := New(10)
	buf.Add(LogEntry{Level: "info", Component: "controller", Message: "broadcast started", Fields: map[string]interface{}{"user": "alice"}})
	buf.Add(LogEntry{Level: "error", Component: "audio", Message: "pipe broke", Fields: map[string]interface{}{"user": "bob"}})
	buf.Add(LogEntry{Level: "info", Component: "scheduler", Message: "tick"})

	if got := buf.Query(QueryParams{Level: "error"}); len(got) != 1 || got[0].Component != "audio" {
		t.Fatalf("level filter: got %+v", got)
	}
	if got := buf.Query(QueryParams{User: "alice"}); len(got) != 1 || got[0].Message != "broadcast started" {
		t.Fatalf("user filter: got %+v", got)
	}
	if got := buf.Query(QueryParams{Search: "BROADCAST"}); len(got) != 1 {
		t.Fatalf("case-insensitive search: got %d entries want 1", len(got))
	}
}

func TestWriterParsesZerologJSON(t *testing.T) {
	t.Parallel()

	buf := New(10)
	w := NewWriter(buf, nil)

	line := []byte(`{"level":"warn","component":"watchdog","user":"carol","message":"heartbeat stale"}`)
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	all := buf.GetAll()
	if len(all) != 1 {
		t.Fatalf("entry count: got %d want 1", len(all))
	}
	entry := all[0]
	if entry.Level != "warn" || entry.Component != "watchdog" || entry.Message != "heartbeat stale" {
		t.Fatalf("parsed entry: %+v", entry)
	}
	if user, _ := entry.Fields["user"].(string); user != "carol" {
		t.Fatalf("user field: got %q want carol", user)
	}
}

func TestStatsCountsLevels(t *testing.T) {
	t.Parallel()

	buf := New(5)
	buf.Add(LogEntry{Level: "info"})
	buf.Add(LogEntry{Level: "info"})
	buf.Add(LogEntry{Level: "error"})

	stats := buf.Stats()
	if stats.Count != 3 {
		t.Fatalf("count: got %d want 3", stats.Count)
	}
	if stats.LevelCount["info"] != 2 || stats.LevelCount["error"] != 1 {
		t.Fatalf("level counts: %+v", stats.LevelCount)
	}
}
