/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
)

func newTestService(t *testing.T) (*Service, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Notification{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	bus := events.NewBus()
	cfg := &config.Config{AdminUsers: []string{"admin"}}
	return NewService(db, bus, cfg, zerolog.Nop()), bus
}

func TestVisibilityRules(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	if err := s.Create(ctx, "For Alice", "direct", models.NotificationInfo, "alice", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, "For Everyone", "role user", models.NotificationInfo, "", RoleUser); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, "For Admins", "role admin", models.NotificationWarning, "", RoleAdmin); err != nil {
		t.Fatalf("create: %v", err)
	}

	aliceRows, err := s.List(ctx, "alice", 50)
	if err != nil {
		t.Fatalf("list alice: %v", err)
	}
	if len(aliceRows) != 2 {
		t.Fatalf("alice sees %d rows, want 2 (direct + role user)", len(aliceRows))
	}
	for _, n := range aliceRows {
		if n.Title == "For Admins" {
			t.Fatalf("alice must not see admin notifications")
		}
	}

	adminRows, err := s.List(ctx, "admin", 50)
	if err != nil {
		t.Fatalf("list admin: %v", err)
	}
	if len(adminRows) != 2 {
		t.Fatalf("admin sees %d rows, want 2 (role user + role admin)", len(adminRows))
	}

	bobRows, err := s.List(ctx, "bob", 50)
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(bobRows) != 1 || bobRows[0].Title != "For Everyone" {
		t.Fatalf("bob sees %d rows, want only the role-user one", len(bobRows))
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, "News", "body", models.NotificationInfo, "carol", ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	count, err := s.UnreadCount(ctx, "carol")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 3 {
		t.Fatalf("unread = %d, want 3", count)
	}

	rows, err := s.List(ctx, "carol", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := s.MarkRead(ctx, rows[0].ID, "carol"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	count, err = s.UnreadCount(ctx, "carol")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 2 {
		t.Fatalf("unread after one read = %d, want 2", count)
	}

	// Reading twice must not duplicate the reader entry.
	if err := s.MarkRead(ctx, rows[0].ID, "carol"); err != nil {
		t.Fatalf("mark read twice: %v", err)
	}

	if err := s.MarkAllRead(ctx, "carol"); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	count, err = s.UnreadCount(ctx, "carol")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread after mark all = %d, want 0", count)
	}
}

func TestClearAllHidesRows(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	if err := s.Create(ctx, "Old News", "body", models.NotificationInfo, "", RoleUser); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ClearAll(ctx, "dave"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	rows, err := s.List(ctx, "dave", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("dave sees %d rows after clearing, want 0", len(rows))
	}

	// Clearing is per user; others still see the row.
	rows, err = s.List(ctx, "erin", 50)
	if err != nil {
		t.Fatalf("list erin: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("erin sees %d rows, want 1", len(rows))
	}
}

func TestLifecycleEventsBecomeNotifications(t *testing.T) {
	t.Parallel()

	s, bus := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)
	// Give the subscriber loop a moment to register.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventBroadcastInterrupted, events.Payload{
		"task_type": "schedule",
		"user":      "alice",
		"content":   "doors open",
	})
	waitForTitle(t, s, "admin", "Scheduled Announcement Interrupted")

	bus.Publish(events.EventEmergencyActivated, events.Payload{"user": "chief"})
	waitForTitle(t, s, "bob", "Emergency Activated")
	waitForTitle(t, s, "admin", "Emergency Activated")

	bus.Publish(events.EventBroadcastStarted, events.Payload{
		"task_type": "text",
		"user":      "alice",
		"content":   "a rather long announcement text that keeps going",
	})
	waitForTitle(t, s, "alice", "Live Text Announcement")

	rows, err := s.List(ctx, "alice", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, n := range rows {
		if n.Title == "Live Text Announcement" {
			want := "Now broadcasting text: a rather long announcement tex..."
			if n.Message != want {
				t.Fatalf("text preview = %q, want %q", n.Message, want)
			}
		}
	}
}

func waitForTitle(t *testing.T, s *Service, user, title string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := s.List(context.Background(), user, 50)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, n := range rows {
			if n.Title == title {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notification %q for %s never appeared", title, user)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 30); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcde" {
		t.Fatalf("truncate = %q, want abcde", got)
	}
}
