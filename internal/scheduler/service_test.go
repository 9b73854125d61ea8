/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
)

type fakeBroadcast struct {
	mu        sync.Mutex
	checks    int
	enqueued  []*models.Task
	promoted  *models.Task
}

func (f *fakeBroadcast) CheckHeartbeats(ctx context.Context) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
}

func (f *fakeBroadcast) PromoteDue(ctx context.Context, now time.Time) *models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.promoted
	f.promoted = nil
	return p
}

func (f *fakeBroadcast) Enqueue(task *models.Task) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, task)
	f.mu.Unlock()
}

func (f *fakeBroadcast) queued() []*models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Task(nil), f.enqueued...)
}

func newTestService(t *testing.T, ctrl *fakeBroadcast) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Schedule{}, &models.BroadcastLog{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	cfg := &config.Config{
		SchedulerTick:     time.Second,
		CleanupInterval:   24 * time.Hour,
		LogRetention:      7 * 24 * time.Hour,
		CleanupBatchLimit: 100,
	}
	return New(cfg, db, ctrl, events.NewBus(), zerolog.Nop()), db
}

func TestLoadPendingRehydratesQueue(t *testing.T) {
	t.Parallel()

	ctrl := &fakeBroadcast{}
	s, db := newTestService(t, ctrl)

	rows := []models.Schedule{
		{ID: "row-ok", Date: "2026-03-01", Time: "08:30", Message: "doors open", Status: models.ScheduleStatusPending, User: "alice", Repeat: models.RepeatOnce},
		{ID: "row-bad", Date: "2026-03-01", Time: "25:99", Message: "broken", Status: models.ScheduleStatusPending, User: "alice"},
		{ID: "row-done", Date: "2026-03-01", Time: "09:00", Message: "already played", Status: models.ScheduleStatusCompleted, User: "alice"},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create row: %v", err)
		}
	}

	if err := s.LoadPending(context.Background()); err != nil {
		t.Fatalf("LoadPending: %v", err)
	}

	queued := ctrl.queued()
	if len(queued) != 1 {
		t.Fatalf("queued %d tasks, want 1 (bad and completed rows skipped)", len(queued))
	}
	task := queued[0]
	if task.ID != "row-ok" || task.Data.ScheduleID != "row-ok" {
		t.Fatalf("task keyed %q/%q, want the row id", task.ID, task.Data.ScheduleID)
	}
	want := time.Date(2026, 3, 1, 8, 30, 0, 0, time.Local)
	if !task.ScheduledTime.Equal(want) {
		t.Fatalf("scheduled time = %v, want %v", task.ScheduledTime, want)
	}
	if task.Type != models.TaskTypeSchedule || task.Priority != models.PrioritySchedule {
		t.Fatalf("task type/priority = %v/%v", task.Type, task.Priority)
	}
}

func TestRecurrenceEmitsNextInstance(t *testing.T) {
	t.Parallel()

	ctrl := &fakeBroadcast{}
	s, db := newTestService(t, ctrl)

	fired := models.NewScheduledTask(time.Now(), models.TaskData{
		User:    "alice",
		Content: "morning briefing",
		Zones:   []string{"Lobby"},
		Repeat:  models.RepeatDaily,
		Date:    "2026-03-01",
		Time:    "08:30",
	})
	s.emitRecurrence(context.Background(), fired)

	var rows []models.Schedule
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("recurrence wrote %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.Date != "2026-03-02" || row.Time != "08:30" {
		t.Fatalf("next instance at %s %s, want 2026-03-02 08:30", row.Date, row.Time)
	}
	if row.Status != models.ScheduleStatusPending || row.Repeat != models.RepeatDaily {
		t.Fatalf("row status/repeat = %s/%s", row.Status, row.Repeat)
	}
	if row.Message != "morning briefing" || row.User != "alice" {
		t.Fatalf("row content carried wrong: %q by %q", row.Message, row.User)
	}

	queued := ctrl.queued()
	if len(queued) != 1 || queued[0].ID != row.ID {
		t.Fatalf("next instance not queued under the new row id")
	}
}

func TestRecurrenceWeeklySkipsSevenDays(t *testing.T) {
	t.Parallel()

	ctrl := &fakeBroadcast{}
	s, _ := newTestService(t, ctrl)

	fired := models.NewScheduledTask(time.Now(), models.TaskData{
		User:   "bob",
		Repeat: models.RepeatWeekly,
		Date:   "2026-02-27",
		Time:   "17:00",
	})
	s.emitRecurrence(context.Background(), fired)

	queued := ctrl.queued()
	if len(queued) != 1 {
		t.Fatalf("queued %d tasks, want 1", len(queued))
	}
	if queued[0].Data.Date != "2026-03-06" || queued[0].Data.Time != "17:00" {
		t.Fatalf("weekly recurrence at %s %s, want 2026-03-06 17:00", queued[0].Data.Date, queued[0].Data.Time)
	}
}

func TestRecurrenceIgnoresOneShots(t *testing.T) {
	t.Parallel()

	ctrl := &fakeBroadcast{}
	s, db := newTestService(t, ctrl)

	fired := models.NewScheduledTask(time.Now(), models.TaskData{
		User:   "bob",
		Repeat: models.RepeatOnce,
		Date:   "2026-02-27",
		Time:   "17:00",
	})
	s.emitRecurrence(context.Background(), fired)

	var count int64
	if err := db.Model(&models.Schedule{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 || len(ctrl.queued()) != 0 {
		t.Fatalf("one-shot schedule must not recur: rows=%d queued=%d", count, len(ctrl.queued()))
	}
}

func TestCleanupPurgesOldLogsInBatches(t *testing.T) {
	t.Parallel()

	ctrl := &fakeBroadcast{}
	s, db := newTestService(t, ctrl)
	ctx := context.Background()

	old := time.Now().Add(-8 * 24 * time.Hour)
	for i := 0; i < 120; i++ {
		row := &models.BroadcastLog{
			ID:        uuid.New().String(),
			TaskID:    uuid.New().String(),
			TaskType:  models.TaskTypeText,
			User:      "alice",
			Action:    models.ActionCompleted,
			CreatedAt: old.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("create log: %v", err)
		}
	}
	recent := &models.BroadcastLog{
		ID:        uuid.New().String(),
		TaskID:    uuid.New().String(),
		TaskType:  models.TaskTypeVoice,
		User:      "bob",
		Action:    models.ActionStarted,
		CreatedAt: time.Now(),
	}
	if err := db.Create(recent).Error; err != nil {
		t.Fatalf("create recent log: %v", err)
	}

	s.maybeCleanupLogs(ctx)

	var count int64
	if err := db.Model(&models.BroadcastLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 21 {
		t.Fatalf("after first pass %d rows remain, want 21 (batch limit 100)", count)
	}

	// Within the interval the cleanup must not run again.
	s.maybeCleanupLogs(ctx)
	if err := db.Model(&models.BroadcastLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 21 {
		t.Fatalf("interval guard failed, %d rows remain", count)
	}

	s.mu.Lock()
	s.lastCleanup = time.Now().Add(-25 * time.Hour)
	s.mu.Unlock()
	s.maybeCleanupLogs(ctx)
	if err := db.Model(&models.BroadcastLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("after second pass %d rows remain, want only the recent one", count)
	}

	var kept models.BroadcastLog
	if err := db.First(&kept).Error; err != nil {
		t.Fatalf("load survivor: %v", err)
	}
	if kept.ID != recent.ID {
		t.Fatalf("wrong row survived cleanup: %s", kept.ID)
	}
}

func TestTickChecksWatchdogAndPromotes(t *testing.T) {
	t.Parallel()

	promoted := models.NewScheduledTask(time.Now(), models.TaskData{
		User:   "alice",
		Repeat: models.RepeatDaily,
		Date:   "2026-03-01",
		Time:   "12:00",
	})
	ctrl := &fakeBroadcast{promoted: promoted}
	s, db := newTestService(t, ctrl)

	// Avoid the cleanup pass interfering with row counts.
	s.mu.Lock()
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	s.runTick(context.Background())

	ctrl.mu.Lock()
	checks := ctrl.checks
	ctrl.mu.Unlock()
	if checks != 1 {
		t.Fatalf("watchdog ran %d times, want 1", checks)
	}

	var count int64
	if err := db.Model(&models.Schedule{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("promotion of a daily schedule should write 1 recurrence row, got %d", count)
	}
}
