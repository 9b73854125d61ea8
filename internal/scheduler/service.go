/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the appliance's once-per-second housekeeping
// loop: the session watchdog, due-schedule promotion with recurrence,
// and periodic broadcast-log retention cleanup. It also rehydrates the
// schedule queue from the store at startup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// scheduleClockLayout matches the wall-clock pair stored on schedule rows.
const scheduleClockLayout = "2006-01-02 15:04"

// Broadcast is the slice of the controller the scheduler drives.
type Broadcast interface {
	CheckHeartbeats(ctx context.Context)
	PromoteDue(ctx context.Context, now time.Time) *models.Task
	Enqueue(task *models.Task)
}

// Service owns the tick loop.
type Service struct {
	db     *gorm.DB
	ctrl   Broadcast
	bus    events.Broker
	logger zerolog.Logger

	tick          time.Duration
	cleanupEvery  time.Duration
	logRetention  time.Duration
	cleanupLimit  int

	mu          sync.Mutex
	lastCleanup time.Time
}

// New constructs the scheduler service from the appliance config.
func New(cfg *config.Config, db *gorm.DB, ctrl Broadcast, bus events.Broker, logger zerolog.Logger) *Service {
	tick := cfg.SchedulerTick
	if tick <= 0 {
		tick = time.Second
	}
	cleanupEvery := cfg.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = 24 * time.Hour
	}
	retention := cfg.LogRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	limit := cfg.CleanupBatchLimit
	if limit <= 0 {
		limit = 100
	}
	return &Service{
		db:           db,
		ctrl:         ctrl,
		bus:          bus,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		tick:         tick,
		cleanupEvery: cleanupEvery,
		logRetention: retention,
		cleanupLimit: limit,
	}
}

// Run executes the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.tick).Msg("scheduler loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Service) runTick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	s.ctrl.CheckHeartbeats(ctx)

	if promoted := s.ctrl.PromoteDue(ctx, time.Now()); promoted != nil {
		s.emitRecurrence(ctx, promoted)
	}

	s.maybeCleanupLogs(ctx)
}

// LoadPending rebuilds the in-memory queue from Pending schedule rows.
// Called once at startup, before the loop starts. Rows whose wall-clock
// pair fails to parse are logged and skipped; a bad row must never keep
// the appliance from booting.
func (s *Service) LoadPending(ctx context.Context) error {
	var rows []models.Schedule
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.ScheduleStatusPending).
		Find(&rows).Error; err != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		return err
	}

	loaded := 0
	for i := range rows {
		row := &rows[i]
		at, err := row.At()
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", row.ID).Msg("skipping unparsable schedule row")
			continue
		}
		s.ctrl.Enqueue(taskForRow(row, at))
		loaded++
	}

	s.logger.Info().Int("loaded", loaded).Int("rows", len(rows)).Msg("pending schedules rehydrated")
	return nil
}

// emitRecurrence writes the follow-up row for a daily or weekly schedule
// that just fired and queues its task. The next instance keeps the
// original wall-clock time string, so interruptions that shifted this
// firing never drift the series.
func (s *Service) emitRecurrence(ctx context.Context, fired *models.Task) {
	repeat := fired.Data.Repeat
	if !repeat.IsRecurring() {
		return
	}

	baseDate, clock := fired.Data.Date, fired.Data.Time
	if baseDate == "" || clock == "" {
		baseDate, clock = models.SplitClock(fired.ScheduledTime)
	}
	base, err := time.ParseInLocation(scheduleClockLayout, baseDate+" "+clock, time.Local)
	if err != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("task_id", fired.ID).Msg("recurrence base time unparsable")
		return
	}

	nextDate := base.AddDate(0, 0, repeat.Days()).Format("2006-01-02")

	row := &models.Schedule{
		ID:       uuid.New().String(),
		Date:     nextDate,
		Time:     clock,
		Message:  fired.Data.Content,
		AudioKey: fired.Data.AudioKey,
		Voice:    fired.Data.Voice,
		Zones:    fired.Data.Zones,
		Repeat:   repeat,
		Status:   models.ScheduleStatusPending,
		User:     fired.Data.User,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("schedule_id", row.ID).Msg("failed to persist recurrence")
		return
	}

	at, err := row.At()
	if err != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("schedule_id", row.ID).Msg("recurrence row unparsable after write")
		return
	}
	s.ctrl.Enqueue(taskForRow(row, at))

	s.logger.Info().
		Str("schedule_id", row.ID).
		Str("date", nextDate).
		Str("time", clock).
		Str("repeat", string(repeat)).
		Msg("recurrence scheduled")
	s.bus.Publish(events.EventScheduleCreated, events.Payload{
		"schedule_id": row.ID,
		"date":        nextDate,
		"time":        clock,
		"repeat":      string(repeat),
		"user":        row.User,
	})
}

// maybeCleanupLogs purges broadcast log rows past retention, at most one
// bounded batch per cleanup interval.
func (s *Service) maybeCleanupLogs(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastCleanup) < s.cleanupEvery {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().Add(-s.logRetention)

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.BroadcastLog{}).
		Where("created_at < ?", cutoff).
		Order("created_at asc").
		Limit(s.cleanupLimit).
		Pluck("id", &ids).Error; err != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		s.logger.Warn().Err(err).Msg("log cleanup query failed")
		return
	}
	if len(ids) == 0 {
		return
	}

	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.BroadcastLog{})
	if result.Error != nil {
		telemetry.SchedulerErrorsTotal.Inc()
		s.logger.Warn().Err(result.Error).Msg("log cleanup delete failed")
		return
	}

	telemetry.LogsPurgedTotal.Add(float64(result.RowsAffected))
	s.logger.Info().Int64("purged", result.RowsAffected).Time("cutoff", cutoff).Msg("old broadcast logs purged")
	s.bus.Publish(events.EventLogCleanup, events.Payload{"purged": result.RowsAffected})
}

// taskForRow builds the queue task for a schedule row. The task id is
// the row id so queue membership, promotion, and removal all key on the
// same identifier.
func taskForRow(row *models.Schedule, at time.Time) *models.Task {
	task := models.NewScheduledTask(at, models.TaskData{
		User:       row.User,
		Zones:      row.Zones,
		Content:    row.Message,
		Voice:      row.Voice,
		Repeat:     row.Repeat,
		Date:       row.Date,
		Time:       row.Time,
		AudioKey:   row.AudioKey,
		ScheduleID: row.ID,
	})
	task.ID = row.ID
	return task
}
