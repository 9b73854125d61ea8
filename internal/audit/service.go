/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
)

// Service appends a broadcast_logs row for every observable broadcast
// action by watching the event bus. The rows feed GET /logs and the
// scheduler's retention pass.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates the audit log writer.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to broadcast lifecycle events and records them until
// the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	started := s.bus.Subscribe(events.EventBroadcastStarted)
	completed := s.bus.Subscribe(events.EventBroadcastCompleted)
	interrupted := s.bus.Subscribe(events.EventBroadcastInterrupted)
	resumed := s.bus.Subscribe(events.EventBroadcastResumed)
	stopped := s.bus.Subscribe(events.EventBroadcastStopped)
	denied := s.bus.Subscribe(events.EventBroadcastDenied)
	stale := s.bus.Subscribe(events.EventWatchdogStale)
	zombie := s.bus.Subscribe(events.EventWatchdogZombie)
	emergencyOn := s.bus.Subscribe(events.EventEmergencyActivated)
	emergencyOff := s.bus.Subscribe(events.EventEmergencyCleared)

	defer func() {
		s.bus.Unsubscribe(events.EventBroadcastStarted, started)
		s.bus.Unsubscribe(events.EventBroadcastCompleted, completed)
		s.bus.Unsubscribe(events.EventBroadcastInterrupted, interrupted)
		s.bus.Unsubscribe(events.EventBroadcastResumed, resumed)
		s.bus.Unsubscribe(events.EventBroadcastStopped, stopped)
		s.bus.Unsubscribe(events.EventBroadcastDenied, denied)
		s.bus.Unsubscribe(events.EventWatchdogStale, stale)
		s.bus.Unsubscribe(events.EventWatchdogZombie, zombie)
		s.bus.Unsubscribe(events.EventEmergencyActivated, emergencyOn)
		s.bus.Unsubscribe(events.EventEmergencyCleared, emergencyOff)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-started:
			s.record(ctx, models.ActionStarted, payload, "")

		case payload := <-completed:
			s.record(ctx, models.ActionCompleted, payload, "")

		case payload := <-interrupted:
			s.record(ctx, models.ActionInterrupted, payload, "preempted")

		case payload := <-resumed:
			s.record(ctx, models.ActionStarted, payload, "resumed")

		case payload := <-stopped:
			s.record(ctx, models.ActionStopped, payload, "")

		case payload := <-denied:
			s.record(ctx, models.ActionDenied, payload, "")

		case payload := <-stale:
			s.record(ctx, models.ActionWatchdog, payload, "")

		case payload := <-zombie:
			s.record(ctx, models.ActionWatchdog, payload, "")

		case payload := <-emergencyOn:
			s.record(ctx, models.ActionEmergency, payload, "activated")

		case payload := <-emergencyOff:
			s.record(ctx, models.ActionEmergency, payload, "cleared")
		}
	}
}

// record maps an event payload onto a log row. Payloads are shared with
// other subscribers, so they are read, never mutated. An empty detail
// falls back to the payload's detail or reason field.
func (s *Service) record(ctx context.Context, action models.BroadcastAction, payload events.Payload, detail string) {
	entry := &models.BroadcastLog{
		ID:     uuid.NewString(),
		Action: action,
		Detail: detail,
	}
	if id, ok := payload["task_id"].(string); ok {
		entry.TaskID = id
	}
	if tt, ok := payload["task_type"].(string); ok {
		entry.TaskType = models.TaskType(tt)
	}
	if user, ok := payload["user"].(string); ok {
		entry.User = user
	}
	if zones, ok := payload["zones"].([]string); ok {
		entry.Zones = zones
	}
	if entry.Detail == "" {
		if d, ok := payload["detail"].(string); ok {
			entry.Detail = d
		}
	}
	if entry.Detail == "" {
		if r, ok := payload["reason"].(string); ok {
			entry.Detail = r
		}
	}

	if err := s.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to append broadcast log")
	}
}

// Append records a log entry directly, for writers outside the bus loop.
func (s *Service) Append(ctx context.Context, entry *models.BroadcastLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("task_id", entry.TaskID).
		Msg("broadcast log appended")
	return nil
}

// QueryFilters narrows the log listing.
type QueryFilters struct {
	User   string
	Action models.BroadcastAction
	TaskID string
	Since  *time.Time
	Limit  int
	Offset int
}

// Query retrieves broadcast log rows, most recent first, with the total
// row count for the applied filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.BroadcastLog, int64, error) {
	var logs []models.BroadcastLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.BroadcastLog{})

	if filters.User != "" {
		query = query.Where("user = ?", filters.User)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.TaskID != "" {
		query = query.Where("task_id = ?", filters.TaskID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// Update edits the mutable fields of a log row. Missing ids return
// gorm.ErrRecordNotFound.
func (s *Service) Update(ctx context.Context, id string, action models.BroadcastAction, detail string) error {
	var entry models.BroadcastLog
	if err := s.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return err
	}

	changes := map[string]any{}
	if action != "" {
		changes["action"] = action
	}
	if detail != "" {
		changes["detail"] = detail
	}
	if len(changes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&entry).Updates(changes).Error
}

// Purge deletes every row matching the filters and reports how many went.
func (s *Service) Purge(ctx context.Context, filters QueryFilters) (int64, error) {
	query := s.db.WithContext(ctx)
	if filters.User != "" {
		query = query.Where("user = ?", filters.User)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.TaskID != "" {
		query = query.Where("task_id = ?", filters.TaskID)
	}
	if filters.User == "" && filters.Action == "" && filters.TaskID == "" {
		query = query.Where("1 = 1")
	}

	res := query.Delete(&models.BroadcastLog{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// Delete removes a single log row. Returns gorm.ErrRecordNotFound when
// the id does not exist so the API can answer 404.
func (s *Service) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.BroadcastLog{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
