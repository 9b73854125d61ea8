/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications turns broadcast lifecycle events into persisted
// notification rows for the dashboard's bell menu. Rows target either a
// single user or a role; read and cleared state is tracked per user.
package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// Role targets understood by the dashboard.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Service persists notifications and serves the read/clear surface.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	cfg    *config.Config
	logger zerolog.Logger
}

// NewService creates the notification service.
func NewService(db *gorm.DB, bus events.Broker, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Start subscribes to the broadcast lifecycle and runs until the context
// is cancelled.
func (s *Service) Start(ctx context.Context) {
	deviceOnline := s.bus.Subscribe(events.EventDeviceOnline)
	started := s.bus.Subscribe(events.EventBroadcastStarted)
	interrupted := s.bus.Subscribe(events.EventBroadcastInterrupted)
	stopped := s.bus.Subscribe(events.EventBroadcastStopped)
	completed := s.bus.Subscribe(events.EventBroadcastCompleted)
	stale := s.bus.Subscribe(events.EventWatchdogStale)
	zombie := s.bus.Subscribe(events.EventWatchdogZombie)
	emergency := s.bus.Subscribe(events.EventEmergencyActivated)
	fired := s.bus.Subscribe(events.EventScheduleFired)

	defer func() {
		s.bus.Unsubscribe(events.EventDeviceOnline, deviceOnline)
		s.bus.Unsubscribe(events.EventBroadcastStarted, started)
		s.bus.Unsubscribe(events.EventBroadcastInterrupted, interrupted)
		s.bus.Unsubscribe(events.EventBroadcastStopped, stopped)
		s.bus.Unsubscribe(events.EventBroadcastCompleted, completed)
		s.bus.Unsubscribe(events.EventWatchdogStale, stale)
		s.bus.Unsubscribe(events.EventWatchdogZombie, zombie)
		s.bus.Unsubscribe(events.EventEmergencyActivated, emergency)
		s.bus.Unsubscribe(events.EventScheduleFired, fired)
	}()

	s.logger.Info().Msg("notification service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return

		case <-deviceOnline:
			s.Create(ctx, "Device Status", "PA system is online (Raspberry Pi/Service Started)",
				models.NotificationSuccess, "", RoleAdmin)

		case payload := <-started:
			s.handleStarted(ctx, payload)

		case payload := <-interrupted:
			s.handleInterrupted(ctx, payload)

		case <-stopped:
			s.broadcastEnded(ctx)
		case <-completed:
			s.broadcastEnded(ctx)
		case <-stale:
			s.broadcastEnded(ctx)
		case <-zombie:
			s.broadcastEnded(ctx)

		case <-emergency:
			s.Create(ctx, "Emergency Activated", "Emergency broadcast in progress. All other schedules paused.",
				models.NotificationError, "", RoleAdmin)
			s.Create(ctx, "Emergency Activated", "Emergency broadcast in progress.",
				models.NotificationError, "", RoleUser)

		case payload := <-fired:
			user, _ := payload["user"].(string)
			content, _ := payload["content"].(string)
			s.Create(ctx, "Scheduled Announcement Completed",
				fmt.Sprintf("Your announcement '%s...' finished successfully.", truncate(content, 20)),
				models.NotificationSuccess, user, "")
		}
	}
}

func (s *Service) handleStarted(ctx context.Context, payload events.Payload) {
	taskType, _ := payload["task_type"].(string)
	user, _ := payload["user"].(string)
	content, _ := payload["content"].(string)

	switch models.TaskType(taskType) {
	case models.TaskTypeSchedule:
		s.Create(ctx, "Scheduled Announcement Started", "Broadcast started...",
			models.NotificationSuccess, user, RoleAdmin)
	case models.TaskTypeText:
		s.Create(ctx, "Live Text Announcement",
			fmt.Sprintf("Now broadcasting text: %s...", truncate(content, 30)),
			models.NotificationInfo, user, RoleAdmin)
	}
}

func (s *Service) handleInterrupted(ctx context.Context, payload events.Payload) {
	taskType, _ := payload["task_type"].(string)
	user, _ := payload["user"].(string)
	content, _ := payload["content"].(string)

	switch models.TaskType(taskType) {
	case models.TaskTypeSchedule:
		msg := content
		if msg == "" {
			msg = "Msg"
		}
		s.Create(ctx, "Scheduled Announcement Interrupted",
			fmt.Sprintf("Schedule '%s' was interrupted by higher priority task.", msg),
			models.NotificationWarning, user, RoleAdmin)
	case models.TaskTypeVoice, models.TaskTypeText:
		s.Create(ctx, "Live Announcement Interrupted",
			"Your live broadcast was interrupted by a higher priority event (e.g. Emergency).",
			models.NotificationError, user, RoleAdmin)
	}
}

// broadcastEnded is shared by every stop-shaped event. Broadcasts are
// public, so the wrap-up goes to admins only.
func (s *Service) broadcastEnded(ctx context.Context) {
	s.Create(ctx, "Broadcast Ended", "Announcement finished or was stopped.",
		models.NotificationInfo, "", RoleAdmin)
}

// Create persists a notification row targeting a user, a role, or both,
// and announces it on the bus for live surfaces.
func (s *Service) Create(ctx context.Context, title, message string, typ models.NotificationType, targetUser, targetRole string) error {
	n := &models.Notification{
		ID:         uuid.New().String(),
		Title:      title,
		Message:    message,
		Type:       typ,
		TargetUser: targetUser,
		TargetRole: targetRole,
		ReadBy:     []string{},
		ClearedBy:  []string{},
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		s.logger.Error().Err(err).Str("title", title).Msg("failed to save notification")
		return err
	}

	telemetry.NotificationsSentTotal.WithLabelValues(string(typ)).Inc()
	s.logger.Debug().Str("title", title).Str("user", targetUser).Str("role", targetRole).Msg("notification created")
	s.bus.Publish(events.EventNotification, events.Payload{
		"id":          n.ID,
		"title":       title,
		"message":     message,
		"type":        string(typ),
		"target_user": targetUser,
		"target_role": targetRole,
	})
	return nil
}

// List returns the newest notifications visible to the user, cleared
// ones excluded. Admins additionally see role=admin rows.
func (s *Service) List(ctx context.Context, user string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.visible(ctx, user, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// UnreadCount reports how many visible notifications the user has not
// read yet.
func (s *Service) UnreadCount(ctx context.Context, user string) (int, error) {
	rows, err := s.visible(ctx, user, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range rows {
		if !rows[i].IsReadBy(user) {
			count++
		}
	}
	return count, nil
}

// MarkRead records the user as a reader of one notification.
func (s *Service) MarkRead(ctx context.Context, id, user string) error {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return err
	}
	if n.IsReadBy(user) {
		return nil
	}
	n.MarkRead(user)
	return s.db.WithContext(ctx).Model(&n).Update("read_by", n.ReadBy).Error
}

// MarkAllRead records the user as a reader of every visible notification.
func (s *Service) MarkAllRead(ctx context.Context, user string) error {
	rows, err := s.visible(ctx, user, 0)
	if err != nil {
		return err
	}
	for i := range rows {
		if rows[i].IsReadBy(user) {
			continue
		}
		rows[i].MarkRead(user)
		if err := s.db.WithContext(ctx).Model(&rows[i]).Update("read_by", rows[i].ReadBy).Error; err != nil {
			return err
		}
	}
	return nil
}

// Dismiss removes one notification from the user's list. Personal
// notifications are deleted outright; role-targeted ones are shared, so
// the user is only added to the cleared set.
func (s *Service) Dismiss(ctx context.Context, id, user string) error {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return err
	}

	if n.TargetRole == "" || n.TargetUser == user {
		return s.db.WithContext(ctx).Delete(&models.Notification{}, "id = ?", id).Error
	}

	for _, u := range n.ClearedBy {
		if u == user {
			return nil
		}
	}
	n.ClearedBy = append(n.ClearedBy, user)
	return s.db.WithContext(ctx).Model(&n).Update("cleared_by", n.ClearedBy).Error
}

// ClearAll hides every currently visible notification from the user's
// list without deleting the rows.
func (s *Service) ClearAll(ctx context.Context, user string) error {
	rows, err := s.visible(ctx, user, 0)
	if err != nil {
		return err
	}
	for i := range rows {
		rows[i].ClearedBy = append(rows[i].ClearedBy, user)
		if err := s.db.WithContext(ctx).Model(&rows[i]).Update("cleared_by", rows[i].ClearedBy).Error; err != nil {
			return err
		}
	}
	return nil
}

// visible loads rows targeted at the user, their role, or everyone with
// that role, newest first, and drops the ones the user cleared. Target
// membership lives in JSON columns, so the row filter happens here
// rather than in SQL; the table is appliance sized.
func (s *Service) visible(ctx context.Context, user string, limit int) ([]models.Notification, error) {
	roles := []string{RoleUser}
	if s.cfg.IsAdmin(user) {
		roles = append(roles, RoleAdmin)
	}

	query := s.db.WithContext(ctx).
		Where("target_user = ? OR target_role IN ?", user, roles).
		Order("created_at DESC")
	if limit > 0 {
		// Cleared rows are filtered after the scan; overfetch to keep
		// the page full.
		query = query.Limit(limit * 2)
	}

	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := rows[:0]
	for i := range rows {
		cleared := false
		for _, u := range rows[i].ClearedBy {
			if u == user {
				cleared = true
				break
			}
		}
		if !cleared {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// truncate limits s to n runes, the way the dashboard previews texts.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
