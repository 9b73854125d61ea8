/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	// Source database drivers. The appliance's own store goes through
	// GORM; the legacy side is plain database/sql.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/storage"
)

// LegacyImporter copies Pending schedules and unread notifications out of
// a first-generation PA server database. Completed rows and read
// notifications stay behind; the legacy box remains the archive.
type LegacyImporter struct {
	db     *gorm.DB
	assets *storage.Assets // nil drops inline audio payloads with a warning
	logger zerolog.Logger
}

// NewLegacyImporter creates a legacy PA server importer.
func NewLegacyImporter(db *gorm.DB, assets *storage.Assets, logger zerolog.Logger) *LegacyImporter {
	return &LegacyImporter{
		db:     db,
		assets: assets,
		logger: logger.With().Str("importer", "legacy").Logger(),
	}
}

// driverForDSN picks the source driver. Postgres URLs and key=value DSNs
// go through lib/pq; anything else is treated as a SQLite file path.
func driverForDSN(options Options) string {
	if options.Driver != "" {
		return options.Driver
	}
	dsn := options.DSN
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

func (l *LegacyImporter) open(ctx context.Context, options Options) (*sql.DB, error) {
	driver := driverForDSN(options)
	if driver != "postgres" && driver != "sqlite3" {
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}

	src, err := sql.Open(driver, options.DSN)
	if err != nil {
		return nil, err
	}
	src.SetMaxOpenConns(2)

	if err := src.PingContext(ctx); err != nil {
		src.Close()
		return nil, err
	}
	return src, nil
}

// Validate checks if the migration can proceed.
func (l *LegacyImporter) Validate(ctx context.Context, options Options) error {
	var errs ValidationErrors

	if options.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "dsn",
			Message: "source database DSN is required",
		})
	}

	if len(errs) == 0 {
		src, err := l.open(ctx, options)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "dsn",
				Message: fmt.Sprintf("failed to connect to legacy database: %v", err),
			})
		} else {
			src.Close()
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Analyze counts what an import would copy without making changes.
func (l *LegacyImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	src, err := l.open(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("connect legacy database: %w", err)
	}
	defer src.Close()

	result := &Result{
		Warnings: []string{},
		Skipped:  make(map[string]int),
	}

	if !options.SkipSchedules {
		count, err := countRows(ctx, src, "SELECT COUNT(*) FROM schedules WHERE status = 'Pending'")
		if err != nil {
			return nil, fmt.Errorf("count legacy schedules: %w", err)
		}
		result.SchedulesImported = count
		if count == 0 {
			result.Warnings = append(result.Warnings, "no Pending schedules found in legacy database")
		}
	}

	if !options.SkipNotifications {
		count, err := countRows(ctx, src, "SELECT COUNT(*) FROM notifications WHERE is_read IS NOT TRUE")
		if err != nil {
			return nil, fmt.Errorf("count legacy notifications: %w", err)
		}
		result.NotificationsImported = count
	}

	l.logger.Info().
		Int("schedules", result.SchedulesImported).
		Int("notifications", result.NotificationsImported).
		Msg("legacy analysis complete")

	return result, nil
}

// Import performs the actual migration.
func (l *LegacyImporter) Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error) {
	startTime := time.Now()

	src, err := l.open(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("connect legacy database: %w", err)
	}
	defer src.Close()

	result := &Result{
		Warnings: []string{},
		Skipped:  make(map[string]int),
	}
	progress := Progress{
		Phase:     "connecting",
		StartTime: startTime,
	}
	report := func(phase, step string, pct float64) {
		if progressCallback == nil {
			return
		}
		progress.Phase = phase
		progress.CurrentStep = step
		progress.Percentage = pct
		progress.SchedulesImported = result.SchedulesImported
		progress.NotificationsImported = result.NotificationsImported
		progressCallback(progress)
	}
	report("connecting", "connected to legacy database", 0)

	if !options.SkipSchedules {
		if err := l.importSchedules(ctx, src, result, &progress, report); err != nil {
			return nil, err
		}
	}

	if !options.SkipNotifications {
		if err := l.importNotifications(ctx, src, result, &progress, report); err != nil {
			return nil, err
		}
	}

	result.DurationSeconds = time.Since(startTime).Seconds()
	report("completed", "import finished", 100)

	l.logger.Info().
		Int("schedules", result.SchedulesImported).
		Int("notifications", result.NotificationsImported).
		Float64("seconds", result.DurationSeconds).
		Msg("legacy import completed")

	return result, nil
}

func (l *LegacyImporter) importSchedules(ctx context.Context, src *sql.DB, result *Result, progress *Progress, report func(string, string, float64)) error {
	total, err := countRows(ctx, src, "SELECT COUNT(*) FROM schedules WHERE status = 'Pending'")
	if err != nil {
		return fmt.Errorf("count legacy schedules: %w", err)
	}
	progress.SchedulesTotal = total
	report("schedules", fmt.Sprintf("copying %d pending schedules", total), 0)

	rows, err := src.QueryContext(ctx, `SELECT username, date, time, message, audio_data, voice, zones, "repeat" FROM schedules WHERE status = 'Pending' ORDER BY date, time`)
	if err != nil {
		return fmt.Errorf("read legacy schedules: %w", err)
	}
	defer rows.Close()

	done := 0
	for rows.Next() {
		var user, date, tm, message, audio, voice, zoneDoc, repeat sql.NullString
		if err := rows.Scan(&user, &date, &tm, &message, &audio, &voice, &zoneDoc, &repeat); err != nil {
			return fmt.Errorf("scan legacy schedule: %w", err)
		}
		done++

		row := models.Schedule{
			ID:      uuid.NewString(),
			Date:    date.String,
			Time:    tm.String,
			Message: message.String,
			Voice:   voice.String,
			Zones:   parseLegacyZones(zoneDoc.String),
			Repeat:  normalizeRepeat(repeat.String),
			Status:  models.ScheduleStatusPending,
			User:    user.String,
		}

		// A row the scheduler could never fire is not worth carrying over.
		if _, err := row.At(); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("schedule %s %s for %q: unparsable wall-clock pair, skipped", row.Date, row.Time, row.User))
			result.Skipped["unparsable_schedules"]++
			continue
		}

		var existing int64
		l.db.WithContext(ctx).Model(&models.Schedule{}).
			Where("user = ? AND date = ? AND time = ? AND message = ?", row.User, row.Date, row.Time, row.Message).
			Count(&existing)
		if existing > 0 {
			result.Skipped["already_present"]++
			continue
		}

		if audio.String != "" {
			key, err := l.storeLegacyAudio(ctx, audio.String)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("schedule %s %s: %v", row.Date, row.Time, err))
				result.Skipped["audio_payloads"]++
			} else {
				row.AudioKey = key
			}
		}

		if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("schedule %s %s: write failed: %v", row.Date, row.Time, err))
			result.Skipped["write_errors"]++
			continue
		}
		result.SchedulesImported++

		if total > 0 {
			report("schedules", fmt.Sprintf("schedule %d/%d", done, total), float64(done)/float64(total)*50)
		}
	}
	return rows.Err()
}

func (l *LegacyImporter) importNotifications(ctx context.Context, src *sql.DB, result *Result, progress *Progress, report func(string, string, float64)) error {
	total, err := countRows(ctx, src, "SELECT COUNT(*) FROM notifications WHERE is_read IS NOT TRUE")
	if err != nil {
		return fmt.Errorf("count legacy notifications: %w", err)
	}
	progress.NotificationsTotal = total
	report("notifications", fmt.Sprintf("copying %d unread notifications", total), 50)

	rows, err := src.QueryContext(ctx, `SELECT title, message, type, target_user, target_role, created_at FROM notifications WHERE is_read IS NOT TRUE ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("read legacy notifications: %w", err)
	}
	defer rows.Close()

	done := 0
	for rows.Next() {
		var title, message, kind, targetUser, targetRole sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&title, &message, &kind, &targetUser, &targetRole, &createdAt); err != nil {
			return fmt.Errorf("scan legacy notification: %w", err)
		}
		done++

		var existing int64
		l.db.WithContext(ctx).Model(&models.Notification{}).
			Where("title = ? AND message = ? AND target_user = ? AND target_role = ?", title.String, message.String, targetUser.String, targetRole.String).
			Count(&existing)
		if existing > 0 {
			result.Skipped["already_present"]++
			continue
		}

		row := models.Notification{
			ID:         uuid.NewString(),
			Title:      title.String,
			Message:    message.String,
			Type:       normalizeNotificationType(kind.String),
			TargetUser: targetUser.String,
			TargetRole: targetRole.String,
			ReadBy:     []string{},
			ClearedBy:  []string{},
			CreatedAt:  time.Now(),
		}
		if createdAt.Valid {
			row.CreatedAt = createdAt.Time
		}

		if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("notification %q: write failed: %v", row.Title, err))
			result.Skipped["write_errors"]++
			continue
		}
		result.NotificationsImported++

		if total > 0 {
			report("notifications", fmt.Sprintf("notification %d/%d", done, total), 50+float64(done)/float64(total)*50)
		}
	}
	return rows.Err()
}

// storeLegacyAudio moves an inline base64 payload into the asset store.
// Without a store the payload is dropped: the old server kept blobs in
// schedule rows, and carrying that forward defeats the point.
func (l *LegacyImporter) storeLegacyAudio(ctx context.Context, encoded string) (string, error) {
	if l.assets == nil {
		return "", fmt.Errorf("no asset store configured, inline audio dropped")
	}
	key, err := l.assets.StoreEncoded(ctx, encoded)
	if err != nil {
		return "", fmt.Errorf("store inline audio: %w", err)
	}
	return key, nil
}

func countRows(ctx context.Context, src *sql.DB, query string) (int, error) {
	var count int
	if err := src.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// parseLegacyZones accepts either a JSON string array or a bare zone name.
func parseLegacyZones(doc string) []string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil
	}
	var zones []string
	if err := json.Unmarshal([]byte(doc), &zones); err == nil {
		return zones
	}
	return []string{doc}
}

func normalizeRepeat(raw string) models.RepeatMode {
	switch models.RepeatMode(strings.ToLower(strings.TrimSpace(raw))) {
	case models.RepeatDaily:
		return models.RepeatDaily
	case models.RepeatWeekly:
		return models.RepeatWeekly
	default:
		return models.RepeatOnce
	}
}

func normalizeNotificationType(raw string) models.NotificationType {
	switch models.NotificationType(strings.ToLower(strings.TrimSpace(raw))) {
	case models.NotificationSuccess:
		return models.NotificationSuccess
	case models.NotificationWarning:
		return models.NotificationWarning
	case models.NotificationError:
		return models.NotificationError
	default:
		return models.NotificationInfo
	}
}
