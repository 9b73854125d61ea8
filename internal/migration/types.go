/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package migration copies announcement data out of earlier PA server
// installations into this appliance's database.
package migration

import (
	"context"
	"time"
)

// Options configures a legacy import run.
type Options struct {
	// DSN locates the source database. A postgres URL or key=value DSN
	// selects the lib/pq driver; anything else is treated as a SQLite
	// file path.
	DSN    string `json:"dsn"`
	Driver string `json:"driver,omitempty"` // "postgres" or "sqlite3"; inferred from DSN when empty

	SkipSchedules     bool `json:"skip_schedules"`
	SkipNotifications bool `json:"skip_notifications"`
}

// Progress tracks an import run for console display.
type Progress struct {
	Phase                 string    `json:"phase"`
	CurrentStep           string    `json:"current_step"`
	SchedulesTotal        int       `json:"schedules_total"`
	SchedulesImported     int       `json:"schedules_imported"`
	NotificationsTotal    int       `json:"notifications_total"`
	NotificationsImported int       `json:"notifications_imported"`
	Percentage            float64   `json:"percentage"`
	StartTime             time.Time `json:"start_time"`
}

// ProgressCallback is called during migration to report progress.
type ProgressCallback func(progress Progress)

// Result contains the final migration results.
type Result struct {
	SchedulesImported     int            `json:"schedules_imported"`
	NotificationsImported int            `json:"notifications_imported"`
	Warnings              []string       `json:"warnings,omitempty"`
	Skipped               map[string]int `json:"skipped,omitempty"`
	DurationSeconds       float64        `json:"duration_seconds"`
}

// Importer defines the interface for migration importers.
type Importer interface {
	// Validate checks if the migration can proceed with the given options.
	Validate(ctx context.Context, options Options) error

	// Analyze performs a dry-run analysis without making changes.
	Analyze(ctx context.Context, options Options) (*Result, error)

	// Import performs the actual migration.
	Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error)
}

// ValidationError represents a validation error with details.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}
