/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Schedule{},
		&models.BroadcastLog{},
		&models.Notification{},
		&models.SystemState{},
		&models.DeviceStatus{},
	); err != nil {
		return err
	}

	if err := normalizeLegacyScheduleStatus(database); err != nil {
		return err
	}
	if err := backfillScheduleRepeat(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyScheduleStatus canonicalizes status casing left behind by
// the pre-rewrite controller, which stored lowercase values.
func normalizeLegacyScheduleStatus(database *gorm.DB) error {
	if err := database.Exec("UPDATE schedules SET status = ? WHERE LOWER(TRIM(status)) = ?", models.ScheduleStatusPending, "pending").Error; err != nil {
		return fmt.Errorf("normalize legacy pending schedule status: %w", err)
	}
	if err := database.Exec("UPDATE schedules SET status = ? WHERE LOWER(TRIM(status)) = ?", models.ScheduleStatusCompleted, "completed").Error; err != nil {
		return fmt.Errorf("normalize legacy completed schedule status: %w", err)
	}
	return nil
}

// backfillScheduleRepeat gives legacy rows without a repeat mode the
// one-shot default so recurrence math never sees an empty mode.
func backfillScheduleRepeat(database *gorm.DB) error {
	if err := database.Exec("UPDATE schedules SET repeat_mode = ? WHERE repeat_mode IS NULL OR repeat_mode = ''", models.RepeatOnce).Error; err != nil {
		return fmt.Errorf("backfill schedule repeat mode: %w", err)
	}
	return nil
}
