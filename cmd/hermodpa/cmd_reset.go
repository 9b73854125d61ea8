/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/hermod_pa/internal/db"
	"github.com/friendsincode/hermod_pa/internal/models"
)

var (
	resetForce       bool
	resetDeleteMedia bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database and optionally delete uploaded media",
	Long: `Reset Hermod PA to a fresh state.

This command will:
- Drop all tables from the database
- Re-create empty tables
- Optionally delete all uploaded media files

WARNING: This action is irreversible! All schedules, broadcast logs,
and notifications will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  hermodpa reset

  # Force reset without confirmation
  hermodpa reset --force

  # Reset and delete all media files
  hermodpa reset --force --delete-media
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteMedia, "delete-media", false, "Also delete all uploaded media files")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Confirmation prompt
	if !resetForce {
		fmt.Println("\nWARNING: This will DELETE ALL DATA from Hermod PA:")
		fmt.Println("  - All schedules, pending and completed")
		fmt.Println("  - All broadcast logs and emergency history")
		fmt.Println("  - All notifications and device status rows")
		if resetDeleteMedia {
			fmt.Println("  - ALL UPLOADED MEDIA FILES")
		}
		fmt.Println("\nThis action CANNOT be undone!")
		fmt.Println()

		fmt.Print("Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().
		Bool("delete_media", resetDeleteMedia).
		Msg("starting database reset")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}()

	tables := []interface{}{
		&models.Schedule{},
		&models.BroadcastLog{},
		&models.Notification{},
		&models.SystemState{},
		&models.DeviceStatus{},
	}

	logger.Info().Msg("dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			// Log but continue - table might not exist
			logger.Debug().Err(err).Msg("drop table (may not exist)")
		}
	}

	// Delete media files if requested
	if resetDeleteMedia && cfg.MediaRoot != "" {
		logger.Info().Str("path", cfg.MediaRoot).Msg("deleting media files...")

		err := filepath.Walk(cfg.MediaRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == cfg.MediaRoot {
				return nil
			}
			if !info.IsDir() {
				if err := os.Remove(path); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("failed to delete file")
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("error walking media directory")
		}

		cleanEmptyDirs(cfg.MediaRoot)
		logger.Info().Msg("media files deleted")
	}

	logger.Info().Msg("creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	logger.Info().Msg("reset complete")
	fmt.Println()
	fmt.Println("Hermod PA has been reset to a fresh state.")
	fmt.Println("Start the server with: hermodpa serve")
	fmt.Println()

	return nil
}

// cleanEmptyDirs removes empty directories recursively
func cleanEmptyDirs(root string) {
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}

		if len(entries) == 0 {
			os.Remove(path)
		}
		return nil
	})
}
