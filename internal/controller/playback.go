/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/tts"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// emergencyScript is spoken over the siren during an alert. The wording
// is fixed; operators brief staff against this exact text.
const emergencyScript = "Attention. This is an emergency alert. Please remain calm and follow the instructions carefully. The situation is urgent. Stay tuned for further information."

const (
	emergencySirenLeadVolume = 0.05
	emergencySirenLead       = 2500 * time.Millisecond
	emergencySirenPeak       = 0.8
	emergencySirenRamp       = 5 * time.Second

	synthesisAttempts   = 3
	synthesisRetryDelay = time.Second
)

// defaultScheduleText is voiced when a schedule row carries neither
// audio nor a message.
const defaultScheduleText = "Scheduled Announcement."

// Emergencies always cover the whole site regardless of the request.
func emergencyZones() []string {
	return []string{zones.AllZones}
}

// runVoice plays the intro chime, then opens the raw-PCM stream pipes
// that FeedVoiceChunk writes into. The task stays current until the
// client stops it or the watchdog does.
func (c *Controller) runVoice(task *models.Task) {
	ctx := context.Background()

	if err := c.engine.PlayChimeSync(ctx, c.cfg.ChimePath(), task.Data.Zones); err != nil {
		c.logger.Warn().Err(err).Msg("intro chime failed")
	}

	// The chime takes a moment; the broadcast may already be gone.
	c.mu.Lock()
	stillCurrent := c.current != nil && c.current.ID == task.ID
	c.mu.Unlock()
	if !stillCurrent {
		return
	}

	if err := c.engine.StartStreaming(ctx, task.Data.Zones); err != nil {
		c.logger.Error().Err(err).Str("task_id", task.ID).Msg("voice stream start failed")
	}
}

// runText synthesizes the message and plays chime plus body. The task
// completes when playback returns, however playback went.
func (c *Controller) runText(task *models.Task) {
	ctx := context.Background()

	body, err := c.speech.Synthesize(ctx, task.Data.Content, task.Data.Voice)
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", task.ID).Msg("synthesis failed, using system speech")
		if ferr := c.speech.SpeakFallback(ctx, task.Data.Content); ferr != nil {
			c.logger.Error().Err(ferr).Msg("system speech fallback failed")
		}
		c.completePlayback(ctx, task.ID)
		return
	}
	defer os.Remove(body)

	if err := c.engine.PlayAnnouncement(ctx, c.cfg.ChimePath(), body, task.Data.Zones); err != nil {
		c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("text playback ended with error")
	}
	c.completePlayback(ctx, task.ID)
}

// runSchedule materializes the announcement audio (inline upload, stored
// asset, or synthesis) and plays it. Completion follows playback return.
func (c *Controller) runSchedule(task *models.Task) {
	ctx := context.Background()

	body, cleanup, err := c.materializeScheduleAudio(ctx, task)
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", task.ID).Msg("schedule audio unavailable, using system speech")
		text := task.Data.Content
		if text == "" {
			text = defaultScheduleText
		}
		if ferr := c.speech.SpeakFallback(ctx, text); ferr != nil {
			c.logger.Error().Err(ferr).Msg("system speech fallback failed")
		}
		c.completePlayback(ctx, task.ID)
		return
	}
	defer cleanup()

	if err := c.engine.PlayWav(ctx, c.cfg.ChimePath(), body, task.Data.Zones); err != nil {
		c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("schedule playback ended with error")
	}
	c.completePlayback(ctx, task.ID)
}

// materializeScheduleAudio resolves the schedule's sound source in
// preference order: inline base64 upload, stored asset key, synthesized
// message. The returned cleanup removes the local file.
func (c *Controller) materializeScheduleAudio(ctx context.Context, task *models.Task) (string, func(), error) {
	if task.Data.Audio != "" {
		path, err := c.decodeInlineAudio(task.Data.Audio)
		if err != nil {
			return "", nil, fmt.Errorf("inline audio: %w", err)
		}
		return path, func() { _ = os.Remove(path) }, nil
	}

	if task.Data.AudioKey != "" && c.assets != nil {
		path, err := c.assets.Fetch(ctx, task.Data.AudioKey)
		if err != nil {
			return "", nil, fmt.Errorf("fetch %s: %w", task.Data.AudioKey, err)
		}
		return path, func() { _ = os.Remove(path) }, nil
	}

	text := task.Data.Content
	if text == "" {
		text = defaultScheduleText
	}
	voice := task.Data.Voice
	if voice == "" {
		voice = tts.DefaultVoice
	}
	path, err := c.speech.Synthesize(ctx, text, voice)
	if err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}

// decodeInlineAudio writes a base64 payload (with or without a data-URI
// style "base64," prefix) to a temp file and returns its path.
func (c *Controller) decodeInlineAudio(encoded string) (string, error) {
	if i := strings.Index(encoded, "base64,"); i >= 0 {
		encoded = encoded[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	dir := c.cfg.TTSWorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("sched_%s.wav", strings.ReplaceAll(uuid.New().String(), "-", "")))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// runEmergencyScript voices the alert text over a dipped siren, then
// brings the siren back and ramps it to peak. When the script finishes
// the task slot clears but the emergency latch stays up; only an
// explicit stop by the owner or an admin silences the site.
func (c *Controller) runEmergencyScript(task *models.Task) {
	ctx := context.Background()

	var (
		body string
		err  error
	)
	for attempt := 1; attempt <= synthesisAttempts; attempt++ {
		body, err = c.speech.Synthesize(ctx, emergencyScript, task.Data.Voice)
		if err == nil {
			break
		}
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("emergency synthesis failed")
		time.Sleep(synthesisRetryDelay)
	}

	time.Sleep(emergencySirenLead)
	c.engine.StopSiren()

	if err != nil {
		// The alert must be audible even with no usable voice model.
		if ferr := c.speech.SpeakFallback(ctx, emergencyScript); ferr != nil {
			c.logger.Error().Err(ferr).Msg("emergency fallback speech failed")
		}
	} else {
		defer os.Remove(body)
		if perr := c.engine.PlayAnnouncement(ctx, "", body, emergencyZones()); perr != nil {
			c.logger.Error().Err(perr).Str("task_id", task.ID).Msg("emergency script playback failed")
		}
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != task.ID {
		// Deactivated mid-script. The site stays silent.
		c.mu.Unlock()
		return
	}
	c.engine.PlaySiren(ctx, emergencyZones(), emergencySirenLeadVolume)
	c.current.SetStatus(models.TaskStatusCompleted)
	c.current = nil
	c.currentStarted = time.Time{}
	// Latch stays up: mode reads EMERGENCY until someone deactivates.
	c.state.Publish(ctx, nil, models.PriorityEmergency, models.ModeEmergency)
	c.mu.Unlock()

	// The ramp aborts on its own if the siren is stopped underneath it.
	c.engine.RampSirenVolume(emergencySirenPeak, emergencySirenRamp)

	c.logger.Info().Str("task_id", task.ID).Msg("emergency script finished, siren holding")
}

// sortTasksByTime orders queued schedules by firing time, stable so
// same-second schedules keep submission order.
func sortTasksByTime(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].ScheduledTime.Before(tasks[j].ScheduledTime)
	})
}
