/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controller arbitrates every broadcast on the appliance. One
// coarse mutex guards admission, preemption, the schedule queue, and the
// emergency latch; playback itself runs on worker goroutines outside the
// critical section.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/audio"
	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/state"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// systemUser marks internally originated requests; it always passes
// ownership checks.
const systemUser = "System"

// AnyTaskType in a stop request matches whatever is playing.
const AnyTaskType models.TaskType = "any"

// resumeDelay smooths the hand-back to a suspended background track.
const resumeDelay = time.Second

// ErrStopDenied is returned when a stop request fails the ownership or
// targeting rules. The HTTP edge maps it to 403.
var ErrStopDenied = errors.New("stop denied")

// Speech renders announcement text to a playable file.
type Speech interface {
	Synthesize(ctx context.Context, text, voiceKey string) (string, error)
	SpeakFallback(ctx context.Context, text string) error
}

// AssetFetcher materializes a stored audio object as a local file.
type AssetFetcher interface {
	Fetch(ctx context.Context, key string) (string, error)
}

// Controller owns all broadcast state. Construct exactly one.
type Controller struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *gorm.DB
	engine audio.Engine
	speech Speech
	assets AssetFetcher
	state  *state.Publisher
	bus    events.Broker

	mu                    sync.Mutex
	current               *models.Task
	queue                 []*models.Task
	suspended             *models.Task
	emergencyMode         bool
	emergencyOwner        string
	pauseStart            time.Time // zero = no shift window open
	backgroundResume      float64   // seconds into the suspended/stopped track
	backgroundPlayStart   time.Time
	lastBackgroundContent string
	currentStarted        time.Time
	heartbeats            map[string]time.Time
}

// New builds the controller. The asset fetcher is optional; see
// SetAssetFetcher.
func New(cfg *config.Config, db *gorm.DB, engine audio.Engine, speech Speech, pub *state.Publisher, bus events.Broker, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		logger:     logger.With().Str("component", "controller").Logger(),
		db:         db,
		engine:     engine,
		speech:     speech,
		state:      pub,
		bus:        bus,
		heartbeats: make(map[string]time.Time),
	}
}

// SetAssetFetcher attaches the object store used for schedule rows that
// reference uploaded audio by key.
func (c *Controller) SetAssetFetcher(f AssetFetcher) {
	c.assets = f
}

// ResetState publishes a clean idle document. Called once at startup so
// a crash mid-broadcast never leaves a stale PLAYING state behind.
func (c *Controller) ResetState(ctx context.Context) {
	c.state.Publish(ctx, nil, models.PriorityIdle, models.ModeIdle)
}

// RequestPlayback is the single admission point. It returns true when
// the task was started, queued (schedules), or absorbed as a duplicate
// background request; false when the system is busy with something the
// caller may not displace.
func (c *Controller) RequestPlayback(ctx context.Context, task *models.Task) bool {
	ctx, span := telemetry.StartSpan(ctx, "controller", "request_playback")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"task.type":     string(task.Type),
		"task.priority": int(task.Priority),
		"task.user":     task.Data.User,
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Int("priority", int(task.Priority)).
		Str("user", task.Data.User).
		Msg("playback requested")

	// Emergency locks out everything below it.
	if c.emergencyMode && task.Priority < models.PriorityEmergency {
		c.deny(task, "emergency active")
		return false
	}

	// Schedules never play on submission; they wait for their slot.
	if task.Type == models.TaskTypeSchedule {
		c.enqueueLocked(task)
		telemetry.RecordBroadcastDecision(string(task.Type), "queued")
		c.logger.Info().Str("task_id", task.ID).Time("at", task.ScheduledTime).Msg("schedule queued")
		return true
	}

	currentPri := models.PriorityIdle
	if c.current != nil {
		currentPri = c.current.Priority
	}
	sameUser := c.current != nil && c.current.Data.User == task.Data.User

	if task.Priority > currentPri || (task.Priority == currentPri && sameUser) {
		// A repeat of the running background track is acknowledged, not
		// restarted. Frontends re-send their session on reconnect.
		if c.current != nil &&
			c.current.Type == models.TaskTypeBackground && task.Type == models.TaskTypeBackground &&
			c.current.Data.Content == task.Data.Content && task.Data.StartTime == 0 {
			telemetry.RecordBroadcastDecision(string(task.Type), "noop")
			c.logger.Debug().Str("content", task.Data.Content).Msg("duplicate background request absorbed")
			return true
		}

		// A different track forfeits the saved resume offset.
		if task.Type == models.TaskTypeBackground && task.Data.Content != c.lastBackgroundContent {
			c.backgroundResume = 0
		}

		c.preemptCurrentLocked(ctx, task.Priority)
		c.startTaskLocked(ctx, task)
		telemetry.RecordBroadcastDecision(string(task.Type), "accepted")
		return true
	}

	c.deny(task, fmt.Sprintf("busy: current priority %d, requested %d", currentPri, task.Priority))
	return false
}

func (c *Controller) deny(task *models.Task, reason string) {
	telemetry.RecordBroadcastDecision(string(task.Type), "denied")
	c.logger.Info().Str("task_id", task.ID).Str("reason", reason).Msg("playback denied")
	c.bus.Publish(events.EventBroadcastDenied, taskPayload(task, events.Payload{"reason": reason}))
}

// StopTask stops the current task subject to the targeting and ownership
// rules. A nil return means either the task was stopped or there was
// nothing to stop.
func (c *Controller) StopTask(ctx context.Context, taskID string, taskType models.TaskType, user string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil && !c.emergencyMode {
		return nil
	}

	// Post-script emergency phase: no current task, latch still set.
	// Only the owner or an admin may deactivate.
	if c.current == nil {
		if !c.isPrivileged(user, c.emergencyOwner) {
			c.logger.Warn().Str("user", user).Msg("emergency deactivation denied")
			return fmt.Errorf("%w: emergency may only be cleared by its owner or an admin", ErrStopDenied)
		}
		c.logger.Info().Str("user", user).Msg("emergency deactivated")
		c.stopCurrentLocked(ctx, events.EventBroadcastStopped, user, "emergency cleared")
		return nil
	}

	if taskID != "" && c.current.ID != taskID {
		c.logger.Warn().Str("requested", taskID).Str("current", c.current.ID).Msg("stop denied: id mismatch")
		return fmt.Errorf("%w: task id does not match the active task", ErrStopDenied)
	}

	if taskID == "" {
		// A generic stop (page unload, retry storms) must never kill a
		// schedule or an emergency it cannot name.
		switch c.current.Type {
		case models.TaskTypeSchedule:
			if !c.isAdmin(user) {
				c.logger.Warn().Str("user", user).Msg("stop denied: schedule requires admin without id")
				return fmt.Errorf("%w: schedules may only be stopped by an admin", ErrStopDenied)
			}
		case models.TaskTypeEmergency:
			if !c.isPrivileged(user, c.emergencyOwner) {
				c.logger.Warn().Str("user", user).Msg("stop denied: emergency requires owner or admin")
				return fmt.Errorf("%w: emergency may only be cleared by its owner or an admin", ErrStopDenied)
			}
		default:
			if taskType != "" && taskType != AnyTaskType && c.current.Type != taskType {
				c.logger.Warn().Str("requested", string(taskType)).Str("current", string(c.current.Type)).Msg("stop denied: type mismatch")
				return fmt.Errorf("%w: type does not match the active task", ErrStopDenied)
			}
			if !c.isPrivileged(user, c.current.Data.User) {
				c.logger.Warn().Str("user", user).Str("owner", c.current.Data.User).Msg("stop denied: not owner")
				return fmt.Errorf("%w: only the owner or an admin may stop this broadcast", ErrStopDenied)
			}
		}
	}

	c.logger.Info().Str("task_id", c.current.ID).Str("user", user).Msg("stopping task")
	c.stopCurrentLocked(ctx, events.EventBroadcastStopped, user, "stopped by "+user)
	return nil
}

// StopSessionTask ends the user's live session audio. Schedules survive
// logouts and dead clients.
func (c *Controller) StopSessionTask(ctx context.Context, user string) {
	c.stopSession(ctx, user, events.EventBroadcastStopped, "session ended")
}

func (c *Controller) stopSession(ctx context.Context, user string, evt events.EventType, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Type == models.TaskTypeSchedule {
		return
	}
	if !c.current.OwnedBy(user) && user != systemUser {
		return
	}
	c.logger.Info().Str("task_id", c.current.ID).Str("user", user).Str("detail", detail).Msg("stopping session task")
	c.stopCurrentLocked(ctx, evt, user, detail)
}

// Complete records an external completion signal for the named task.
func (c *Controller) Complete(ctx context.Context, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.ID != taskID {
		return
	}
	c.logger.Info().Str("task_id", taskID).Msg("task completed")
	c.stopCurrentLocked(ctx, events.EventBroadcastCompleted, systemUser, "completed")
}

// completePlayback is the internal twin of Complete, invoked by playback
// workers when their audio returns. A superseded task is ignored.
func (c *Controller) completePlayback(ctx context.Context, taskID string) {
	c.Complete(ctx, taskID)
}

// stopCurrentLocked is the single teardown path: clears the emergency
// latch, captures background progress, stops the engine, publishes idle,
// applies the queue time shift, and resumes a suspended task if one is
// waiting. Callers hold c.mu.
func (c *Controller) stopCurrentLocked(ctx context.Context, evt events.EventType, user, detail string) {
	if c.emergencyMode {
		c.emergencyMode = false
		c.emergencyOwner = ""
		c.bus.Publish(events.EventEmergencyCleared, events.Payload{"user": user})
	}

	stopped := c.current
	if stopped != nil {
		if stopped.Type == models.TaskTypeVoice {
			c.engine.StopStreaming()
		}
		// Progress must be on the books before the player dies.
		if stopped.Type == models.TaskTypeBackground {
			c.flushBackgroundElapsedLocked()
		}
		stopped.SetStatus(models.TaskStatusCompleted)
	}
	c.current = nil
	c.currentStarted = time.Time{}

	c.engine.Stop()
	c.state.Publish(ctx, nil, models.PriorityIdle, models.ModeIdle)
	c.applyQueueShiftLocked(ctx)

	payload := events.Payload{"user": user, "detail": detail}
	if stopped != nil {
		payload = taskPayload(stopped, payload)
	}
	c.bus.Publish(evt, payload)

	if c.suspended != nil {
		resumed := c.suspended
		c.suspended = nil
		c.logger.Info().Str("task_id", resumed.ID).Msg("resuming suspended task")
		time.Sleep(resumeDelay)
		c.startTaskLocked(ctx, resumed)
		c.bus.Publish(events.EventBroadcastResumed, taskPayload(resumed, nil))
	}
}

// preemptCurrentLocked displaces the current task ahead of a
// higher-priority start. Callers hold c.mu.
func (c *Controller) preemptCurrentLocked(ctx context.Context, newPriority models.PriorityLevel) {
	if c.current == nil {
		return
	}
	preempted := c.current
	telemetry.RecordPreemption(string(preempted.Type))
	c.logger.Info().
		Str("task_id", preempted.ID).
		Str("type", string(preempted.Type)).
		Int("new_priority", int(newPriority)).
		Msg("preempting current task")

	switch preempted.Type {
	case models.TaskTypeSchedule:
		// Soft stop: the schedule keeps its turn at the head of the queue.
		preempted.SetStatus(models.TaskStatusInterrupted)
		preempted.SetStatus(models.TaskStatusPending)
		c.queue = append([]*models.Task{preempted}, c.queue...)
		telemetry.ScheduleQueueDepth.Set(float64(len(c.queue)))
		c.bus.Publish(events.EventBroadcastInterrupted, taskPayload(preempted, nil))

	case models.TaskTypeVoice, models.TaskTypeText:
		// Hard stop.
		preempted.SetStatus(models.TaskStatusCompleted)
		c.bus.Publish(events.EventBroadcastInterrupted, taskPayload(preempted, nil))

	case models.TaskTypeBackground:
		if newPriority == models.PriorityBackground {
			// Track switch; nothing to keep.
			break
		}
		c.flushBackgroundElapsedLocked()
		preempted.SetStatus(models.TaskStatusInterrupted)
		c.suspended = preempted
		c.logger.Info().Str("task_id", preempted.ID).Float64("resume_at", c.backgroundResume).Msg("background suspended")
	}

	c.current = nil
	c.currentStarted = time.Time{}
	c.engine.Stop()
}

// startTaskLocked installs the task as current, records bookkeeping,
// publishes state, and dispatches the type-specific audio work onto a
// worker goroutine. Callers hold c.mu.
func (c *Controller) startTaskLocked(ctx context.Context, task *models.Task) {
	task.SetStatus(models.TaskStatusPlaying)
	c.current = task
	c.currentStarted = time.Now()

	if task.Priority >= models.PriorityRealtime && c.pauseStart.IsZero() {
		c.pauseStart = time.Now()
		c.logger.Debug().Time("at", c.pauseStart).Msg("queue shift window opened")
	}

	if task.IsEmergency() {
		c.emergencyMode = true
		c.emergencyOwner = task.Data.User
		telemetry.EmergencyActivationsTotal.Inc()
		c.bus.Publish(events.EventEmergencyActivated, taskPayload(task, nil))
	}

	mode := models.ModeForTask(task, task.IsEmergency())
	c.logger.Info().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Str("mode", string(mode)).
		Msg("starting task")
	c.state.Publish(ctx, task, task.Priority, mode)

	switch task.Type {
	case models.TaskTypeVoice:
		go c.runVoice(task)
	case models.TaskTypeText:
		go c.runText(task)
	case models.TaskTypeSchedule:
		go c.runSchedule(task)
	case models.TaskTypeBackground:
		offset := task.Data.StartTime
		if offset <= 0 {
			offset = c.backgroundResume
		}
		task.Data.StartTime = 0
		c.backgroundResume = offset
		c.backgroundPlayStart = time.Now()
		c.lastBackgroundContent = task.Data.Content
		// The player context is detached from the request on purpose:
		// music outlives the HTTP call that started it.
		c.engine.PlayBackgroundMusic(context.Background(), task.Data.Content, task.Data.Zones, offset)
	case models.TaskTypeEmergency:
		c.engine.PlaySiren(context.Background(), emergencyZones(), emergencySirenLeadVolume)
		go c.runEmergencyScript(task)
	}

	c.bus.Publish(events.EventBroadcastStarted, taskPayload(task, nil))
}

// flushBackgroundElapsedLocked folds accrued play time into the resume
// offset. Callers hold c.mu.
func (c *Controller) flushBackgroundElapsedLocked() {
	if !c.backgroundPlayStart.IsZero() {
		c.backgroundResume += time.Since(c.backgroundPlayStart).Seconds()
		c.backgroundPlayStart = time.Time{}
	}
}

// applyQueueShiftLocked pushes every queued schedule forward by the
// length of the interruption that just ended, and persists the new
// wall-clock pairs in one transaction. Callers hold c.mu.
func (c *Controller) applyQueueShiftLocked(ctx context.Context) {
	if c.pauseStart.IsZero() {
		return
	}
	duration := time.Since(c.pauseStart)
	c.pauseStart = time.Time{}
	if len(c.queue) == 0 {
		return
	}

	c.logger.Info().Dur("shift", duration).Int("schedules", len(c.queue)).Msg("applying queue time shift")

	type rowShift struct {
		id          string
		date, clock string
	}
	shifts := make([]rowShift, 0, len(c.queue))
	for _, t := range c.queue {
		t.ScheduledTime = t.ScheduledTime.Add(duration)
		// Data.Date/Data.Time stay at their original values so
		// recurrence keeps the intended wall-clock slot.
		id := t.Data.ScheduleID
		if id == "" {
			id = t.ID
		}
		date, clock := models.SplitClock(t.ScheduledTime)
		shifts = append(shifts, rowShift{id: id, date: date, clock: clock})
	}
	c.sortQueueLocked()

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range shifts {
			if err := tx.Model(&models.Schedule{}).Where("id = ?", s.id).
				Updates(map[string]any{"date": s.date, "time": s.clock}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("queue shift persistence failed")
	}
}

// SeekBackgroundMusic restarts the running background track at the given
// offset. Returns false when nothing seekable is playing.
func (c *Controller) SeekBackgroundMusic(ctx context.Context, user string, seconds float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Type != models.TaskTypeBackground {
		return false
	}
	c.logger.Info().Str("user", user).Float64("seconds", seconds).Msg("seeking background music")

	c.backgroundResume = seconds
	c.backgroundPlayStart = time.Time{}
	c.current.Data.StartTime = 0
	c.engine.Stop()
	c.startTaskLocked(ctx, c.current)
	return true
}

// FeedVoiceChunk forwards a raw PCM chunk to the open stream pipes. The
// chunk is dropped unless a voice broadcast is active.
func (c *Controller) FeedVoiceChunk(chunk []byte) bool {
	c.mu.Lock()
	active := c.current != nil && c.current.Type == models.TaskTypeVoice
	c.mu.Unlock()

	if !active {
		return false
	}
	c.engine.FeedStream(chunk)
	return true
}

// RegisterHeartbeat stamps the user's liveness clock.
func (c *Controller) RegisterHeartbeat(user string) {
	if user == "" {
		return
	}
	c.mu.Lock()
	c.heartbeats[user] = time.Now()
	c.mu.Unlock()
}

// CheckHeartbeats is the session watchdog, run once per scheduler tick.
// A live session task whose owner has gone silent is stopped; a
// background task that never heartbeated at all is a zombie from a
// client that died mid-handshake.
func (c *Controller) CheckHeartbeats(ctx context.Context) {
	c.mu.Lock()
	cur := c.current
	if cur == nil ||
		(cur.Type != models.TaskTypeBackground && cur.Type != models.TaskTypeVoice) ||
		cur.Data.User == systemUser {
		c.mu.Unlock()
		return
	}
	owner := cur.Data.User
	beat, seen := c.heartbeats[owner]
	started := c.currentStarted
	c.mu.Unlock()

	switch {
	case seen && time.Since(beat) > c.cfg.HeartbeatTimeout:
		c.logger.Warn().
			Str("user", owner).
			Dur("silent_for", time.Since(beat)).
			Msg("heartbeat stale, stopping session")
		telemetry.RecordHeartbeatKill("stale")
		c.stopSession(ctx, owner, events.EventWatchdogStale, "heartbeat stale")

	case !seen && cur.Type == models.TaskTypeBackground &&
		!started.IsZero() && time.Since(started) > c.cfg.ZombieTimeout:
		c.logger.Warn().
			Str("user", owner).
			Dur("running_for", time.Since(started)).
			Msg("zombie session, stopping")
		telemetry.RecordHeartbeatKill("zombie")
		c.stopSession(ctx, owner, events.EventWatchdogZombie, "zombie session")
	}
}

// Enqueue adds a schedule task to the queue without admission checks or
// side effects. Used by startup rehydration and recurrence emission.
func (c *Controller) Enqueue(task *models.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(task)
}

func (c *Controller) enqueueLocked(task *models.Task) {
	c.queue = append(c.queue, task)
	c.sortQueueLocked()
	telemetry.ScheduleQueueDepth.Set(float64(len(c.queue)))
}

func (c *Controller) sortQueueLocked() {
	sortTasksByTime(c.queue)
}

// PromoteDue starts the first queued schedule whose time has come,
// unless the current task outranks it. The store row is marked Completed
// before playback begins, so a crash never replays an announcement. The
// promoted task is returned for recurrence handling; nil means nothing
// was promoted.
func (c *Controller) PromoteDue(ctx context.Context, now time.Time) *models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 || c.queue[0].ScheduledTime.After(now) {
		return nil
	}
	next := c.queue[0]

	if c.current != nil && c.current.Priority >= next.Priority {
		return nil
	}

	c.queue = c.queue[1:]
	telemetry.ScheduleQueueDepth.Set(float64(len(c.queue)))
	next.Priority = models.PrioritySchedule

	rowID := next.Data.ScheduleID
	if rowID == "" {
		rowID = next.ID
	}
	if err := c.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", rowID).
		Update("status", models.ScheduleStatusCompleted).Error; err != nil {
		c.logger.Error().Err(err).Str("schedule_id", rowID).Msg("failed to mark schedule completed")
	}

	c.logger.Info().Str("task_id", next.ID).Str("schedule_id", rowID).Msg("promoting due schedule")

	if c.current != nil {
		c.preemptCurrentLocked(ctx, next.Priority)
	}
	c.startTaskLocked(ctx, next)

	telemetry.SchedulesFiredTotal.WithLabelValues(string(repeatOrOnce(next.Data.Repeat))).Inc()
	c.bus.Publish(events.EventScheduleFired, taskPayload(next, events.Payload{"schedule_id": rowID}))
	return next
}

// RemoveFromQueue drops a queued schedule by its row id. Returns whether
// anything was removed.
func (c *Controller) RemoveFromQueue(scheduleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.queue[:0]
	removed := false
	for _, t := range c.queue {
		if t.ID == scheduleID || t.Data.ScheduleID == scheduleID {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	c.queue = kept
	if removed {
		telemetry.ScheduleQueueDepth.Set(float64(len(c.queue)))
	}
	return removed
}

// QueueSnapshot returns a copy of the queued tasks in firing order.
func (c *Controller) QueueSnapshot() []*models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.Task, len(c.queue))
	copy(out, c.queue)
	return out
}

// Status is the live controller state exposed on the status endpoint.
type Status struct {
	Current          *models.Task         `json:"current_task"`
	QueueLength      int                  `json:"queue_length"`
	EmergencyMode    bool                 `json:"emergency_mode"`
	EmergencyOwner   string               `json:"emergency_owner,omitempty"`
	Priority         models.PriorityLevel `json:"priority"`
	Mode             models.Mode          `json:"mode"`
	BackgroundResume float64              `json:"background_resume,omitempty"`
}

// Status reports the current controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	priority := models.PriorityIdle
	if c.current != nil {
		priority = c.current.Priority
	} else if c.emergencyMode {
		priority = models.PriorityEmergency
	}
	return Status{
		Current:          c.current,
		QueueLength:      len(c.queue),
		EmergencyMode:    c.emergencyMode,
		EmergencyOwner:   c.emergencyOwner,
		Priority:         priority,
		Mode:             models.ModeForTask(c.current, c.emergencyMode),
		BackgroundResume: c.backgroundResume,
	}
}

// Shutdown silences the appliance. Called once on process exit.
func (c *Controller) Shutdown() {
	c.engine.Stop()
}

func (c *Controller) isAdmin(user string) bool {
	return user == systemUser || c.cfg.IsAdmin(user)
}

// isPrivileged allows the task owner, the internal system identity, and
// configured admins.
func (c *Controller) isPrivileged(user, owner string) bool {
	return (user != "" && user == owner) || c.isAdmin(user)
}

func taskPayload(t *models.Task, extra events.Payload) events.Payload {
	p := events.Payload{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"user":      t.Data.User,
		"zones":     t.Data.Zones,
	}
	if t.Data.Content != "" {
		p["content"] = t.Data.Content
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func repeatOrOnce(r models.RepeatMode) models.RepeatMode {
	if r == "" {
		return models.RepeatOnce
	}
	return r
}
