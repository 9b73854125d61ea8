/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// PriorityLevel defines the fixed admission ladder for broadcast tasks.
// Higher values win; equal priority only preempts for the same owner.
type PriorityLevel int

const (
	// PriorityIdle (0) - nothing playing
	PriorityIdle PriorityLevel = 0

	// PriorityBackground (10) - background music
	PriorityBackground PriorityLevel = 10

	// PrioritySchedule (20) - scheduled announcements
	PrioritySchedule PriorityLevel = 20

	// PriorityRealtime (30) - live voice and ad-hoc text broadcasts
	PriorityRealtime PriorityLevel = 30

	// PriorityEmergency (100) - emergency alerts, locks out everything below
	PriorityEmergency PriorityLevel = 100
)

// TaskType enumerates the kinds of broadcast work.
type TaskType string

const (
	TaskTypeVoice      TaskType = "voice"      // Live microphone stream
	TaskTypeText       TaskType = "text"       // Synthesized announcement
	TaskTypeSchedule   TaskType = "schedule"   // Queued scheduled announcement
	TaskTypeBackground TaskType = "background" // Background music
	TaskTypeEmergency  TaskType = "emergency"  // Emergency alert with siren
)

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusPlaying     TaskStatus = "playing"
	TaskStatusInterrupted TaskStatus = "interrupted"
	TaskStatusCompleted   TaskStatus = "completed"
)

// validStatusTransitions captures the allowed lifecycle edges. Statuses move
// forward only, except that an interrupted schedule returns to pending so it
// can fire again from the head of the queue.
var validStatusTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:     {TaskStatusPlaying, TaskStatusCompleted},
	TaskStatusPlaying:     {TaskStatusInterrupted, TaskStatusCompleted},
	TaskStatusInterrupted: {TaskStatusPending, TaskStatusPlaying, TaskStatusCompleted},
	TaskStatusCompleted:   {},
}

// CanTransition reports whether a status change is a legal lifecycle edge.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range validStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// DefaultPriority returns the ladder position for a task type.
func (tt TaskType) DefaultPriority() PriorityLevel {
	switch tt {
	case TaskTypeVoice, TaskTypeText:
		return PriorityRealtime
	case TaskTypeSchedule:
		return PrioritySchedule
	case TaskTypeBackground:
		return PriorityBackground
	case TaskTypeEmergency:
		return PriorityEmergency
	default:
		return PriorityIdle
	}
}

// Mode is the coarse controller state mirrored to the state document.
type Mode string

const (
	ModeIdle       Mode = "IDLE"
	ModeBroadcast  Mode = "BROADCAST"
	ModeSchedule   Mode = "SCHEDULE"
	ModeBackground Mode = "BACKGROUND"
	ModeEmergency  Mode = "EMERGENCY"
)

// ModeForTask maps an active task to the published mode. A nil task with
// the emergency flag latched still reads EMERGENCY (post-script siren phase).
func ModeForTask(t *Task, emergency bool) Mode {
	if emergency {
		return ModeEmergency
	}
	if t == nil {
		return ModeIdle
	}
	switch t.Type {
	case TaskTypeVoice, TaskTypeText:
		return ModeBroadcast
	case TaskTypeSchedule:
		return ModeSchedule
	case TaskTypeBackground:
		return ModeBackground
	case TaskTypeEmergency:
		return ModeEmergency
	default:
		return ModeIdle
	}
}

// String returns a human-readable priority name.
func (pl PriorityLevel) String() string {
	switch pl {
	case PriorityIdle:
		return "Idle"
	case PriorityBackground:
		return "Background"
	case PrioritySchedule:
		return "Schedule"
	case PriorityRealtime:
		return "Realtime"
	case PriorityEmergency:
		return "Emergency"
	default:
		return "Unknown"
	}
}
