/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// RepeatMode controls recurrence of scheduled announcements.
type RepeatMode string

const (
	RepeatOnce   RepeatMode = "once"
	RepeatDaily  RepeatMode = "daily"
	RepeatWeekly RepeatMode = "weekly"
)

// IsRecurring reports whether the mode emits a follow-up instance.
func (r RepeatMode) IsRecurring() bool {
	return r == RepeatDaily || r == RepeatWeekly
}

// Days returns the calendar-day interval for recurrence arithmetic.
func (r RepeatMode) Days() int {
	switch r {
	case RepeatDaily:
		return 1
	case RepeatWeekly:
		return 7
	default:
		return 0
	}
}

// TaskData carries the recognized per-task options. The zero value of every
// field means "not provided".
type TaskData struct {
	User         string     `json:"user,omitempty"`
	Zones        []string   `json:"zones,omitempty"`
	Content      string     `json:"content,omitempty"`
	Voice        string     `json:"voice,omitempty"`
	StartTime    float64    `json:"start_time,omitempty"` // seek offset, seconds
	SessionToken string     `json:"session_token,omitempty"`
	Repeat       RepeatMode `json:"repeat,omitempty"`
	Date         string     `json:"date,omitempty"` // original wall-clock date, YYYY-MM-DD
	Time         string     `json:"time,omitempty"` // original wall-clock time, HH:MM
	Audio        string     `json:"audio,omitempty"` // inline base64 WAV payload
	AudioKey     string     `json:"audio_key,omitempty"` // object-store key, alternative to Audio
	ScheduleID   string     `json:"schedule_id,omitempty"` // backing schedule row
}

// Task is the unit of broadcast work. Tasks live in controller memory only;
// their persistent shadow is the Schedule row (for schedule tasks) and the
// broadcast log.
type Task struct {
	ID            string        `json:"id"`
	Type          TaskType      `json:"type"`
	Priority      PriorityLevel `json:"priority"`
	Status        TaskStatus    `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ScheduledTime time.Time     `json:"scheduled_time"`
	Data          TaskData      `json:"data"`
}

// NewTask builds a task of the given type at its default priority.
func NewTask(tt TaskType, data TaskData) *Task {
	now := time.Now()
	return &Task{
		ID:            uuid.New().String(),
		Type:          tt,
		Priority:      tt.DefaultPriority(),
		Status:        TaskStatusPending,
		CreatedAt:     now,
		ScheduledTime: now,
		Data:          data,
	}
}

// NewScheduledTask builds a schedule task firing at the given instant.
func NewScheduledTask(at time.Time, data TaskData) *Task {
	t := NewTask(TaskTypeSchedule, data)
	t.ScheduledTime = at
	return t
}

// IsEmergency reports whether the task sits on the emergency rung.
func (t *Task) IsEmergency() bool {
	return t.Priority == PriorityEmergency
}

// OwnedBy reports whether the task belongs to the given user.
func (t *Task) OwnedBy(user string) bool {
	return t.Data.User == user
}

// SetStatus applies a lifecycle transition, returning false for illegal edges.
func (t *Task) SetStatus(s TaskStatus) bool {
	if !CanTransition(t.Status, s) {
		return false
	}
	t.Status = s
	return true
}
