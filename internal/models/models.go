/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the broadcast task domain types and the persisted
// rows backing schedules, logs, notifications, and the published state
// document.
package models

import (
	"fmt"
	"time"
)

// ScheduleStatus mirrors the store convention of the legacy appliance:
// capitalized status strings.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "Pending"
	ScheduleStatusCompleted ScheduleStatus = "Completed"
)

// scheduleTimeLayout is the wall-clock format of schedule rows.
const scheduleTimeLayout = "2006-01-02 15:04"

// Schedule is a persisted scheduled announcement. Date and Time are kept as
// the original wall-clock strings so recurrence never drifts.
type Schedule struct {
	ID       string         `gorm:"type:uuid;primaryKey" json:"id"`
	Date     string         `gorm:"type:varchar(10);index:idx_schedule_due" json:"date"` // YYYY-MM-DD
	Time     string         `gorm:"type:varchar(5);index:idx_schedule_due" json:"time"`  // HH:MM
	Message  string         `json:"message,omitempty"`
	AudioKey string         `gorm:"type:varchar(255)" json:"audio_key,omitempty"` // object-store key for uploaded audio
	Voice    string         `gorm:"type:varchar(64)" json:"voice,omitempty"`
	Zones    []string       `gorm:"serializer:json" json:"zones"`
	Repeat   RepeatMode     `gorm:"column:repeat_mode;type:varchar(16)" json:"repeat"`
	Status   ScheduleStatus `gorm:"type:varchar(16);index" json:"status"`
	User     string         `gorm:"type:varchar(128)" json:"user"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// At parses the row's wall-clock strings in the local timezone.
func (s *Schedule) At() (time.Time, error) {
	at, err := time.ParseInLocation(scheduleTimeLayout, s.Date+" "+s.Time, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %s time %q %q: %w", s.ID, s.Date, s.Time, err)
	}
	return at, nil
}

// SplitClock decomposes an instant back into the row's string pair.
func SplitClock(at time.Time) (date, clock string) {
	return at.Format("2006-01-02"), at.Format("15:04")
}

// BroadcastAction labels entries in the broadcast log.
type BroadcastAction string

const (
	ActionStarted     BroadcastAction = "started"
	ActionCompleted   BroadcastAction = "completed"
	ActionInterrupted BroadcastAction = "interrupted"
	ActionStopped     BroadcastAction = "stopped"
	ActionDenied      BroadcastAction = "denied"
	ActionWatchdog    BroadcastAction = "watchdog_stop"
	ActionEmergency   BroadcastAction = "emergency"
)

// BroadcastLog records every observable broadcast action for the log surface
// and the periodic cleanup pass.
type BroadcastLog struct {
	ID       string          `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID   string          `gorm:"type:uuid;index" json:"task_id"`
	TaskType TaskType        `gorm:"type:varchar(16)" json:"task_type"`
	User     string          `gorm:"type:varchar(128)" json:"user"`
	Zones    []string        `gorm:"serializer:json" json:"zones,omitempty"`
	Action   BroadcastAction `gorm:"type:varchar(32);index" json:"action"`
	Detail   string          `json:"detail,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_broadcast_log_created" json:"created_at"`
}

// NotificationType classifies appliance notifications.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// Notification is an append-only alert record. Read and cleared state is
// tracked per user id.
type Notification struct {
	ID         string           `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string           `gorm:"type:varchar(255)" json:"title"`
	Message    string           `json:"message"`
	Type       NotificationType `gorm:"type:varchar(16)" json:"type"`
	TargetUser string           `gorm:"type:varchar(128);index" json:"target_user,omitempty"`
	TargetRole string           `gorm:"type:varchar(64);index" json:"target_role,omitempty"`
	ReadBy     []string         `gorm:"serializer:json" json:"read_by"`
	ClearedBy  []string         `gorm:"serializer:json" json:"cleared_by"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// IsReadBy reports whether the given user has read the notification.
func (n *Notification) IsReadBy(user string) bool {
	for _, u := range n.ReadBy {
		if u == user {
			return true
		}
	}
	return false
}

// MarkRead records a reader, once.
func (n *Notification) MarkRead(user string) {
	if !n.IsReadBy(user) {
		n.ReadBy = append(n.ReadBy, user)
	}
}

// SystemStateKey is the single well-known key of the published state document.
const SystemStateKey = "controller"

// SystemState is the controller's observable state mirrored to the store on
// every transition. Last writer wins; no history is kept.
type SystemState struct {
	Key        string        `gorm:"type:varchar(32);primaryKey" json:"-"`
	ActiveTask *Task         `gorm:"serializer:json" json:"active_task"`
	Priority   PriorityLevel `gorm:"type:int" json:"priority"`
	Mode       Mode          `gorm:"type:varchar(16)" json:"mode"`
	UpdatedAt  time.Time     `json:"timestamp"`
}

// DeviceStatus is the liveness row stamped by the appliance heartbeat loop.
type DeviceStatus struct {
	Name     string    `gorm:"type:varchar(64);primaryKey" json:"name"`
	Status   string    `gorm:"type:varchar(16)" json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// TableName overrides for GORM.
func (Schedule) TableName() string {
	return "schedules"
}

func (BroadcastLog) TableName() string {
	return "broadcast_logs"
}

func (Notification) TableName() string {
	return "notifications"
}

func (SystemState) TableName() string {
	return "system_states"
}

func (DeviceStatus) TableName() string {
	return "device_statuses"
}
