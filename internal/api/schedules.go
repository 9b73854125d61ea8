/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
)

type scheduleRequest struct {
	User    string            `json:"user"`
	Date    string            `json:"date"`
	Time    string            `json:"time"`
	Message string            `json:"message"`
	Audio   string            `json:"audio"`
	Voice   string            `json:"voice"`
	Zones   []string          `json:"zones"`
	Repeat  models.RepeatMode `json:"repeat"`
}

// handleScheduleCreate persists the schedule row before the controller
// sees the task. A deny (emergency lock) still leaves the row pending:
// rehydration picks it up once the lock clears or the box restarts.
func (a *API) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.User == "" {
		req.User = r.URL.Query().Get("user")
	}
	if req.Date == "" || req.Time == "" {
		writeError(w, http.StatusBadRequest, "date_and_time_required")
		return
	}
	if req.Message == "" && req.Audio == "" {
		writeError(w, http.StatusBadRequest, "message_or_audio_required")
		return
	}
	if req.Repeat == "" {
		req.Repeat = models.RepeatOnce
	}

	row := &models.Schedule{
		ID:      uuid.NewString(),
		Date:    req.Date,
		Time:    req.Time,
		Message: req.Message,
		Voice:   req.Voice,
		Zones:   req.Zones,
		Repeat:  req.Repeat,
		Status:  models.ScheduleStatusPending,
		User:    req.User,
	}

	at, err := row.At()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date_or_time")
		return
	}

	inlineAudio := ""
	if req.Audio != "" {
		if a.assets != nil {
			key, err := a.assets.StoreEncoded(r.Context(), req.Audio)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_audio")
				return
			}
			row.AudioKey = key
		} else {
			// No object store configured. The queued task still plays
			// the clip, but it will not survive a restart.
			inlineAudio = req.Audio
		}
	}

	if err := a.db.WithContext(r.Context()).Create(row).Error; err != nil {
		a.logger.Error().Err(err).Msg("schedule insert failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	task := taskForSchedule(row, at)
	task.Data.Audio = inlineAudio

	a.bus.Publish(events.EventScheduleCreated, events.Payload{
		"schedule_id": row.ID,
		"user":        row.User,
		"date":        row.Date,
		"time":        row.Time,
	})

	if !a.ctrl.RequestPlayback(r.Context(), task) {
		writeError(w, http.StatusConflict, "schedule_denied")
		return
	}

	writeJSON(w, http.StatusCreated, row)
}

func (a *API) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	var rows []models.Schedule
	query := a.db.WithContext(r.Context()).Order("date, time")
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&rows).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleScheduleUpdate edits a pending schedule. The queued task is
// replaced wholesale; patching it in place would race the scheduler.
func (a *API) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var row models.Schedule
	if err := a.db.WithContext(r.Context()).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "schedule_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if req.Date != "" {
		row.Date = req.Date
	}
	if req.Time != "" {
		row.Time = req.Time
	}
	if req.Message != "" {
		row.Message = req.Message
	}
	if req.Voice != "" {
		row.Voice = req.Voice
	}
	if len(req.Zones) > 0 {
		row.Zones = req.Zones
	}
	if req.Repeat != "" {
		row.Repeat = req.Repeat
	}
	// Editing a played or cancelled row re-arms it.
	row.Status = models.ScheduleStatusPending

	at, err := row.At()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date_or_time")
		return
	}

	inlineAudio := ""
	if req.Audio != "" {
		if a.assets != nil {
			key, err := a.assets.StoreEncoded(r.Context(), req.Audio)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_audio")
				return
			}
			row.AudioKey = key
		} else {
			inlineAudio = req.Audio
		}
	}

	if err := a.db.WithContext(r.Context()).Save(&row).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.ctrl.RemoveFromQueue(row.ID)
	task := taskForSchedule(&row, at)
	task.Data.Audio = inlineAudio

	a.bus.Publish(events.EventScheduleUpdated, events.Payload{
		"schedule_id": row.ID,
		"user":        req.User,
		"date":        row.Date,
		"time":        row.Time,
	})

	if !a.ctrl.RequestPlayback(r.Context(), task) {
		writeError(w, http.StatusConflict, "schedule_denied")
		return
	}

	writeJSON(w, http.StatusOK, row)
}

func (a *API) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := r.URL.Query().Get("user")

	var row models.Schedule
	if err := a.db.WithContext(r.Context()).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "schedule_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.Schedule{}, "id = ?", id).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.ctrl.RemoveFromQueue(id)
	a.bus.Publish(events.EventScheduleDeleted, events.Payload{
		"schedule_id": id,
		"user":        user,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule deleted"})
}

// taskForSchedule builds the queue task for a schedule row. The task id
// is the row id so removal and promotion key on the same identifier.
func taskForSchedule(row *models.Schedule, at time.Time) *models.Task {
	task := models.NewScheduledTask(at, models.TaskData{
		User:       row.User,
		Zones:      row.Zones,
		Content:    row.Message,
		Voice:      row.Voice,
		Repeat:     row.Repeat,
		Date:       row.Date,
		Time:       row.Time,
		AudioKey:   row.AudioKey,
		ScheduleID: row.ID,
	})
	task.ID = row.ID
	return task
}
