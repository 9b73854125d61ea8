/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/audit"
	"github.com/friendsincode/hermod_pa/internal/logbuffer"
	"github.com/friendsincode/hermod_pa/internal/models"
)

type logCreateRequest struct {
	User    string `json:"user"`
	Type    string `json:"type"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

type logUpdateRequest struct {
	Action  string `json:"action"`
	Details string `json:"details"`
}

func (a *API) handleLogsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := audit.QueryFilters{
		User:   q.Get("user"),
		Action: models.BroadcastAction(q.Get("action")),
		TaskID: q.Get("task_id"),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filters.Since = &t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	rows, total, err := a.audit.Query(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  rows,
		"total": total,
	})
}

// handleLogsCreate appends a manual entry. Operators log drills and
// off-system announcements this way.
func (a *API) handleLogsCreate(w http.ResponseWriter, r *http.Request) {
	var req logCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.User == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "user_and_action_required")
		return
	}

	entry := &models.BroadcastLog{
		TaskType: models.TaskType(strings.ToLower(req.Type)),
		User:     req.User,
		Action:   models.BroadcastAction(strings.ToLower(req.Action)),
		Detail:   req.Details,
	}
	if err := a.audit.Append(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged successfully",
		"id":      entry.ID,
	})
}

func (a *API) handleLogsUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req logUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	err := a.audit.Update(r.Context(), id, models.BroadcastAction(strings.ToLower(req.Action)), req.Details)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "log_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Log updated"})
}

func (a *API) handleLogsDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.audit.Delete(r.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "log_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Log deleted"})
}

// handleLogBuffer queries the in-memory ring. This is the debug view:
// it sees every zerolog line, not just broadcast actions.
func (a *API) handleLogBuffer(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		User:       q.Get("user"),
		Search:     q.Get("search"),
		Descending: true,
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 100
	}
	if q.Get("order") == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogBufferStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":      a.logBuffer.Stats(),
		"components": a.logBuffer.GetComponents(),
	})
}
