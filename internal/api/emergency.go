/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/friendsincode/hermod_pa/internal/audit"
	"github.com/friendsincode/hermod_pa/internal/controller"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

type emergencyToggleRequest struct {
	User   string `json:"user"`
	Action string `json:"action"`
}

// handleEmergencyToggle drives the alarm latch. Activation claims every
// zone; deactivation goes through the controller's ownership rules, so
// a bystander cannot silence someone else's alarm.
func (a *API) handleEmergencyToggle(w http.ResponseWriter, r *http.Request) {
	var req emergencyToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	active := a.ctrl.Status().EmergencyMode
	action := strings.ToUpper(req.Action)
	if action == "" || action == "TOGGLE" {
		if active {
			action = "DEACTIVATED"
		} else {
			action = "ACTIVATED"
		}
	}

	switch action {
	case "ACTIVATED":
		if active {
			break
		}
		task := models.NewTask(models.TaskTypeEmergency, models.TaskData{
			User:  req.User,
			Zones: []string{zones.AllZones},
		})
		if !a.ctrl.RequestPlayback(r.Context(), task) {
			writeError(w, http.StatusConflict, "emergency_denied")
			return
		}
	case "DEACTIVATED":
		if !active {
			break
		}
		if err := a.ctrl.StopTask(r.Context(), "", models.TaskTypeEmergency, req.User); err != nil {
			if errors.Is(err, controller.ErrStopDenied) {
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "stop_failed")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}

	history, _, err := a.audit.Query(r.Context(), audit.QueryFilters{Action: models.ActionEmergency})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  a.ctrl.Status().EmergencyMode,
		"history": history,
	})
}

func (a *API) handleEmergencyHistory(w http.ResponseWriter, r *http.Request) {
	history, total, err := a.audit.Query(r.Context(), audit.QueryFilters{Action: models.ActionEmergency})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"total":   total,
	})
}

func (a *API) handleEmergencyHistoryClear(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if !a.cfg.IsAdmin(user) {
		writeError(w, http.StatusForbidden, "admin_required")
		return
	}

	purged, err := a.audit.Purge(r.Context(), audit.QueryFilters{Action: models.ActionEmergency})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Emergency history cleared",
		"purged":  purged,
	})
}
