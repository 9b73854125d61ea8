/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

func (a *API) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := a.notifications.List(r.Context(), user, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": rows,
		"count":         len(rows),
	})
}

func (a *API) handleNotificationsUnreadCount(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	count, err := a.notifications.UnreadCount(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (a *API) handleNotificationsMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	if err := a.notifications.MarkRead(r.Context(), id, user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "notification_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification marked read"})
}

func (a *API) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	if err := a.notifications.MarkAllRead(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "All notifications marked read"})
}

func (a *API) handleNotificationsDismiss(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	if err := a.notifications.Dismiss(r.Context(), id, user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "notification_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notification dismissed"})
}

func (a *API) handleNotificationsClearAll(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	if err := a.notifications.ClearAll(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notifications cleared"})
}
