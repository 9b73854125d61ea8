/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the appliance control surface over HTTP. Handlers
// translate requests into controller calls and database rows; every
// mutation flows through the broadcast controller so the priority rules
// hold no matter which endpoint fired.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/audit"
	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/controller"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/logbuffer"
	"github.com/friendsincode/hermod_pa/internal/notifications"
	"github.com/friendsincode/hermod_pa/internal/session"
	"github.com/friendsincode/hermod_pa/internal/storage"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// API exposes HTTP handlers.
type API struct {
	db            *gorm.DB
	cfg           *config.Config
	ctrl          *controller.Controller
	sessions      *session.Manager
	notifications *notifications.Service
	audit         *audit.Service
	assets        *storage.Assets
	zones         *zones.Resolver
	bus           events.Broker
	logBuffer     *logbuffer.Buffer
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, cfg *config.Config, ctrl *controller.Controller, sessions *session.Manager, notifSvc *notifications.Service, auditSvc *audit.Service, bus events.Broker, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:            db,
		cfg:           cfg,
		ctrl:          ctrl,
		sessions:      sessions,
		notifications: notifSvc,
		audit:         auditSvc,
		bus:           bus,
		logBuffer:     logBuf,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// SetAssets sets the audio asset store. Optional; schedule uploads fall
// back to inline base64 task data when absent.
func (a *API) SetAssets(assets *storage.Assets) {
	a.assets = assets
}

// SetZones sets the zone resolver used by the zones endpoint.
func (a *API) SetZones(resolver *zones.Resolver) {
	a.zones = resolver
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)
		r.Get("/zones", a.handleZones)

		r.Route("/realtime", func(r chi.Router) {
			r.Post("/start", a.handleRealtimeStart)
			r.Post("/speak", a.handleRealtimeSpeak)
			r.Get("/stream", a.handleRealtimeStream)
			r.Post("/stop", a.handleRealtimeStop)
			// Beacon-style senders (navigator.sendBeacon, page unload)
			// can only GET, so the session stop answers both verbs.
			r.Post("/stop-session", a.handleRealtimeStopSession)
			r.Get("/stop-session", a.handleRealtimeStopSession)
			r.Post("/complete", a.handleRealtimeComplete)
			r.Post("/seek", a.handleRealtimeSeek)
			r.Post("/heartbeat", a.handleRealtimeHeartbeat)
			r.Get("/status", a.handleStatus)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", a.handleScheduleCreate)
			r.Get("/", a.handleScheduleList)
			r.Put("/{id}", a.handleScheduleUpdate)
			r.Delete("/{id}", a.handleScheduleDelete)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", a.handleLogsList)
			r.Post("/", a.handleLogsCreate)
			r.Put("/{id}", a.handleLogsUpdate)
			r.Delete("/{id}", a.handleLogsDelete)
			r.Get("/buffer", a.handleLogBuffer)
			r.Get("/buffer/stats", a.handleLogBufferStats)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", a.handleNotificationsList)
			r.Get("/unread-count", a.handleNotificationsUnreadCount)
			r.Post("/read-all", a.handleNotificationsReadAll)
			r.Post("/{id}/read", a.handleNotificationsMarkRead)
			r.Delete("/{id}", a.handleNotificationsDismiss)
			r.Delete("/", a.handleNotificationsClearAll)
		})

		r.Route("/emergency", func(r chi.Router) {
			r.Post("/toggle", a.handleEmergencyToggle)
			r.Get("/history", a.handleEmergencyHistory)
			r.Delete("/history", a.handleEmergencyHistoryClear)
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", a.handleFilesList)
			r.Post("/upload", a.handleFileUpload)
			r.Delete("/{filename}", a.handleFileDelete)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports the live controller state plus the queue, the
// shape the frontend polls between pushes.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.ctrl.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"current_task":      st.Current,
		"queue":             a.ctrl.QueueSnapshot(),
		"queue_length":      st.QueueLength,
		"emergency_mode":    st.EmergencyMode,
		"emergency_owner":   st.EmergencyOwner,
		"priority":          st.Priority,
		"mode":              st.Mode,
		"background_resume": st.BackgroundResume,
	})
}

func (a *API) handleZones(w http.ResponseWriter, r *http.Request) {
	if a.zones == nil {
		writeJSON(w, http.StatusOK, map[string]any{"zones": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": a.zones.Names()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
