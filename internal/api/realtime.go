/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/friendsincode/hermod_pa/internal/controller"
	"github.com/friendsincode/hermod_pa/internal/models"
)

type realtimeStartRequest struct {
	User    string   `json:"user"`
	Zones   []string `json:"zones"`
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Voice   string   `json:"voice"`
}

type realtimeSpeakRequest struct {
	User      string `json:"user"`
	AudioData string `json:"audio_data"`
}

type realtimeCompleteRequest struct {
	TaskID string `json:"task_id"`
}

type realtimeSeekRequest struct {
	User string  `json:"user"`
	Time float64 `json:"time"`
}

// handleRealtimeStart opens a live broadcast. The session token is
// minted before the controller sees the task so a granted slot always
// carries its credential.
func (a *API) handleRealtimeStart(w http.ResponseWriter, r *http.Request) {
	var req realtimeStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	var tt models.TaskType
	switch req.Type {
	case "background":
		tt = models.TaskTypeBackground
	case "voice":
		tt = models.TaskTypeVoice
	default:
		tt = models.TaskTypeText
	}

	task := models.NewTask(tt, models.TaskData{
		User:    req.User,
		Zones:   req.Zones,
		Content: req.Content,
		Voice:   req.Voice,
	})

	token, err := a.sessions.Issue(req.User, task.ID)
	if err != nil {
		a.logger.Error().Err(err).Msg("session token issue failed")
		writeError(w, http.StatusInternalServerError, "session_token_failed")
		return
	}
	task.Data.SessionToken = token

	if !a.ctrl.RequestPlayback(r.Context(), task) {
		writeError(w, http.StatusConflict, "broadcast_busy")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Broadcast Started",
		"task_id":       task.ID,
		"session_token": token,
	})
}

// handleRealtimeSpeak ingests one base64 PCM chunk. Always answers 200:
// browsers fire these from a tight audio callback and treating a lost
// chunk as a failed request would stall the whole pipeline.
func (a *API) handleRealtimeSpeak(w http.ResponseWriter, r *http.Request) {
	var req realtimeSpeakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Chunk failed", "error": "invalid json"})
		return
	}

	chunk, err := decodeAudioChunk(req.AudioData)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Chunk failed", "error": err.Error()})
		return
	}

	a.ctrl.FeedVoiceChunk(chunk)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chunk processed"})
}

// decodeAudioChunk accepts raw base64 or a full data URL.
func decodeAudioChunk(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("empty chunk")
	}
	if idx := strings.Index(encoded, "base64,"); idx >= 0 {
		encoded = encoded[idx+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

func (a *API) handleRealtimeStop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")
	taskID := q.Get("task_id")
	taskType := models.TaskType(q.Get("type"))
	if taskType == "" {
		taskType = models.TaskTypeVoice
	}
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	if err := a.ctrl.StopTask(r.Context(), taskID, taskType, user); err != nil {
		if errors.Is(err, controller.ErrStopDenied) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "stop_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Broadcast Stopped"})
}

// handleRealtimeStopSession ends the caller's live audio. Reached by
// sendBeacon on page unload, so identity may arrive as a session token
// in the query rather than a body.
func (a *API) handleRealtimeStopSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := q.Get("user")

	if token := q.Get("token"); token != "" {
		var storedToken, storedUser string
		if current := a.ctrl.Status().Current; current != nil {
			storedToken = current.Data.SessionToken
			storedUser = current.Data.User
		}
		if owner, ok := a.sessions.Owner(token, storedToken, storedUser); ok {
			user = owner
		}
	}
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_or_token_required")
		return
	}

	a.ctrl.StopSessionTask(r.Context(), user)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session Audio Stopped"})
}

// handleRealtimeComplete is the player process reporting natural end of
// playback. The requester is the system identity, not a user.
func (a *API) handleRealtimeComplete(w http.ResponseWriter, r *http.Request) {
	var req realtimeCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id_required")
		return
	}

	a.ctrl.Complete(r.Context(), req.TaskID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task Completed"})
}

func (a *API) handleRealtimeSeek(w http.ResponseWriter, r *http.Request) {
	var req realtimeSeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if !a.ctrl.SeekBackgroundMusic(r.Context(), req.User, req.Time) {
		writeError(w, http.StatusNotFound, "no_background_playing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Seek successful"})
}

func (a *API) handleRealtimeHeartbeat(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user_required")
		return
	}

	a.ctrl.RegisterHeartbeat(user)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": user})
}
