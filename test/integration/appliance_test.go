/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build integration

// Package integration wires the real appliance components together: the
// HTTP surface, the broadcast controller, the scheduler loop, and the
// bus-driven audit and notification services, all over one in-memory
// store. Only the audio engine and speech synthesis are faked; every
// assertion goes through the same paths the dashboard uses.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/api"
	"github.com/friendsincode/hermod_pa/internal/audit"
	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/controller"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/notifications"
	"github.com/friendsincode/hermod_pa/internal/scheduler"
	"github.com/friendsincode/hermod_pa/internal/session"
	"github.com/friendsincode/hermod_pa/internal/state"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// fakeEngine satisfies audio.Engine and counts what would have played.
type fakeEngine struct {
	mu          sync.Mutex
	announced   int
	wavs        int
	chimes      int
	backgrounds int
	streaming   bool
	sirenOn     bool
}

func (e *fakeEngine) PlayAnnouncement(ctx context.Context, intro, body string, zoneNames []string) error {
	e.mu.Lock()
	e.announced++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PlayWav(ctx context.Context, intro, body string, zoneNames []string) error {
	e.mu.Lock()
	e.wavs++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PlayChimeSync(ctx context.Context, chimePath string, zoneNames []string) error {
	e.mu.Lock()
	e.chimes++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PlayBackgroundMusic(ctx context.Context, path string, zoneNames []string, startTime float64) {
	e.mu.Lock()
	e.backgrounds++
	e.mu.Unlock()
}

func (e *fakeEngine) StartStreaming(ctx context.Context, zoneNames []string) error {
	e.mu.Lock()
	e.streaming = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) FeedStream(chunk []byte) {}

func (e *fakeEngine) StopStreaming() {
	e.mu.Lock()
	e.streaming = false
	e.mu.Unlock()
}

func (e *fakeEngine) PlaySiren(ctx context.Context, zoneNames []string, volume float64) {
	e.mu.Lock()
	e.sirenOn = true
	e.mu.Unlock()
}

func (e *fakeEngine) SetSirenVolume(v float64) {}

func (e *fakeEngine) RampSirenVolume(target float64, duration time.Duration) {}

func (e *fakeEngine) StopSiren() {
	e.mu.Lock()
	e.sirenOn = false
	e.mu.Unlock()
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.streaming = false
	e.sirenOn = false
	e.mu.Unlock()
}

func (e *fakeEngine) wavCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wavs
}

func (e *fakeEngine) backgroundCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backgrounds
}

func (e *fakeEngine) sirenActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sirenOn
}

func (e *fakeEngine) streamingActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaming
}

// fakeSpeech writes real temp files so playback cleanup has something to
// remove.
type fakeSpeech struct {
	dir string
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text, voiceKey string) (string, error) {
	f, err := os.CreateTemp(s.dir, "speech_*.wav")
	if err != nil {
		return "", err
	}
	f.Close()
	return f.Name(), nil
}

func (s *fakeSpeech) SpeakFallback(ctx context.Context, text string) error { return nil }

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Schedule{},
		&models.BroadcastLog{},
		&models.Notification{},
		&models.SystemState{},
	); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

func applianceConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		HeartbeatTimeout:  15 * time.Second,
		ZombieTimeout:     25 * time.Second,
		AdminUsers:        []string{"admin"},
		MediaRoot:         t.TempDir(),
		TTSWorkDir:        t.TempDir(),
		JWTSigningKey:     "integration-signing-key",
		SchedulerTick:     20 * time.Millisecond,
		CleanupInterval:   time.Hour,
		LogRetention:      7 * 24 * time.Hour,
		CleanupBatchLimit: 100,
	}
}

type appliance struct {
	router *chi.Mux
	db     *gorm.DB
	engine *fakeEngine
	cfg    *config.Config
}

// startAppliance assembles the serve-path component graph by hand and
// runs the background services until the test ends.
func startAppliance(t *testing.T, cfg *config.Config) *appliance {
	t.Helper()

	db := setupTestDB(t)

	zonePath := filepath.Join(t.TempDir(), "zone_config.json")
	zoneDoc := []byte(`{"Lobby": 1, "Cafeteria": {"card": 2, "channel": "left"}}`)
	if err := os.WriteFile(zonePath, zoneDoc, 0o644); err != nil {
		t.Fatalf("write zone config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	bus := events.NewBus()
	pub := state.New(db, bus, logger)
	engine := &fakeEngine{}
	speech := &fakeSpeech{dir: cfg.TTSWorkDir}

	ctrl := controller.New(cfg, db, engine, speech, pub, bus, logger)
	ctrl.ResetState(ctx)

	resolver, err := zones.Load(zonePath, zones.Target{Device: 0}, logger)
	if err != nil {
		t.Fatalf("load zones: %v", err)
	}

	auditSvc := audit.NewService(db, bus, logger)
	notifSvc := notifications.NewService(db, bus, cfg, logger)
	go auditSvc.Start(ctx)
	go notifSvc.Start(ctx)

	sched := scheduler.New(cfg, db, ctrl, bus, logger)
	if err := sched.LoadPending(ctx); err != nil {
		t.Fatalf("load pending schedules: %v", err)
	}
	go func() { _ = sched.Run(ctx) }()

	sessions := session.NewManager(cfg.JWTSigningKey, 0)
	a := api.New(db, cfg, ctrl, sessions, notifSvc, auditSvc, bus, nil, logger)
	a.SetZones(resolver)

	router := chi.NewRouter()
	a.Routes(router)

	// Give the bus subscribers a moment to register before traffic starts.
	time.Sleep(100 * time.Millisecond)

	return &appliance{router: router, db: db, engine: engine, cfg: cfg}
}

func (app *appliance) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type statusDoc struct {
	CurrentTask   *models.Task `json:"current_task"`
	QueueLength   int          `json:"queue_length"`
	EmergencyMode bool         `json:"emergency_mode"`
}

func (app *appliance) status(t *testing.T) statusDoc {
	t.Helper()

	rr := app.do(t, "GET", "/api/v1/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st statusDoc
	decodeBody(t, rr, &st)
	return st
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// TestScheduledAnnouncementLifecycle follows one announcement from the
// POST that creates it to the audit and notification rows it leaves
// behind: created pending, promoted by the scheduler tick, played on the
// engine, marked completed, and the appliance back at idle.
func TestScheduledAnnouncementLifecycle(t *testing.T) {
	app := startAppliance(t, applianceConfig(t))

	rr := app.do(t, "GET", "/api/v1/zones", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("zones = %d", rr.Code)
	}
	var zoneList struct {
		Zones []string `json:"zones"`
	}
	decodeBody(t, rr, &zoneList)
	if len(zoneList.Zones) != 2 || zoneList.Zones[0] != "Cafeteria" || zoneList.Zones[1] != "Lobby" {
		t.Fatalf("zones = %v, want [Cafeteria Lobby]", zoneList.Zones)
	}

	date, clock := models.SplitClock(time.Now())
	rr = app.do(t, "POST", "/api/v1/schedules/", map[string]any{
		"user":    "alice",
		"date":    date,
		"time":    clock,
		"message": "All staff to the loading dock",
		"zones":   []string{"Lobby"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create schedule = %d body=%s", rr.Code, rr.Body.String())
	}
	var row models.Schedule
	decodeBody(t, rr, &row)
	if row.Status != models.ScheduleStatusPending {
		t.Fatalf("created status = %s, want Pending", row.Status)
	}

	// Due this minute: the next tick promotes it and the fake engine
	// plays the synthesized body.
	waitUntil(t, 3*time.Second, func() bool { return app.engine.wavCount() == 1 })

	var fired models.Schedule
	if err := app.db.First(&fired, "id = ?", row.ID).Error; err != nil {
		t.Fatalf("reload schedule: %v", err)
	}
	if fired.Status != models.ScheduleStatusCompleted {
		t.Fatalf("fired status = %s, want Completed", fired.Status)
	}

	waitUntil(t, 2*time.Second, func() bool {
		st := app.status(t)
		return st.CurrentTask == nil && st.QueueLength == 0 && !st.EmergencyMode
	})

	// The bus fan-out lands in the broadcast log.
	waitUntil(t, 2*time.Second, func() bool {
		rr := app.do(t, "GET", "/api/v1/logs/?task_id="+row.ID, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var out struct {
			Logs []models.BroadcastLog `json:"logs"`
		}
		decodeBody(t, rr, &out)
		var started, completed bool
		for _, entry := range out.Logs {
			switch entry.Action {
			case models.ActionStarted:
				started = true
			case models.ActionCompleted:
				completed = true
			}
		}
		return started && completed
	})

	// And in alice's bell menu.
	waitUntil(t, 2*time.Second, func() bool {
		rr := app.do(t, "GET", "/api/v1/notifications/?user=alice", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var out struct {
			Notifications []models.Notification `json:"notifications"`
		}
		decodeBody(t, rr, &out)
		for _, n := range out.Notifications {
			if n.Title == "Scheduled Announcement Completed" {
				return true
			}
		}
		return false
	})
}

// TestDailyScheduleRollsForward checks that firing a daily schedule
// leaves a pending follow-up row one day later at the same wall-clock
// time, already queued for promotion.
func TestDailyScheduleRollsForward(t *testing.T) {
	app := startAppliance(t, applianceConfig(t))

	date, clock := models.SplitClock(time.Now())
	rr := app.do(t, "POST", "/api/v1/schedules/", map[string]any{
		"user":    "facilities",
		"date":    date,
		"time":    clock,
		"message": "Gates closing in fifteen minutes",
		"zones":   []string{zones.AllZones},
		"repeat":  "daily",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create schedule = %d body=%s", rr.Code, rr.Body.String())
	}
	var row models.Schedule
	decodeBody(t, rr, &row)

	waitUntil(t, 3*time.Second, func() bool { return app.engine.wavCount() >= 1 })

	base, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.Local)
	if err != nil {
		t.Fatalf("parse base time: %v", err)
	}
	wantDate := base.AddDate(0, 0, 1).Format("2006-01-02")

	var next models.Schedule
	waitUntil(t, 2*time.Second, func() bool {
		err := app.db.
			Where("status = ? AND id <> ?", models.ScheduleStatusPending, row.ID).
			First(&next).Error
		return err == nil
	})

	if next.Date != wantDate || next.Time != clock {
		t.Fatalf("recurrence at %s %s, want %s %s", next.Date, next.Time, wantDate, clock)
	}
	if next.Repeat != models.RepeatDaily || next.Message != row.Message {
		t.Fatalf("recurrence row = %+v", next)
	}

	waitUntil(t, 2*time.Second, func() bool { return app.status(t).QueueLength == 1 })
}

// TestEmergencyLockoutAndHandback drives the alarm latch end to end: the
// alarm suspends the background bed and locks out lower-priority work,
// only the owner can clear it, and clearing hands the speakers back to
// the suspended track.
func TestEmergencyLockoutAndHandback(t *testing.T) {
	app := startAppliance(t, applianceConfig(t))

	rr := app.do(t, "POST", "/api/v1/realtime/start", map[string]any{
		"user": "frontdesk", "type": "background", "content": "ambient.mp3", "zones": []string{"Lobby"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("background start = %d body=%s", rr.Code, rr.Body.String())
	}
	waitUntil(t, time.Second, func() bool { return app.engine.backgroundCount() == 1 })

	rr = app.do(t, "POST", "/api/v1/emergency/toggle", map[string]any{
		"user": "marshal", "action": "ACTIVATED",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("activate = %d body=%s", rr.Code, rr.Body.String())
	}
	var toggled struct {
		Active bool `json:"active"`
	}
	decodeBody(t, rr, &toggled)
	if !toggled.Active {
		t.Fatal("activate reported inactive")
	}
	if !app.engine.sirenActive() {
		t.Fatal("siren not playing after activation")
	}
	if st := app.status(t); !st.EmergencyMode {
		t.Fatalf("status after activation = %+v", st)
	}

	// Lower-priority work bounces while the latch is up. The schedule row
	// still lands in the store: rehydration picks it up after the alarm.
	rr = app.do(t, "POST", "/api/v1/realtime/start", map[string]any{
		"user": "bob", "type": "voice", "zones": []string{"Lobby"},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("voice during emergency = %d, want 409", rr.Code)
	}

	date, clock := models.SplitClock(time.Now().Add(time.Hour))
	rr = app.do(t, "POST", "/api/v1/schedules/", map[string]any{
		"user": "afterhours", "date": date, "time": clock, "message": "Site closing",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("schedule during emergency = %d, want 409", rr.Code)
	}
	var parked models.Schedule
	if err := app.db.First(&parked, "user = ?", "afterhours").Error; err != nil {
		t.Fatalf("denied schedule row missing: %v", err)
	}
	if parked.Status != models.ScheduleStatusPending {
		t.Fatalf("denied schedule status = %s, want Pending", parked.Status)
	}

	// A bystander cannot silence someone else's alarm.
	rr = app.do(t, "POST", "/api/v1/emergency/toggle", map[string]any{
		"user": "bystander", "action": "DEACTIVATED",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("bystander deactivate = %d, want 403", rr.Code)
	}

	rr = app.do(t, "POST", "/api/v1/emergency/toggle", map[string]any{
		"user": "marshal", "action": "DEACTIVATED",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("owner deactivate = %d body=%s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &toggled)
	if toggled.Active {
		t.Fatal("deactivate reported still active")
	}

	// The suspended bed restarts once the latch clears.
	waitUntil(t, 3*time.Second, func() bool { return app.engine.backgroundCount() == 2 })
	waitUntil(t, 2*time.Second, func() bool {
		st := app.status(t)
		return !st.EmergencyMode && st.CurrentTask != nil &&
			st.CurrentTask.Type == models.TaskTypeBackground
	})

	// Both edges of the latch are on the emergency history.
	waitUntil(t, 2*time.Second, func() bool {
		rr := app.do(t, "GET", "/api/v1/emergency/history", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var out struct {
			History []models.BroadcastLog `json:"history"`
		}
		decodeBody(t, rr, &out)
		var activated, cleared bool
		for _, entry := range out.History {
			switch entry.Detail {
			case "activated":
				activated = true
			case "cleared":
				cleared = true
			}
		}
		return activated && cleared
	})
}

// TestWatchdogReapsSilentVoiceSession starts a live voice broadcast
// whose owner stops heartbeating and waits for the scheduler tick to
// reap it through the controller watchdog.
func TestWatchdogReapsSilentVoiceSession(t *testing.T) {
	cfg := applianceConfig(t)
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	app := startAppliance(t, cfg)

	rr := app.do(t, "POST", "/api/v1/realtime/heartbeat?user=ops", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("heartbeat = %d", rr.Code)
	}

	rr = app.do(t, "POST", "/api/v1/realtime/start", map[string]any{
		"user": "ops", "type": "voice", "zones": []string{"Lobby"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("voice start = %d body=%s", rr.Code, rr.Body.String())
	}
	var started struct {
		TaskID string `json:"task_id"`
	}
	decodeBody(t, rr, &started)

	waitUntil(t, time.Second, func() bool { return app.engine.streamingActive() })

	// No further heartbeats: the watchdog stops the session.
	waitUntil(t, 3*time.Second, func() bool {
		return app.status(t).CurrentTask == nil && !app.engine.streamingActive()
	})

	waitUntil(t, 2*time.Second, func() bool {
		rr := app.do(t, "GET", "/api/v1/logs/?task_id="+started.TaskID, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var out struct {
			Logs []models.BroadcastLog `json:"logs"`
		}
		decodeBody(t, rr, &out)
		for _, entry := range out.Logs {
			if entry.Action == models.ActionWatchdog {
				return true
			}
		}
		return false
	})
}
