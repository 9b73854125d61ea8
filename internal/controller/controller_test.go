/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/hermod_pa/internal/config"
	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/state"
)

// fakeEngine records calls instead of spawning players. When hold is
// non-nil, announcement playback blocks until the channel is closed so
// tests can keep a task current.
type fakeEngine struct {
	hold chan struct{}

	mu          sync.Mutex
	announced   []string
	chimes      int
	background  []string
	bgOffsets   []float64
	streaming   bool
	chunks      [][]byte
	sirenOn     bool
	sirenVolume float64
	stops       int
}

func (e *fakeEngine) PlayAnnouncement(ctx context.Context, intro, body string, zoneNames []string) error {
	if e.hold != nil {
		<-e.hold
	}
	e.mu.Lock()
	e.announced = append(e.announced, body)
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PlayWav(ctx context.Context, intro, body string, zoneNames []string) error {
	return e.PlayAnnouncement(ctx, intro, body, zoneNames)
}

func (e *fakeEngine) PlayChimeSync(ctx context.Context, chimePath string, zoneNames []string) error {
	e.mu.Lock()
	e.chimes++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) PlayBackgroundMusic(ctx context.Context, path string, zoneNames []string, startTime float64) {
	e.mu.Lock()
	e.background = append(e.background, path)
	e.bgOffsets = append(e.bgOffsets, startTime)
	e.mu.Unlock()
}

func (e *fakeEngine) StartStreaming(ctx context.Context, zoneNames []string) error {
	e.mu.Lock()
	e.streaming = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) FeedStream(chunk []byte) {
	e.mu.Lock()
	e.chunks = append(e.chunks, chunk)
	e.mu.Unlock()
}

func (e *fakeEngine) StopStreaming() {
	e.mu.Lock()
	e.streaming = false
	e.mu.Unlock()
}

func (e *fakeEngine) PlaySiren(ctx context.Context, zoneNames []string, volume float64) {
	e.mu.Lock()
	e.sirenOn = true
	e.sirenVolume = volume
	e.mu.Unlock()
}

func (e *fakeEngine) SetSirenVolume(v float64) {
	e.mu.Lock()
	e.sirenVolume = v
	e.mu.Unlock()
}

func (e *fakeEngine) RampSirenVolume(target float64, duration time.Duration) {
	e.SetSirenVolume(target)
}

func (e *fakeEngine) StopSiren() {
	e.mu.Lock()
	e.sirenOn = false
	e.mu.Unlock()
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.stops++
	e.streaming = false
	e.sirenOn = false
	e.mu.Unlock()
}

func (e *fakeEngine) backgroundPlays() ([]string, []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracks := append([]string(nil), e.background...)
	offsets := append([]float64(nil), e.bgOffsets...)
	return tracks, offsets
}

func (e *fakeEngine) announceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.announced)
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

func (e *fakeEngine) sirenActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sirenOn
}

func (e *fakeEngine) chunkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.chunks)
}

// fakeSpeech produces a constant path or fails on demand.
type fakeSpeech struct {
	mu        sync.Mutex
	fail      bool
	synths    int
	fallbacks int
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text, voiceKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synths++
	if s.fail {
		return "", errors.New("no voice model")
	}
	return "fake.wav", nil
}

func (s *fakeSpeech) SpeakFallback(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks++
	return nil
}

func (s *fakeSpeech) fallbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbacks
}

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatTimeout: 15 * time.Second,
		ZombieTimeout:    25 * time.Second,
		AdminUsers:       []string{"admin"},
	}
}

func newTestController(t *testing.T, engine *fakeEngine, speech *fakeSpeech) (*Controller, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Schedule{}, &models.SystemState{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	bus := events.NewBus()
	pub := state.New(db, bus, zerolog.Nop())
	return New(testConfig(), db, engine, speech, pub, bus, zerolog.Nop()), db
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func voiceTask(user string) *models.Task {
	return models.NewTask(models.TaskTypeVoice, models.TaskData{User: user, Zones: []string{"All Zones"}})
}

func backgroundTask(user, track string) *models.Task {
	return models.NewTask(models.TaskTypeBackground, models.TaskData{User: user, Content: track, Zones: []string{"All Zones"}})
}

func TestRequestPlaybackPriorityLadder(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	denied := c.bus.Subscribe(events.EventBroadcastDenied)

	if !c.RequestPlayback(ctx, voiceTask("alice")) {
		t.Fatalf("voice over idle should be accepted")
	}
	if c.RequestPlayback(ctx, backgroundTask("bob", "track.mp3")) {
		t.Fatalf("background must not displace a live voice broadcast")
	}
	if c.RequestPlayback(ctx, voiceTask("bob")) {
		t.Fatalf("equal priority from another user must be denied")
	}
	if !c.RequestPlayback(ctx, voiceTask("alice")) {
		t.Fatalf("equal priority from the same user should preempt")
	}

	select {
	case <-denied:
	case <-time.After(time.Second):
		t.Fatalf("expected a denied event on the bus")
	}

	emergency := models.NewTask(models.TaskTypeEmergency, models.TaskData{User: "chief"})
	if !c.RequestPlayback(ctx, emergency) {
		t.Fatalf("emergency should preempt everything")
	}
	st := c.Status()
	if !st.EmergencyMode || st.Priority != models.PriorityEmergency {
		t.Fatalf("status after emergency: emergency=%v priority=%v", st.EmergencyMode, st.Priority)
	}
	if !engine.sirenActive() {
		t.Fatalf("siren should be running during an emergency")
	}
}

func TestEmergencyLocksAdmission(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &fakeEngine{}, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, models.NewTask(models.TaskTypeEmergency, models.TaskData{User: "chief"})) {
		t.Fatalf("emergency start failed")
	}

	if c.RequestPlayback(ctx, voiceTask("alice")) {
		t.Fatalf("voice must be locked out during an emergency")
	}
	sched := models.NewScheduledTask(time.Now().Add(time.Hour), models.TaskData{User: "alice"})
	if c.RequestPlayback(ctx, sched) {
		t.Fatalf("schedules must be locked out during an emergency")
	}
	if got := c.Status().QueueLength; got != 0 {
		t.Fatalf("queue length = %d, want 0", got)
	}
}

func TestBackgroundDuplicateAbsorbed(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, backgroundTask("alice", "lounge.mp3")) {
		t.Fatalf("first background request failed")
	}
	if !c.RequestPlayback(ctx, backgroundTask("alice", "lounge.mp3")) {
		t.Fatalf("duplicate background request should be acknowledged")
	}

	tracks, _ := engine.backgroundPlays()
	if len(tracks) != 1 {
		t.Fatalf("background started %d times, want 1", len(tracks))
	}

	if c.RequestPlayback(ctx, backgroundTask("bob", "lounge.mp3")) {
		t.Fatalf("another user's background must not displace the current one")
	}
}

func TestBackgroundTrackSwitchResetsResume(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, backgroundTask("alice", "first.mp3")) {
		t.Fatalf("first track failed")
	}
	c.mu.Lock()
	c.backgroundPlayStart = time.Now().Add(-5 * time.Second)
	c.mu.Unlock()

	if !c.RequestPlayback(ctx, backgroundTask("alice", "second.mp3")) {
		t.Fatalf("track switch failed")
	}

	tracks, offsets := engine.backgroundPlays()
	if len(tracks) != 2 || tracks[1] != "second.mp3" {
		t.Fatalf("tracks = %v, want second.mp3 last", tracks)
	}
	if offsets[1] != 0 {
		t.Fatalf("new track offset = %v, want 0", offsets[1])
	}
}

func TestVoicePreemptsBackgroundAndResumes(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, backgroundTask("alice", "lounge.mp3")) {
		t.Fatalf("background start failed")
	}
	c.mu.Lock()
	c.backgroundPlayStart = time.Now().Add(-5 * time.Second)
	c.mu.Unlock()

	v := voiceTask("bob")
	if !c.RequestPlayback(ctx, v) {
		t.Fatalf("voice should preempt background")
	}

	c.mu.Lock()
	suspended := c.suspended
	c.mu.Unlock()
	if suspended == nil || suspended.Data.Content != "lounge.mp3" {
		t.Fatalf("background should be suspended, got %+v", suspended)
	}
	if suspended.Status != models.TaskStatusInterrupted {
		t.Fatalf("suspended status = %q, want interrupted", suspended.Status)
	}

	if err := c.StopTask(ctx, v.ID, models.TaskTypeVoice, "bob"); err != nil {
		t.Fatalf("stop voice: %v", err)
	}

	st := c.Status()
	if st.Current == nil || st.Current.Type != models.TaskTypeBackground {
		t.Fatalf("background should have resumed, current=%+v", st.Current)
	}

	_, offsets := engine.backgroundPlays()
	if len(offsets) != 2 {
		t.Fatalf("background started %d times, want 2", len(offsets))
	}
	if offsets[1] < 4.9 || offsets[1] > 7 {
		t.Fatalf("resume offset = %v, want about 5 seconds", offsets[1])
	}
}

func TestSchedulePreemptionRequeuesAtHead(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	engine := &fakeEngine{hold: hold}
	c, db := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	row := &models.Schedule{ID: "sched-1", Date: "2026-01-02", Time: "08:00", Message: "doors open", Status: models.ScheduleStatusPending, User: "alice"}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("create schedule row: %v", err)
	}

	task := models.NewScheduledTask(time.Now().Add(-time.Second), models.TaskData{User: "alice", Content: "doors open", ScheduleID: "sched-1"})
	c.Enqueue(task)

	promoted := c.PromoteDue(ctx, time.Now())
	if promoted == nil {
		t.Fatalf("due schedule should have been promoted")
	}

	var stored models.Schedule
	if err := db.First(&stored, "id = ?", "sched-1").Error; err != nil {
		t.Fatalf("load schedule row: %v", err)
	}
	if stored.Status != models.ScheduleStatusCompleted {
		t.Fatalf("row status = %q, want Completed before playback", stored.Status)
	}

	if !c.RequestPlayback(ctx, voiceTask("bob")) {
		t.Fatalf("voice should preempt the schedule")
	}

	queued := c.QueueSnapshot()
	if len(queued) != 1 || queued[0].ID != task.ID {
		t.Fatalf("schedule should be back at the queue head, got %d entries", len(queued))
	}
	if queued[0].Status != models.TaskStatusPending {
		t.Fatalf("requeued status = %q, want pending", queued[0].Status)
	}
}

func TestQueueShiftAfterInterruption(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, db := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	base := time.Now().Add(time.Hour).Truncate(time.Minute)
	date, clock := models.SplitClock(base)
	row := &models.Schedule{ID: "sched-shift", Date: date, Time: clock, Status: models.ScheduleStatusPending, User: "alice"}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("create schedule row: %v", err)
	}

	task := models.NewScheduledTask(base, models.TaskData{User: "alice", Date: date, Time: clock, ScheduleID: "sched-shift"})
	c.Enqueue(task)

	v := voiceTask("bob")
	if !c.RequestPlayback(ctx, v) {
		t.Fatalf("voice start failed")
	}

	// Backdate the interruption window to make the shift visible.
	c.mu.Lock()
	c.pauseStart = time.Now().Add(-10 * time.Minute)
	c.mu.Unlock()

	if err := c.StopTask(ctx, v.ID, models.TaskTypeVoice, "bob"); err != nil {
		t.Fatalf("stop voice: %v", err)
	}

	queued := c.QueueSnapshot()
	if len(queued) != 1 {
		t.Fatalf("queue length = %d, want 1", len(queued))
	}
	shift := queued[0].ScheduledTime.Sub(base)
	if shift < 9*time.Minute || shift > 11*time.Minute {
		t.Fatalf("scheduled time shifted by %v, want about 10 minutes", shift)
	}
	if queued[0].Data.Time != clock {
		t.Fatalf("original wall-clock slot changed to %q, recurrence would drift", queued[0].Data.Time)
	}

	var stored models.Schedule
	if err := db.First(&stored, "id = ?", "sched-shift").Error; err != nil {
		t.Fatalf("load schedule row: %v", err)
	}
	storedAt, err := stored.At()
	if err != nil {
		t.Fatalf("parse stored time: %v", err)
	}
	rowShift := storedAt.Sub(base)
	if rowShift < 9*time.Minute || rowShift > 11*time.Minute {
		t.Fatalf("stored row shifted by %v, want about 10 minutes", rowShift)
	}

	c.mu.Lock()
	pause := c.pauseStart
	c.mu.Unlock()
	if !pause.IsZero() {
		t.Fatalf("shift window should be closed after the stop")
	}
}

func TestStopOwnershipRules(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	v := voiceTask("alice")
	if !c.RequestPlayback(ctx, v) {
		t.Fatalf("voice start failed")
	}

	if err := c.StopTask(ctx, "", "", "mallory"); !errors.Is(err, ErrStopDenied) {
		t.Fatalf("stranger stop = %v, want ErrStopDenied", err)
	}
	if err := c.StopTask(ctx, "bogus-id", "", "alice"); !errors.Is(err, ErrStopDenied) {
		t.Fatalf("wrong id stop = %v, want ErrStopDenied", err)
	}
	if err := c.StopTask(ctx, "", models.TaskTypeBackground, "alice"); !errors.Is(err, ErrStopDenied) {
		t.Fatalf("wrong type stop = %v, want ErrStopDenied", err)
	}
	if err := c.StopTask(ctx, "", AnyTaskType, "alice"); err != nil {
		t.Fatalf("owner stop: %v", err)
	}
	if c.Status().Current != nil {
		t.Fatalf("task should be stopped")
	}

	// Generic stops must not kill a schedule someone else queued.
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	engine.hold = hold

	task := models.NewScheduledTask(time.Now().Add(-time.Second), models.TaskData{User: "alice", Content: "hi"})
	c.Enqueue(task)
	if c.PromoteDue(ctx, time.Now()) == nil {
		t.Fatalf("promotion failed")
	}
	if err := c.StopTask(ctx, "", "", "alice"); !errors.Is(err, ErrStopDenied) {
		t.Fatalf("generic stop of a schedule by non-admin = %v, want ErrStopDenied", err)
	}
	if err := c.StopTask(ctx, "", "", "admin"); err != nil {
		t.Fatalf("admin stop of schedule: %v", err)
	}
}

func TestEmergencyLatchDeactivation(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	// Post-script phase: slot empty, latch up, siren holding.
	c.mu.Lock()
	c.emergencyMode = true
	c.emergencyOwner = "chief"
	c.mu.Unlock()

	st := c.Status()
	if st.Mode != models.ModeEmergency || st.Priority != models.PriorityEmergency {
		t.Fatalf("latched status = mode %q priority %v", st.Mode, st.Priority)
	}

	if err := c.StopTask(ctx, "", "", "mallory"); !errors.Is(err, ErrStopDenied) {
		t.Fatalf("stranger deactivation = %v, want ErrStopDenied", err)
	}
	if err := c.StopTask(ctx, "", "", "chief"); err != nil {
		t.Fatalf("owner deactivation: %v", err)
	}

	st = c.Status()
	if st.EmergencyMode || st.Mode != models.ModeIdle {
		t.Fatalf("after deactivation: emergency=%v mode=%q", st.EmergencyMode, st.Mode)
	}
	if engine.stopCount() == 0 {
		t.Fatalf("deactivation should stop the engine")
	}
}

func TestHeartbeatWatchdog(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, backgroundTask("carol", "track.mp3")) {
		t.Fatalf("background start failed")
	}
	c.RegisterHeartbeat("carol")
	c.CheckHeartbeats(ctx)
	if c.Status().Current == nil {
		t.Fatalf("fresh heartbeat should keep the task alive")
	}

	c.mu.Lock()
	c.heartbeats["carol"] = time.Now().Add(-20 * time.Second)
	c.mu.Unlock()
	c.CheckHeartbeats(ctx)
	if c.Status().Current != nil {
		t.Fatalf("stale heartbeat should stop the task")
	}
}

func TestZombieWatchdog(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, backgroundTask("dave", "track.mp3")) {
		t.Fatalf("background start failed")
	}

	// Never heartbeated, not old enough yet.
	c.CheckHeartbeats(ctx)
	if c.Status().Current == nil {
		t.Fatalf("young session must not be reaped")
	}

	c.mu.Lock()
	c.currentStarted = time.Now().Add(-30 * time.Second)
	c.mu.Unlock()
	c.CheckHeartbeats(ctx)
	if c.Status().Current != nil {
		t.Fatalf("zombie session should be reaped")
	}
}

func TestWatchdogIgnoresSchedulesAndSystem(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	engine := &fakeEngine{hold: hold}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	task := models.NewScheduledTask(time.Now().Add(-time.Second), models.TaskData{User: "alice"})
	c.Enqueue(task)
	if c.PromoteDue(ctx, time.Now()) == nil {
		t.Fatalf("promotion failed")
	}

	c.mu.Lock()
	c.currentStarted = time.Now().Add(-time.Hour)
	c.mu.Unlock()
	c.CheckHeartbeats(ctx)
	if c.Status().Current == nil {
		t.Fatalf("schedules must survive the watchdog")
	}

	// StopSessionTask must not touch schedules either.
	c.StopSessionTask(ctx, "alice")
	if c.Status().Current == nil {
		t.Fatalf("schedules must survive session stops")
	}
}

func TestSeekBackgroundMusic(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if c.SeekBackgroundMusic(ctx, "alice", 42.5) {
		t.Fatalf("seek with nothing playing should report false")
	}

	if !c.RequestPlayback(ctx, backgroundTask("alice", "lounge.mp3")) {
		t.Fatalf("background start failed")
	}
	if !c.SeekBackgroundMusic(ctx, "alice", 42.5) {
		t.Fatalf("seek on a playing track failed")
	}

	_, offsets := engine.backgroundPlays()
	if len(offsets) != 2 || offsets[1] != 42.5 {
		t.Fatalf("offsets = %v, want second start at 42.5", offsets)
	}
}

func TestTextBroadcastAutoCompletes(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	speech := &fakeSpeech{}
	c, db := newTestController(t, engine, speech)
	ctx := context.Background()

	task := models.NewTask(models.TaskTypeText, models.TaskData{User: "alice", Content: "lunch is served"})
	if !c.RequestPlayback(ctx, task) {
		t.Fatalf("text start failed")
	}

	waitUntil(t, 2*time.Second, func() bool { return c.Status().Current == nil })

	if got := engine.announceCount(); got != 1 {
		t.Fatalf("announcement played %d times, want 1", got)
	}

	var doc models.SystemState
	if err := db.First(&doc, "key = ?", models.SystemStateKey).Error; err != nil {
		t.Fatalf("load state doc: %v", err)
	}
	if doc.Mode != models.ModeIdle || doc.ActiveTask != nil {
		t.Fatalf("state doc after completion: mode=%q task=%v", doc.Mode, doc.ActiveTask)
	}
}

func TestTextSynthesisFallsBackToSystemSpeech(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	speech := &fakeSpeech{fail: true}
	c, _ := newTestController(t, engine, speech)
	ctx := context.Background()

	task := models.NewTask(models.TaskTypeText, models.TaskData{User: "alice", Content: "lunch is served"})
	if !c.RequestPlayback(ctx, task) {
		t.Fatalf("text start failed")
	}

	waitUntil(t, 2*time.Second, func() bool { return c.Status().Current == nil })
	if got := speech.fallbackCount(); got != 1 {
		t.Fatalf("fallback speech used %d times, want 1", got)
	}
	if got := engine.announceCount(); got != 0 {
		t.Fatalf("announcement played %d times, want 0 after synthesis failure", got)
	}
}

func TestPromoteDueRespectsCurrentPriority(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if !c.RequestPlayback(ctx, voiceTask("alice")) {
		t.Fatalf("voice start failed")
	}

	task := models.NewScheduledTask(time.Now().Add(-time.Second), models.TaskData{User: "bob"})
	c.Enqueue(task)

	if got := c.PromoteDue(ctx, time.Now()); got != nil {
		t.Fatalf("schedule must not displace a live broadcast, promoted %s", got.ID)
	}
	if got := c.Status().QueueLength; got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}

	if got := c.PromoteDue(ctx, time.Now().Add(-time.Hour)); got != nil {
		t.Fatalf("future check promoted %s", got.ID)
	}
}

func TestQueueOrderAndRemoval(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &fakeEngine{}, &fakeSpeech{})

	later := models.NewScheduledTask(time.Now().Add(2*time.Hour), models.TaskData{User: "a", ScheduleID: "row-later"})
	sooner := models.NewScheduledTask(time.Now().Add(time.Hour), models.TaskData{User: "a", ScheduleID: "row-sooner"})
	c.Enqueue(later)
	c.Enqueue(sooner)

	queued := c.QueueSnapshot()
	if len(queued) != 2 || queued[0].ID != sooner.ID {
		t.Fatalf("queue should be time ordered, head=%v", queued[0].ID)
	}

	if !c.RemoveFromQueue("row-later") {
		t.Fatalf("removal by schedule id failed")
	}
	if c.RemoveFromQueue("row-later") {
		t.Fatalf("second removal should report false")
	}
	if got := c.Status().QueueLength; got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
}

func TestFeedVoiceChunkGate(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	if c.FeedVoiceChunk([]byte{1, 2}) {
		t.Fatalf("chunk must be dropped with nothing playing")
	}

	if !c.RequestPlayback(ctx, voiceTask("alice")) {
		t.Fatalf("voice start failed")
	}
	if !c.FeedVoiceChunk([]byte{3, 4}) {
		t.Fatalf("chunk should be forwarded during a voice broadcast")
	}
	if got := engine.chunkCount(); got != 1 {
		t.Fatalf("forwarded chunks = %d, want 1", got)
	}
}

func TestCompleteIgnoresStaleTaskID(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c, _ := newTestController(t, engine, &fakeSpeech{})
	ctx := context.Background()

	v := voiceTask("alice")
	if !c.RequestPlayback(ctx, v) {
		t.Fatalf("voice start failed")
	}

	c.Complete(ctx, "some-other-task")
	if c.Status().Current == nil {
		t.Fatalf("completion for a stale id must not stop the current task")
	}

	c.Complete(ctx, v.ID)
	if c.Status().Current != nil {
		t.Fatalf("completion for the current id should clear the slot")
	}
}
