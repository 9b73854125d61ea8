/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio drives the external playback tools (SoX play, amixer)
// across the appliance's output cards. Every spawned player is tracked
// so Stop can tear the whole sound field down at once.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/telemetry"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// mixerControls are the common USB-card control names forced to 100%
// and unmuted before playback. Cards expose a subset; misses are fine.
var mixerControls = []string{"Speaker", "PCM", "Master", "Headphone", "Playback"}

// Engine is the playback surface the broadcast controller drives.
type Engine interface {
	// PlayAnnouncement plays the intro chime (if any) then the body file
	// on every resolved target. Blocks until all targets finish.
	PlayAnnouncement(ctx context.Context, introPath, bodyPath string, zoneNames []string) error
	// PlayWav is PlayAnnouncement for pre-rendered uploads.
	PlayWav(ctx context.Context, introPath, bodyPath string, zoneNames []string) error
	// PlayChimeSync plays the chime alone on every resolved target. Blocks.
	PlayChimeSync(ctx context.Context, chimePath string, zoneNames []string) error
	// PlayBackgroundMusic starts the track on every resolved target,
	// seeked to startTime seconds, and returns immediately.
	PlayBackgroundMusic(ctx context.Context, path string, zoneNames []string, startTime float64)

	// StartStreaming opens one raw-PCM player per resolved target.
	StartStreaming(ctx context.Context, zoneNames []string) error
	// FeedStream writes the chunk to every open pipe. Broken pipes are
	// dropped without noise.
	FeedStream(chunk []byte)
	// StopStreaming closes all stream pipes.
	StopStreaming()

	// PlaySiren starts the looping alarm sweep at the given volume.
	// Calling it while a siren is active is a no-op.
	PlaySiren(ctx context.Context, zoneNames []string, volume float64)
	SetSirenVolume(v float64)
	// RampSirenVolume moves the siren volume to target linearly over the
	// duration. Aborts early if the siren is stopped.
	RampSirenVolume(target float64, duration time.Duration)
	// StopSiren ends the sweep loop without touching other playback.
	StopSiren()

	// Stop terminates every tracked player, raises the siren stop
	// signal, and closes all stream pipes.
	Stop()
}

// Config carries the external-tool knobs for the engine.
type Config struct {
	PlayBin       string        // SoX player, normally "play"
	AmixerBin     string        // ALSA mixer tool, normally "amixer"
	WorkerStagger time.Duration // delay between per-card worker launches
	StopGrace     time.Duration // SIGTERM to SIGKILL window
}

// Player is the production Engine. On Windows it degrades to the system
// default device with no multi-zone fan-out or channel splitting; the
// calling contract is identical.
type Player struct {
	cfg      Config
	resolver *zones.Resolver
	logger   zerolog.Logger
	degraded bool // Windows single-device pipeline

	mu    sync.Mutex
	procs map[int]*trackedProc // pid keyed

	streamMu sync.Mutex
	pipes    []*streamPipe

	siren sirenState
}

type trackedProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// New builds a Player over the given zone resolver.
func New(cfg Config, resolver *zones.Resolver, logger zerolog.Logger) *Player {
	if cfg.PlayBin == "" {
		cfg.PlayBin = "play"
	}
	if cfg.AmixerBin == "" {
		cfg.AmixerBin = "amixer"
	}
	if cfg.WorkerStagger <= 0 {
		cfg.WorkerStagger = 50 * time.Millisecond
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	p := &Player{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.With().Str("component", "audio").Logger(),
		degraded: runtime.GOOS == "windows",
		procs:    make(map[int]*trackedProc),
	}
	if p.degraded {
		p.logger.Warn().Msg("windows pipeline active: single device, no zone fan-out")
	}
	return p
}

// PlayAnnouncement plays intro (optional) then body on all targets.
func (p *Player) PlayAnnouncement(ctx context.Context, introPath, bodyPath string, zoneNames []string) error {
	ctx, span := telemetry.StartSpan(ctx, "audio", "play_announcement")
	defer span.End()

	paths := make([]string, 0, 2)
	if introPath != "" {
		paths = append(paths, introPath)
	}
	if bodyPath != "" {
		paths = append(paths, bodyPath)
	}
	if len(paths) == 0 {
		return nil
	}
	return p.playAcross(ctx, paths, zoneNames, 0)
}

// PlayWav plays a pre-rendered upload; same sequencing as announcements.
func (p *Player) PlayWav(ctx context.Context, introPath, bodyPath string, zoneNames []string) error {
	return p.PlayAnnouncement(ctx, introPath, bodyPath, zoneNames)
}

// PlayChimeSync plays the chime on all targets in parallel and blocks.
func (p *Player) PlayChimeSync(ctx context.Context, chimePath string, zoneNames []string) error {
	if chimePath == "" {
		return nil
	}
	return p.playAcross(ctx, []string{chimePath}, zoneNames, 0)
}

// PlayBackgroundMusic fires the track off on all targets and returns.
func (p *Player) PlayBackgroundMusic(ctx context.Context, path string, zoneNames []string, startTime float64) {
	go func() {
		if err := p.playAcross(ctx, []string{path}, zoneNames, startTime); err != nil {
			p.logger.Debug().Err(err).Str("path", path).Msg("background playback ended with error")
		}
	}()
}

// playAcross fans the file sequence out to every resolved target with a
// stagger between worker launches, and waits for all of them.
func (p *Player) playAcross(ctx context.Context, paths []string, zoneNames []string, seek float64) error {
	targets := p.targets(zoneNames)
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for i, t := range targets {
		if i > 0 {
			time.Sleep(p.cfg.WorkerStagger)
		}
		wg.Add(1)
		go func(t zones.Target) {
			defer wg.Done()
			if err := p.playTarget(ctx, t, paths, seek); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return firstErr
}

// playTarget plays the sequence on one card, seeking only the first file.
func (p *Player) playTarget(ctx context.Context, t zones.Target, paths []string, seek float64) error {
	p.ensureDeviceActive(ctx, t.Device)
	for i, path := range paths {
		s := 0.0
		if i == 0 {
			s = seek
		}
		var err error
		if p.degraded {
			err = p.runTracked(ctx, nil, "powershell", winPlayArgs(path)...)
		} else {
			err = p.runTracked(ctx, deviceEnv(t.Device), p.cfg.PlayBin, playFileArgs(path, t.Channel, s)...)
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("path", path).Int("device", t.Device).Msg("playback failed")
			return err
		}
	}
	return nil
}

// targets resolves zone names, collapsing to the default device when degraded.
func (p *Player) targets(zoneNames []string) []zones.Target {
	if p.degraded {
		return []zones.Target{{Device: 0}}
	}
	return p.resolver.Resolve(zoneNames)
}

// runTracked runs one player process to completion, keeping it in the
// registry so Stop can reach it.
func (p *Player) runTracked(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	if err := cmd.Start(); err != nil {
		telemetry.PlaybackFailuresTotal.WithLabelValues("spawn").Inc()
		return fmt.Errorf("start %s: %w", name, err)
	}

	tp := &trackedProc{cmd: cmd, done: make(chan struct{})}
	p.track(tp)
	err := cmd.Wait()
	close(tp.done)
	p.untrack(tp)

	if err != nil {
		// Stop() kills players mid-note; a signal exit is routine here.
		if strings.Contains(err.Error(), "signal") || strings.Contains(err.Error(), "killed") {
			return nil
		}
		telemetry.PlaybackFailuresTotal.WithLabelValues("exit").Inc()
		return fmt.Errorf("%s exited: %w", name, err)
	}
	return nil
}

func (p *Player) track(tp *trackedProc) {
	p.mu.Lock()
	p.procs[tp.cmd.Process.Pid] = tp
	p.mu.Unlock()
	telemetry.PlaybackProcessesActive.Inc()
}

func (p *Player) untrack(tp *trackedProc) {
	p.mu.Lock()
	if _, ok := p.procs[tp.cmd.Process.Pid]; ok {
		delete(p.procs, tp.cmd.Process.Pid)
		telemetry.PlaybackProcessesActive.Dec()
	}
	p.mu.Unlock()
}

// Stop tears down all playback: siren signal, stream pipes, then every
// tracked process (SIGTERM, grace, SIGKILL), and finally a defensive
// sweep for stray players that escaped the registry.
func (p *Player) Stop() {
	p.StopSiren()
	p.StopStreaming()

	p.mu.Lock()
	procs := make([]*trackedProc, 0, len(p.procs))
	for _, tp := range p.procs {
		procs = append(procs, tp)
	}
	p.procs = make(map[int]*trackedProc)
	p.mu.Unlock()
	telemetry.PlaybackProcessesActive.Sub(float64(len(procs)))

	for _, tp := range procs {
		if tp.cmd.Process != nil {
			_ = tp.cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	deadline := time.Now().Add(p.cfg.StopGrace)
	for _, tp := range procs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-tp.done:
		case <-time.After(remaining):
			if tp.cmd.Process != nil {
				_ = tp.cmd.Process.Kill()
			}
			<-tp.done
		}
	}

	if !p.degraded {
		// Anything respawned outside the registry (SoX forks on some
		// effect chains) dies here. Exit 1 means nothing matched.
		_ = exec.Command("pkill", "-x", filepath.Base(p.cfg.PlayBin)).Run()
	}

	if len(procs) > 0 {
		p.logger.Info().Int("processes", len(procs)).Msg("playback stopped")
	}
}

// ensureDeviceActive forces the card's common mixer controls to 100% and
// unmuted. USB cards come up muted after replug; failures are ignored.
func (p *Player) ensureDeviceActive(ctx context.Context, device int) {
	if p.degraded {
		return
	}
	card := strconv.Itoa(device)
	for _, control := range mixerControls {
		_ = exec.CommandContext(ctx, p.cfg.AmixerBin, "-c", card, "set", control, "100%").Run()
		_ = exec.CommandContext(ctx, p.cfg.AmixerBin, "-c", card, "set", control, "unmute").Run()
	}
}

// deviceEnv selects an ALSA card for SoX via AUDIODEV.
func deviceEnv(device int) []string {
	return []string{fmt.Sprintf("AUDIODEV=plughw:%d,0", device)}
}

// playFileArgs builds the SoX invocation for one file: optional seek via
// trim, optional stereo split via remix.
func playFileArgs(path string, ch zones.Channel, seek float64) []string {
	args := []string{"-q", path}
	if seek > 0 {
		args = append(args, "trim", strconv.FormatFloat(seek, 'f', -1, 64))
	}
	return append(args, remixArgs(ch)...)
}

// remixArgs maps a channel restriction onto SoX remix flags.
func remixArgs(ch zones.Channel) []string {
	switch ch {
	case zones.ChannelLeft:
		return []string{"remix", "1", "0"}
	case zones.ChannelRight:
		return []string{"remix", "0", "1"}
	default:
		return nil
	}
}

// winPlayArgs plays a file on the system default device via PowerShell.
func winPlayArgs(path string) []string {
	safe := strings.ReplaceAll(path, "'", "''")
	return []string{"-c", fmt.Sprintf("(New-Object Media.SoundPlayer '%s').PlaySync()", safe)}
}
