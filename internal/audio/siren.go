/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/friendsincode/hermod_pa/internal/zones"
)

const sirenRampSteps = 20

type sirenState struct {
	mu     sync.Mutex
	active bool
	volume float64
	stop   chan struct{}
}

// PlaySiren starts the alarm loop: repeated 1-second sine sweeps from
// 600 to 1200 Hz on every resolved target. No-op while already active.
func (p *Player) PlaySiren(ctx context.Context, zoneNames []string, volume float64) {
	p.siren.mu.Lock()
	if p.siren.active {
		p.siren.mu.Unlock()
		return
	}
	p.siren.active = true
	p.siren.volume = clampVolume(volume)
	p.siren.stop = make(chan struct{})
	stop := p.siren.stop
	p.siren.mu.Unlock()

	targets := p.targets(zoneNames)
	p.logger.Info().Float64("volume", p.SirenVolume()).Int("targets", len(targets)).Msg("siren started")
	go p.sirenLoop(ctx, targets, stop)
}

// sirenLoop renders one sweep per iteration, re-reading the volume each
// time so ramps take effect between sweeps. The stop channel is checked
// between iterations only; a sweep already sounding finishes its second.
func (p *Player) sirenLoop(ctx context.Context, targets []zones.Target, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		vol := p.SirenVolume()
		var wg sync.WaitGroup
		for i, t := range targets {
			if i > 0 {
				time.Sleep(p.cfg.WorkerStagger)
			}
			wg.Add(1)
			go func(t zones.Target) {
				defer wg.Done()
				if p.degraded {
					_ = p.runTracked(ctx, nil, "powershell", winSirenArgs()...)
					return
				}
				_ = p.runTracked(ctx, deviceEnv(t.Device), p.cfg.PlayBin, sirenArgs(t.Channel, vol)...)
			}(t)
		}
		wg.Wait()
	}
}

// SetSirenVolume clamps v into [0, 1] and applies it from the next sweep.
func (p *Player) SetSirenVolume(v float64) {
	p.siren.mu.Lock()
	p.siren.volume = clampVolume(v)
	p.siren.mu.Unlock()
}

// SirenVolume reports the current siren volume.
func (p *Player) SirenVolume() float64 {
	p.siren.mu.Lock()
	defer p.siren.mu.Unlock()
	return p.siren.volume
}

// RampSirenVolume interpolates the volume to target over the duration in
// twenty steps, aborting as soon as the siren is stopped.
func (p *Player) RampSirenVolume(target float64, duration time.Duration) {
	p.siren.mu.Lock()
	if !p.siren.active {
		p.siren.mu.Unlock()
		return
	}
	start := p.siren.volume
	stop := p.siren.stop
	p.siren.mu.Unlock()

	target = clampVolume(target)
	interval := duration / sirenRampSteps
	for i := 1; i <= sirenRampSteps; i++ {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
		p.SetSirenVolume(rampStep(start, target, i))
	}
}

// StopSiren raises the stop signal. Safe to call when no siren is active.
func (p *Player) StopSiren() {
	p.siren.mu.Lock()
	if p.siren.active {
		close(p.siren.stop)
		p.siren.active = false
		p.logger.Info().Msg("siren stopped")
	}
	p.siren.mu.Unlock()
}

// rampStep returns the volume after step i of sirenRampSteps.
func rampStep(start, target float64, i int) float64 {
	return start + (target-start)*float64(i)/sirenRampSteps
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sirenArgs renders one 1-second sweep at the given volume.
func sirenArgs(ch zones.Channel, vol float64) []string {
	args := []string{"-q", "-n", "synth", "1", "sine", "600-1200", "vol", strconv.FormatFloat(vol, 'f', 2, 64)}
	return append(args, remixArgs(ch)...)
}

// winSirenArgs approximates one sweep with console beeps.
func winSirenArgs() []string {
	return []string{"-c", "[console]::beep(600,500); [console]::beep(1200,500)"}
}
