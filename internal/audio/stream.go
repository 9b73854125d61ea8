/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/friendsincode/hermod_pa/internal/telemetry"
	"github.com/friendsincode/hermod_pa/internal/zones"
)

// streamPipe is one long-lived raw-PCM player attached to a card.
type streamPipe struct {
	device int
	stdin  io.WriteCloser
	cmd    *exec.Cmd
}

func (sp *streamPipe) close() {
	_ = sp.stdin.Close()
	if sp.cmd != nil && sp.cmd.Process != nil {
		_ = sp.cmd.Process.Signal(os.Interrupt)
	}
}

// StartStreaming opens one player per resolved target, each reading raw
// 16 kHz signed-16-bit mono PCM from stdin. An existing stream is torn
// down first. Returns an error only when no pipe could be opened.
func (p *Player) StartStreaming(ctx context.Context, zoneNames []string) error {
	p.StopStreaming()

	if p.degraded {
		p.logger.Warn().Msg("raw PCM streaming unsupported on this platform; chunks will be dropped")
		return nil
	}

	_, span := telemetry.StartSpan(ctx, "audio", "start_streaming")
	defer span.End()

	targets := p.targets(zoneNames)
	opened := make([]*streamPipe, 0, len(targets))
	for i, t := range targets {
		if i > 0 {
			time.Sleep(p.cfg.WorkerStagger)
		}
		p.ensureDeviceActive(ctx, t.Device)

		cmd := exec.CommandContext(ctx, p.cfg.PlayBin, streamArgs(t.Channel)...)
		cmd.Env = append(os.Environ(), deviceEnv(t.Device)...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.logger.Warn().Err(err).Int("device", t.Device).Msg("stream pipe failed")
			continue
		}
		if err := cmd.Start(); err != nil {
			telemetry.PlaybackFailuresTotal.WithLabelValues("spawn").Inc()
			p.logger.Warn().Err(err).Int("device", t.Device).Msg("stream player failed to start")
			continue
		}

		tp := &trackedProc{cmd: cmd, done: make(chan struct{})}
		p.track(tp)
		go func() {
			_ = cmd.Wait()
			close(tp.done)
			p.untrack(tp)
		}()

		opened = append(opened, &streamPipe{device: t.Device, stdin: stdin, cmd: cmd})
		p.logger.Debug().Int("device", t.Device).Msg("stream pipe open")
	}

	p.streamMu.Lock()
	p.pipes = opened
	p.streamMu.Unlock()
	telemetry.StreamPipesActive.Set(float64(len(opened)))

	if len(opened) == 0 {
		return fmt.Errorf("no stream pipes opened for %d targets", len(targets))
	}
	return nil
}

// FeedStream writes the identical chunk to every open pipe. A pipe whose
// player died is culled without logging; live listeners keep receiving.
func (p *Player) FeedStream(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.streamMu.Lock()
	defer p.streamMu.Unlock()

	keep := p.pipes[:0]
	for _, sp := range p.pipes {
		if _, err := sp.stdin.Write(chunk); err != nil {
			sp.close()
			continue
		}
		keep = append(keep, sp)
	}
	if len(keep) != len(p.pipes) {
		telemetry.StreamPipesActive.Set(float64(len(keep)))
	}
	p.pipes = keep
}

// StopStreaming closes every pipe; players exit on stdin EOF.
func (p *Player) StopStreaming() {
	p.streamMu.Lock()
	pipes := p.pipes
	p.pipes = nil
	p.streamMu.Unlock()

	for _, sp := range pipes {
		sp.close()
	}
	if len(pipes) > 0 {
		telemetry.StreamPipesActive.Set(0)
		p.logger.Debug().Int("pipes", len(pipes)).Msg("streaming stopped")
	}
}

// streamArgs builds the SoX invocation reading raw PCM from stdin:
// 16 kHz, signed 16-bit, mono.
func streamArgs(ch zones.Channel) []string {
	args := []string{"-q", "-t", "raw", "-r", "16000", "-e", "signed", "-b", "16", "-c", "1", "-"}
	return append(args, remixArgs(ch)...)
}
