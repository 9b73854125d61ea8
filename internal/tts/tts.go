/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tts renders announcement text to WAV files with the piper binary.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// ErrUnavailable indicates the synthesis pipeline cannot produce audio.
var ErrUnavailable = errors.New("tts unavailable")

// DefaultVoice is used when a request names no voice.
const DefaultVoice = "female"

// Synthesizer renders text to WAV files via piper, with espeak as the
// last-resort audible fallback.
type Synthesizer struct {
	logger    zerolog.Logger
	piperBin  string
	espeakBin string
	workDir   string
	voices    map[string]string // voice key -> onnx model path
}

// Config carries the synthesizer's external tool locations.
type Config struct {
	PiperBin  string
	VoicesDir string
	EspeakBin string
	WorkDir   string // "" means the OS temp dir
}

// New scans VoicesDir for *.onnx models and builds the voice table.
// Missing binaries or an empty voice dir are not fatal; Synthesize reports
// ErrUnavailable at call time instead.
func New(cfg Config, logger zerolog.Logger) *Synthesizer {
	s := &Synthesizer{
		logger:    logger.With().Str("component", "tts").Logger(),
		piperBin:  cfg.PiperBin,
		espeakBin: cfg.EspeakBin,
		workDir:   cfg.WorkDir,
		voices:    scanVoices(cfg.VoicesDir),
	}
	if s.workDir == "" {
		s.workDir = os.TempDir()
	}

	if len(s.voices) == 0 {
		s.logger.Warn().Str("voices_dir", cfg.VoicesDir).Msg("no piper voices found, synthesis degraded to espeak")
	} else {
		s.logger.Info().Int("voices", len(s.voices)).Msg("piper voices loaded")
	}
	return s
}

// scanVoices maps every *.onnx stem under dir to its path and assigns the
// female/male aliases by preference order.
func scanVoices(dir string) map[string]string {
	voices := make(map[string]string)
	if dir == "" {
		return voices
	}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".onnx") {
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), ".onnx")
		voices[stem] = path
		return nil
	})

	if path, ok := voices["en_US-amy-medium"]; ok {
		voices["female"] = path
	} else if path, ok := voices["en_US-lessac-medium"]; ok {
		voices["female"] = path
	}
	if path, ok := voices["en_US-ryan-medium"]; ok {
		voices["male"] = path
	}
	return voices
}

// Voices returns the known voice keys, aliases included.
func (s *Synthesizer) Voices() []string {
	keys := make([]string, 0, len(s.voices))
	for k := range s.voices {
		keys = append(keys, k)
	}
	return keys
}

// HasVoice reports whether key resolves to a model.
func (s *Synthesizer) HasVoice(key string) bool {
	_, ok := s.voices[key]
	return ok
}

// Synthesize renders text to a fresh WAV file and returns its path.
// An unknown voice key falls back to the default voice before failing.
// Every call produces a distinct file; cleanup is the host's concern.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceKey string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrUnavailable)
	}
	if voiceKey == "" {
		voiceKey = DefaultVoice
	}

	modelPath, ok := s.voices[voiceKey]
	if !ok {
		s.logger.Warn().Str("voice", voiceKey).Msg("unknown voice, trying default")
		modelPath, ok = s.voices[DefaultVoice]
	}
	if !ok {
		telemetry.TTSSynthesisErrorsTotal.WithLabelValues("piper").Inc()
		return "", fmt.Errorf("%w: no model for voice %q", ErrUnavailable, voiceKey)
	}

	outPath := filepath.Join(s.workDir, fmt.Sprintf("tts_%s.wav", strings.ReplaceAll(uuid.New().String(), "-", "")))

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.piperBin, "--model", modelPath, "--output_file", outPath)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		telemetry.TTSSynthesisErrorsTotal.WithLabelValues("piper").Inc()
		s.logger.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("piper failed")
		return "", fmt.Errorf("%w: piper: %v", ErrUnavailable, err)
	}
	if _, err := os.Stat(outPath); err != nil {
		telemetry.TTSSynthesisErrorsTotal.WithLabelValues("piper").Inc()
		return "", fmt.Errorf("%w: piper produced no output", ErrUnavailable)
	}

	telemetry.TTSSynthesisDuration.WithLabelValues("piper").Observe(time.Since(start).Seconds())
	s.logger.Debug().Str("voice", voiceKey).Str("path", outPath).Msg("synthesis complete")
	return outPath, nil
}

// SpeakFallback voices text through espeak directly to the default audio
// device. Used when piper cannot produce a file for a non-emergency task.
func (s *Synthesizer) SpeakFallback(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.espeakBin, text)
	if err := cmd.Run(); err != nil {
		telemetry.TTSSynthesisErrorsTotal.WithLabelValues("espeak").Inc()
		return fmt.Errorf("%w: espeak: %v", ErrUnavailable, err)
	}
	telemetry.TTSSynthesisDuration.WithLabelValues("espeak").Observe(time.Since(start).Seconds())
	return nil
}
