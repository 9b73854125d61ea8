/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// Assets manages the lifecycle of uploaded schedule audio: decode once on
// upload, store under a generated key, materialize to a temp file for
// playback. The controller consumes it through its fetcher interface.
type Assets struct {
	store   ObjectStore
	bus     events.Broker
	workDir string // "" means the OS temp dir
	logger  zerolog.Logger
}

// NewAssets wraps an object store with the asset lifecycle.
func NewAssets(store ObjectStore, bus events.Broker, workDir string, logger zerolog.Logger) *Assets {
	return &Assets{
		store:   store,
		bus:     bus,
		workDir: workDir,
		logger:  logger.With().Str("component", "assets").Logger(),
	}
}

// Store writes raw audio bytes under a fresh schedules/ key.
func (a *Assets) Store(ctx context.Context, data []byte) (string, error) {
	key := "schedules/" + strings.ReplaceAll(uuid.NewString(), "-", "") + ".wav"
	if err := a.store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("store asset: %w", err)
	}

	telemetry.AudioAssetsStoredTotal.WithLabelValues(a.store.Type()).Inc()
	a.bus.Publish(events.EventAudioStored, events.Payload{
		"key":     key,
		"bytes":   len(data),
		"backend": a.store.Type(),
	})
	a.logger.Info().Str("key", key).Int("bytes", len(data)).Msg("audio asset stored")
	return key, nil
}

// StoreEncoded decodes a base64 upload (optionally carrying a
// data:…;base64, prefix) and stores it. The base64 form is never kept.
func (a *Assets) StoreEncoded(ctx context.Context, encoded string) (string, error) {
	if idx := strings.Index(encoded, "base64,"); idx >= 0 {
		encoded = encoded[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", fmt.Errorf("decode asset payload: %w", err)
	}
	return a.Store(ctx, data)
}

// Fetch materializes a stored asset to a temp WAV and returns its path.
// The caller owns the file and removes it after playback.
func (a *Assets) Fetch(ctx context.Context, key string) (string, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("fetch asset %s: %w", key, err)
	}

	dir := a.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "asset_*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp: %w", err)
	}
	return f.Name(), nil
}

// Exists reports whether the key has a stored object.
func (a *Assets) Exists(ctx context.Context, key string) bool {
	return a.store.Exists(ctx, key)
}

// URL exposes the backend's fetchable URL for a key, if any.
func (a *Assets) URL(ctx context.Context, key string) (string, error) {
	return a.store.URL(ctx, key)
}

// Backend names the active store backend.
func (a *Assets) Backend() string {
	return a.store.Type()
}
