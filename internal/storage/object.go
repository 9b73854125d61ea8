/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage holds uploaded audio assets. Schedule rows reference
// assets by key; the filesystem store is the appliance default and an
// S3-compatible bucket takes over when configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/config"
)

// ErrNotFound reports a key with no stored object behind it.
var ErrNotFound = errors.New("object not found")

// ObjectStore abstracts object storage operations.
type ObjectStore interface {
	// Put stores an object. Keys look like schedules/<id>.wav.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object in full. Missing keys return ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks for a stored object without reading it.
	Exists(ctx context.Context, key string) bool

	// URL returns a fetchable URL for the object, or "" for backends
	// without one.
	URL(ctx context.Context, key string) (string, error)

	// Type returns "fs" or "s3".
	Type() string
}

// New selects the backend from config: a bucket name turns on S3, and
// the startup bucket check fails fast on bad credentials. Everything
// else lands on the filesystem under the media root.
func New(cfg *config.Config, logger zerolog.Logger) (ObjectStore, error) {
	if cfg.S3Bucket == "" {
		dir := filepath.Join(cfg.MediaRoot, "assets")
		logger.Info().Str("dir", dir).Msg("filesystem asset store initialized")
		return NewFSStore(dir), nil
	}

	store, err := NewS3Store(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("s3 init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("s3 startup check (bucket=%q endpoint=%q): %w",
			cfg.S3Bucket, cfg.S3Endpoint, err)
	}
	logger.Info().Str("bucket", cfg.S3Bucket).Str("endpoint", cfg.S3Endpoint).Msg("S3 asset store verified")
	return store, nil
}

// contentTypeFor maps an asset key to its MIME type. Uploads are WAV
// unless the key says otherwise.
func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	default:
		return "audio/wav"
	}
}
