/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state maintains the single observable controller state document.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/hermod_pa/internal/events"
	"github.com/friendsincode/hermod_pa/internal/models"
	"github.com/friendsincode/hermod_pa/internal/telemetry"
)

// Mirror receives a copy of every published state document. The Redis
// cache implements this; publishing never blocks on it.
type Mirror interface {
	MirrorState(ctx context.Context, st *models.SystemState)
}

// Publisher writes the controller's state document on every transition.
// Last writer wins; there is exactly one row.
type Publisher struct {
	db     *gorm.DB
	bus    events.Broker
	mirror Mirror
	logger zerolog.Logger
}

// New builds a state publisher.
func New(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "state").Logger(),
	}
}

// SetMirror attaches an optional live mirror (Redis). May be nil.
func (p *Publisher) SetMirror(m Mirror) {
	p.mirror = m
}

// Publish upserts the state document and announces the transition on the
// bus. Store failures are logged, never raised: a broken disk must not
// stop a broadcast.
func (p *Publisher) Publish(ctx context.Context, active *models.Task, priority models.PriorityLevel, mode models.Mode) {
	st := &models.SystemState{
		Key:        models.SystemStateKey,
		ActiveTask: active,
		Priority:   priority,
		Mode:       mode,
		UpdatedAt:  time.Now(),
	}

	if err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(st).Error; err != nil {
		p.logger.Error().Err(err).Str("mode", string(mode)).Msg("state publish failed")
	}

	telemetry.ControllerPriority.Set(float64(priority))

	payload := events.Payload{
		"priority":  int(priority),
		"mode":      string(mode),
		"timestamp": st.UpdatedAt,
	}
	if active != nil {
		payload["task_id"] = active.ID
		payload["task_type"] = string(active.Type)
		payload["user"] = active.Data.User
	}
	p.bus.Publish(events.EventStateChanged, payload)

	if p.mirror != nil {
		p.mirror.MirrorState(ctx, st)
	}

	p.logger.Debug().Str("mode", string(mode)).Int("priority", int(priority)).Msg("state published")
}

// Current reads the last published state document. A missing row reads
// as idle, so a fresh appliance has a sensible status before the first
// transition.
func (p *Publisher) Current(ctx context.Context) (*models.SystemState, error) {
	var st models.SystemState
	err := p.db.WithContext(ctx).Where("key = ?", models.SystemStateKey).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SystemState{
			Key:       models.SystemStateKey,
			Priority:  models.PriorityIdle,
			Mode:      models.ModeIdle,
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state document: %w", err)
	}
	return &st, nil
}
