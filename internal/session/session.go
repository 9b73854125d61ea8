/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session issues and verifies broadcast session tokens. A token
// binds a live broadcast to the user who started it, so disconnect
// beacons can prove ownership without another auth round-trip.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL covers a full operating day; kiosk consoles stay open.
const DefaultTTL = 24 * time.Hour

// Claims binds a session token to a user and the task it started.
type Claims struct {
	User   string `json:"user"`
	TaskID string `json:"task_id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a token manager. A non-positive ttl gets DefaultTTL.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token for the user's broadcast.
func (m *Manager) Issue(user, taskID string) (string, error) {
	claims := Claims{
		User:   user,
		TaskID: taskID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify validates a token string and returns its claims.
func (m *Manager) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Owner resolves the user a presented token speaks for. Signed tokens
// carry the user themselves; anything else is honored as an opaque token
// when it matches the one stored on the active task.
func (m *Manager) Owner(presented, stored, storedUser string) (string, bool) {
	if presented == "" {
		return "", false
	}
	if claims, err := m.Verify(presented); err == nil {
		return claims.User, true
	}
	if stored != "" && presented == stored {
		return storedUser, true
	}
	return "", false
}
