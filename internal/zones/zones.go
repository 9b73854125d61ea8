/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package zones maps logical zone names onto ALSA output targets.
package zones

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// AllZones is the sentinel zone name selecting every configured target.
const AllZones = "All Zones"

// Channel selects one side of a stereo-split card. Empty means full stereo.
type Channel string

const (
	ChannelStereo Channel = ""
	ChannelLeft   Channel = "left"
	ChannelRight  Channel = "right"
)

// Target is a concrete audio output: a sound card and an optional channel.
// Two zones may share a card and differ only in channel.
type Target struct {
	Device  int     `json:"device"`
	Channel Channel `json:"channel,omitempty"`
}

func (t Target) String() string {
	if t.Channel == ChannelStereo {
		return fmt.Sprintf("card %d", t.Device)
	}
	return fmt.Sprintf("card %d (%s)", t.Device, t.Channel)
}

// Resolver resolves zone names against the static zone configuration.
type Resolver struct {
	logger   zerolog.Logger
	fallback Target
	mapping  map[string][]Target
	keys     []string // sorted for deterministic discovery order
}

// NewResolver builds a resolver from an in-memory mapping.
func NewResolver(mapping map[string][]Target, fallback Target, logger zerolog.Logger) *Resolver {
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &Resolver{
		logger:   logger.With().Str("component", "zones").Logger(),
		fallback: fallback,
		mapping:  mapping,
		keys:     keys,
	}
}

// Load reads the zone configuration file. On a read or parse failure it
// returns a resolver with an empty mapping together with the error, so the
// caller can log and continue degraded: every request then resolves to the
// fallback target.
func Load(path string, fallback Target, logger zerolog.Logger) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewResolver(nil, fallback, logger), fmt.Errorf("read zone config: %w", err)
	}

	mapping, err := Parse(data)
	if err != nil {
		return NewResolver(nil, fallback, logger), fmt.Errorf("parse zone config %s: %w", path, err)
	}

	return NewResolver(mapping, fallback, logger), nil
}

// Parse decodes the zone configuration document. Each value is a target or a
// list of targets; a target is a bare card number or {"card": n, "channel":
// "left"|"right"|null}.
func Parse(data []byte) (map[string][]Target, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	mapping := make(map[string][]Target, len(raw))
	for name, value := range raw {
		targets, err := parseTargets(value)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", name, err)
		}
		mapping[name] = targets
	}
	return mapping, nil
}

func parseTargets(value json.RawMessage) ([]Target, error) {
	trimmed := strings.TrimSpace(string(value))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, err
		}
		targets := make([]Target, 0, len(items))
		for _, item := range items {
			t, err := parseTarget(item)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		return targets, nil
	}

	t, err := parseTarget(value)
	if err != nil {
		return nil, err
	}
	return []Target{t}, nil
}

func parseTarget(value json.RawMessage) (Target, error) {
	// Bare integer: whole card, both channels.
	var device int
	if err := json.Unmarshal(value, &device); err == nil {
		return Target{Device: device}, nil
	}

	var obj struct {
		Card    int     `json:"card"`
		Channel *string `json:"channel"`
	}
	if err := json.Unmarshal(value, &obj); err != nil {
		return Target{}, fmt.Errorf("target must be a card number or {card, channel}: %w", err)
	}

	t := Target{Device: obj.Card}
	if obj.Channel != nil {
		switch Channel(strings.ToLower(*obj.Channel)) {
		case ChannelLeft:
			t.Channel = ChannelLeft
		case ChannelRight:
			t.Channel = ChannelRight
		case ChannelStereo:
			t.Channel = ChannelStereo
		default:
			return Target{}, fmt.Errorf("unknown channel %q", *obj.Channel)
		}
	}
	return t, nil
}

// Resolve maps the requested zone names to output targets.
//
// An empty request or one naming the All Zones sentinel selects the union of
// every configured target. Otherwise each name is matched case-insensitively
// as a substring of configuration keys; unmatched names are logged and
// skipped. An empty result degrades to the single fallback target.
func (r *Resolver) Resolve(requested []string) []Target {
	if len(requested) == 0 {
		return r.allTargets()
	}
	for _, name := range requested {
		if strings.EqualFold(strings.TrimSpace(name), AllZones) {
			return r.allTargets()
		}
	}

	seen := make(map[Target]bool)
	var out []Target
	for _, name := range requested {
		needle := strings.ToLower(strings.TrimSpace(name))
		if needle == "" {
			continue
		}

		matched := false
		for _, key := range r.keys {
			if !strings.Contains(strings.ToLower(key), needle) {
				continue
			}
			matched = true
			for _, t := range r.mapping[key] {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
		if !matched {
			r.logger.Warn().Str("zone", name).Msg("unknown zone, skipping")
		}
	}

	if len(out) == 0 {
		r.logger.Warn().
			Strs("zones", requested).
			Int("fallback_device", r.fallback.Device).
			Msg("no zones resolved, using fallback target")
		return []Target{r.fallback}
	}
	return out
}

func (r *Resolver) allTargets() []Target {
	seen := make(map[Target]bool)
	var out []Target
	for _, key := range r.keys {
		for _, t := range r.mapping[key] {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if len(out) == 0 {
		return []Target{r.fallback}
	}
	return out
}

// Names returns the configured zone names in sorted order.
func (r *Resolver) Names() []string {
	return append([]string(nil), r.keys...)
}

// Table returns a copy of the full zone mapping.
func (r *Resolver) Table() map[string][]Target {
	out := make(map[string][]Target, len(r.mapping))
	for name, targets := range r.mapping {
		out[name] = append([]Target(nil), targets...)
	}
	return out
}
