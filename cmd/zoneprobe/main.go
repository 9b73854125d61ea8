/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/hermod_pa/internal/zones"
)

var (
	configPath     string
	probeZones     []string
	emitTone       bool
	playBin        string
	fallbackDevice int
)

var rootCmd = &cobra.Command{
	Use:   "zoneprobe",
	Short: "Inspect the zone configuration and test audio routing",
	Long: `zoneprobe loads a zone configuration file, prints the zone-to-target
resolution table, and flags targets claimed by more than one zone. With
--tone it plays a short sine tone on each resolved target so an installer
can walk the site and confirm wiring.

Examples:
  zoneprobe --config zone_config.json
  zoneprobe --config zone_config.json --zone cafeteria --zone gym
  zoneprobe --config zone_config.json --tone`,
	RunE: runProbe,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./zone_config.json", "Zone configuration file")
	rootCmd.Flags().StringArrayVar(&probeZones, "zone", nil, "Resolve only this zone name (repeatable)")
	rootCmd.Flags().BoolVar(&emitTone, "tone", false, "Play a test tone on each resolved target")
	rootCmd.Flags().StringVar(&playBin, "play-bin", "play", "SoX play binary for test tones")
	rootCmd.Flags().IntVar(&fallbackDevice, "fallback-device", 2, "Card used when a zone resolves to nothing")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	fallback := zones.Target{Device: fallbackDevice}
	resolver, err := zones.Load(configPath, fallback, logger)
	if err != nil {
		return fmt.Errorf("load zone config: %w", err)
	}

	names := resolver.Names()
	if len(names) == 0 {
		fmt.Printf("No zones configured in %s; everything resolves to the fallback (%s).\n", configPath, fallback)
		return nil
	}

	fmt.Printf("Zone configuration: %s (%d zones)\n\n", configPath, len(names))

	var probed []zones.Target
	if len(probeZones) > 0 {
		probed = printRequested(resolver)
	} else {
		probed = printTable(resolver, names)
	}

	if len(probeZones) == 0 {
		warnDuplicates(resolver, names)
	}

	if emitTone {
		return playTones(probed)
	}
	return nil
}

// printTable prints every configured zone with its targets and returns the
// deduplicated target list in table order.
func printTable(resolver *zones.Resolver, names []string) []zones.Target {
	fmt.Printf("%-28s TARGETS\n", "ZONE")

	seen := make(map[zones.Target]bool)
	var out []zones.Target
	for _, name := range names {
		targets := resolver.Resolve([]string{name})
		fmt.Printf("%-28s %s\n", name, joinTargets(targets))
		for _, t := range targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	fmt.Println()
	return out
}

// printRequested resolves the --zone arguments exactly the way the
// appliance would at broadcast time.
func printRequested(resolver *zones.Resolver) []zones.Target {
	seen := make(map[zones.Target]bool)
	var out []zones.Target
	for _, name := range probeZones {
		targets := resolver.Resolve([]string{name})
		fmt.Printf("%-28s %s\n", name, joinTargets(targets))
		for _, t := range targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	fmt.Println()
	return out
}

// warnDuplicates flags wiring mistakes: the same (card, channel) pair
// claimed by two zones plays every announcement twice, and a stereo zone
// sharing a card with a split zone bleeds into it.
func warnDuplicates(resolver *zones.Resolver, names []string) {
	claims := make(map[zones.Target][]string)
	stereoCards := make(map[int][]string)
	splitCards := make(map[int][]string)

	for _, name := range names {
		for _, t := range resolver.Resolve([]string{name}) {
			claims[t] = append(claims[t], name)
			if t.Channel == zones.ChannelStereo {
				stereoCards[t.Device] = append(stereoCards[t.Device], name)
			} else {
				splitCards[t.Device] = append(splitCards[t.Device], name)
			}
		}
	}

	warned := false
	for target, owners := range claims {
		if len(owners) > 1 {
			fmt.Printf("warning: %s claimed by %s\n", target, strings.Join(owners, ", "))
			warned = true
		}
	}
	for card, stereoOwners := range stereoCards {
		if splitOwners, ok := splitCards[card]; ok {
			fmt.Printf("warning: card %d used stereo by %s and split by %s\n",
				card, strings.Join(stereoOwners, ", "), strings.Join(splitOwners, ", "))
			warned = true
		}
	}
	if warned {
		fmt.Println()
	}
}

func joinTargets(targets []zones.Target) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// playTones emits a two-second 440 Hz tone per target, one at a time, so
// the installer can hear which speaker answers.
func playTones(targets []zones.Target) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, t := range targets {
		fmt.Printf("Tone on %s...\n", t)

		args := []string{"-q", "-n", "synth", "2", "sine", "440", "vol", "0.3"}
		switch t.Channel {
		case zones.ChannelLeft:
			args = append(args, "remix", "1", "0")
		case zones.ChannelRight:
			args = append(args, "remix", "0", "1")
		}

		tone := exec.CommandContext(ctx, playBin, args...)
		tone.Env = append(os.Environ(), fmt.Sprintf("AUDIODEV=plughw:%d,0", t.Device))
		if err := tone.Run(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "  tone failed: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil
}
