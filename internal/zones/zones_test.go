package zones

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleConfig = `{
	"Library":      {"card": 2, "channel": "left"},
	"Admin Office": {"card": 2, "channel": "right"},
	"Cafeteria":    3,
	"All Zones":    [2, 3]
}`

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	mapping, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse sample config: %v", err)
	}
	return NewResolver(mapping, Target{Device: 2}, zerolog.Nop())
}

func TestResolveStereoSplitSharesCard(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	left := r.Resolve([]string{"Library"})
	if len(left) != 1 || left[0] != (Target{Device: 2, Channel: ChannelLeft}) {
		t.Fatalf("library targets: got %v", left)
	}

	right := r.Resolve([]string{"Admin Office"})
	if len(right) != 1 || right[0] != (Target{Device: 2, Channel: ChannelRight}) {
		t.Fatalf("admin office targets: got %v", right)
	}

	both := r.Resolve([]string{"Library", "Admin Office"})
	if len(both) != 2 {
		t.Fatalf("expected two distinct targets on the shared card, got %v", both)
	}
}

func TestResolveCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	got := r.Resolve([]string{"library"})
	if len(got) != 1 || got[0].Device != 2 || got[0].Channel != ChannelLeft {
		t.Fatalf("lowercase lookup: got %v", got)
	}

	// "office" is a substring of "Admin Office".
	got = r.Resolve([]string{"OFFICE"})
	if len(got) != 1 || got[0].Channel != ChannelRight {
		t.Fatalf("substring lookup: got %v", got)
	}
}

func TestResolveAllZonesDeduplicates(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	got := r.Resolve([]string{AllZones})
	// Union: card2/left, card2/right, card3 stereo, card2 stereo, deduped.
	want := map[Target]bool{
		{Device: 2, Channel: ChannelLeft}:  true,
		{Device: 2, Channel: ChannelRight}: true,
		{Device: 3}:                        true,
		{Device: 2}:                        true,
	}
	if len(got) != len(want) {
		t.Fatalf("all zones: got %v want %d unique targets", got, len(want))
	}
	for _, target := range got {
		if !want[target] {
			t.Fatalf("unexpected target %v", target)
		}
	}

	empty := r.Resolve(nil)
	if len(empty) != len(want) {
		t.Fatalf("empty request should equal all zones, got %v", empty)
	}
}

func TestResolveUnknownZoneFallsBack(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	got := r.Resolve([]string{"Pool House"})
	if len(got) != 1 || got[0] != (Target{Device: 2}) {
		t.Fatalf("fallback target: got %v", got)
	}
}

func TestResolveUnknownMixedWithKnownSkipsUnknown(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t)

	got := r.Resolve([]string{"Pool House", "Cafeteria"})
	if len(got) != 1 || got[0].Device != 3 {
		t.Fatalf("expected only the cafeteria target, got %v", got)
	}
}

func TestLoadMissingFileDegradesToFallback(t *testing.T) {
	t.Parallel()

	r, err := Load(filepath.Join(t.TempDir(), "nope.json"), Target{Device: 2}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if got := r.Resolve([]string{"anything"}); len(got) != 1 || got[0].Device != 2 {
		t.Fatalf("degraded resolver should fall back, got %v", got)
	}
}

func TestLoadParsesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zones.json")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	r, err := Load(path, Target{Device: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if names := r.Names(); len(names) != 4 {
		t.Fatalf("zone names: got %v", names)
	}
}

func TestParseRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"Gym": {"card": 1, "channel": "middle"}}`)); err == nil {
		t.Fatal("expected parse error for unknown channel")
	}
}
