package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout()
	if err := l.Validate(); err != nil {
		t.Fatalf("Default layout should validate: %v", err)
	}
	if l.ObjectPoolHeader != 0x000B9370 || l.PlayerPoolHeader != 0x00213C50 ||
		l.TagHeader != 0x003A6000 || l.TagArrayHeader != 0x003A6024 || l.PlayerGlobals != 0x00214E00 {
		t.Errorf("Unexpected default addresses: %+v", l)
	}
	if l.MaxObjects != 2048 || l.MaxPlayers != 16 || l.MaxLocalPlayers != 4 {
		t.Errorf("Unexpected default capacities: %d/%d/%d", l.MaxObjects, l.MaxPlayers, l.MaxLocalPlayers)
	}
	if l.PoolSignature != 1681945664 || l.ObjectHeadGuard != 1751474532 ||
		l.ObjectTailGuard != 1952541036 || l.TagFooter != 1935896178 {
		t.Error("Magic values do not match the engine's")
	}
	if playerGlobalsSize(l.MaxLocalPlayers) != 176 {
		t.Errorf("Expected globals size 176, got %d", playerGlobalsSize(l.MaxLocalPlayers))
	}
}

func TestParseLayoutOverridesDefaults(t *testing.T) {
	data := []byte(`
name: debug-build
object_pool_header: 0x000C0000
max_objects: 1024
`)
	l, err := ParseLayout(data)
	if err != nil {
		t.Fatalf("Failed to parse layout: %v", err)
	}
	if l.Name != "debug-build" {
		t.Errorf("Expected name debug-build, got %s", l.Name)
	}
	if l.ObjectPoolHeader != 0x000C0000 {
		t.Errorf("Expected object pool header 0x000C0000, got 0x%08X", l.ObjectPoolHeader)
	}
	if l.MaxObjects != 1024 {
		t.Errorf("Expected 1024 objects, got %d", l.MaxObjects)
	}
	if l.PlayerPoolHeader != DefaultLayout().PlayerPoolHeader {
		t.Error("Unset fields should keep their default values")
	}
}

func TestParseLayoutRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"zero objects", "max_objects: 0"},
		{"too many objects", "max_objects: 70000"},
		{"header outside capture", "capture_size: 0x1000"},
		{"position outside body", "position_offset: 0x28"},
		{"no local players", "max_local_players: 0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLayout([]byte(tc.data))
			if !errors.Is(err, ErrInvalidLayout) {
				t.Errorf("Expected ErrInvalidLayout, got %v", err)
			}
		})
	}

	if _, err := ParseLayout([]byte("max_objects: [")); err == nil {
		t.Error("Expected a parse error for malformed YAML")
	}
}

func TestLayoutYAMLRoundTrip(t *testing.T) {
	want := DefaultLayout()
	want.Name = "round-trip"
	want.PlayerGlobals = 0x00215000

	data, err := yaml.Marshal(want)
	if err != nil {
		t.Fatalf("Failed to marshal layout: %v", err)
	}

	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write layout: %v", err)
	}

	got, err := LoadLayout(path)
	if err != nil {
		t.Fatalf("Failed to load layout: %v\n%s", err, data)
	}
	if got != want {
		t.Errorf("Layout changed across YAML:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestLoadLayoutMissingFile(t *testing.T) {
	if _, err := LoadLayout(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
