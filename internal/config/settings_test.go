package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSettingsJSON(t *testing.T) {
	data := []byte(`{
		"channels": ["alpha", "beta"],
		"check_intervals": {"initial": 20, "min": 10, "max": 90, "increment": 7},
		"text_cleanup": {
			"remove_phrases": ["Subscribe!"],
			"remove_patterns": ["#ad\\d+", "("]
		}
	}`)

	s, err := ParseSettings(data, ".json")
	if err != nil {
		t.Fatalf("ParseSettings() error = %v", err)
	}
	if len(s.Channels) != 2 || s.Channels[0] != "alpha" {
		t.Errorf("Channels = %v, want [alpha beta]", s.Channels)
	}
	want := Intervals{Initial: 20, Min: 10, Max: 90, Increment: 7}
	if s.CheckIntervals != want {
		t.Errorf("CheckIntervals = %+v, want %+v", s.CheckIntervals, want)
	}
	if len(s.TextCleanup.Patterns) != 1 {
		t.Errorf("compiled %d patterns, want 1 (invalid one dropped)", len(s.TextCleanup.Patterns))
	}
	if len(s.Analytics.Keywords) == 0 || len(s.Analytics.Locations) == 0 {
		t.Error("analytics defaults not applied")
	}
}

func TestParseSettingsYAML(t *testing.T) {
	data := []byte(`
channels:
  - gamma
check_intervals:
  max: 120
analytics:
  keywords: [drone]
  locations:
    - category: regions
      region: North
      cities: [Town]
`)

	s, err := ParseSettings(data, ".yaml")
	if err != nil {
		t.Fatalf("ParseSettings() error = %v", err)
	}
	if len(s.Channels) != 1 || s.Channels[0] != "gamma" {
		t.Errorf("Channels = %v, want [gamma]", s.Channels)
	}
	want := Intervals{Initial: DefaultInitialInterval, Min: DefaultMinInterval, Max: 120, Increment: DefaultIntervalStep}
	if s.CheckIntervals != want {
		t.Errorf("CheckIntervals = %+v, want %+v", s.CheckIntervals, want)
	}
	if len(s.Analytics.Keywords) != 1 || s.Analytics.Keywords[0] != "drone" {
		t.Errorf("Keywords = %v, want [drone]", s.Analytics.Keywords)
	}
	if len(s.Analytics.Locations) != 1 || s.Analytics.Locations[0].Region != "North" {
		t.Errorf("Locations = %+v", s.Analytics.Locations)
	}
}

func TestParseSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"broken json", `{"channels": [`, ".json"},
		{"broken yaml", "channels: [a\n  b: c", ".yml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSettings([]byte(tt.data), tt.ext); err == nil {
				t.Error("ParseSettings() error = nil, want error")
			}
		})
	}
}

func TestIntervalBoundsReset(t *testing.T) {
	s, err := ParseSettings([]byte(`{"check_intervals": {"min": 100, "max": 50}}`), ".json")
	if err != nil {
		t.Fatalf("ParseSettings() error = %v", err)
	}
	if s.CheckIntervals.Min != DefaultMinInterval || s.CheckIntervals.Max != DefaultMaxInterval {
		t.Errorf("bounds = %d..%d, want defaults %d..%d",
			s.CheckIntervals.Min, s.CheckIntervals.Max, DefaultMinInterval, DefaultMaxInterval)
	}
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		s := LoadSettings(filepath.Join(dir, "nope.json"))
		if s == nil {
			t.Fatal("LoadSettings() = nil")
		}
		if len(s.Channels) != 0 {
			t.Errorf("Channels = %v, want empty", s.Channels)
		}
		if s.CheckIntervals.Initial != DefaultInitialInterval {
			t.Errorf("Initial = %d, want %d", s.CheckIntervals.Initial, DefaultInitialInterval)
		}
	})

	t.Run("malformed file yields defaults", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if s := LoadSettings(path); len(s.Channels) != 0 {
			t.Errorf("Channels = %v, want empty", s.Channels)
		}
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		if err := os.WriteFile(path, []byte(`{"channels": ["one"]}`), 0o644); err != nil {
			t.Fatal(err)
		}
		if s := LoadSettings(path); len(s.Channels) != 1 {
			t.Errorf("Channels = %v, want [one]", s.Channels)
		}
	})
}
