package generator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	doc := `segment_duration: 4
default_action: "the chase continues"
actions:
  1: "she bursts through the door"
  3: "the car pulls away"
width: 1920
height: 1080
poll_timeout_seconds: 120
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SegmentDuration != 4 {
		t.Errorf("segment duration = %v, want 4", cfg.SegmentDuration)
	}
	if got := cfg.Action(1); got != "she bursts through the door" {
		t.Errorf("Action(1) = %q", got)
	}
	if got := cfg.Action(2); got != "the chase continues" {
		t.Errorf("Action(2) = %q, want default", got)
	}
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("resolution = %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.PollTimeout != 2*time.Minute {
		t.Errorf("poll timeout = %v, want 2m", cfg.PollTimeout)
	}
	// Unset fields fall back to defaults.
	if cfg.FrameCount != defaultFrameCount || cfg.FPS != defaultFPS {
		t.Errorf("frame count/fps = %d/%d, want defaults", cfg.FrameCount, cfg.FPS)
	}
}

func TestLoadConfigDefaultPollTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	if err := os.WriteFile(path, []byte("segment_duration: 4\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PollTimeout != defaultPollTimeout {
		t.Errorf("poll timeout = %v, want default %v", cfg.PollTimeout, defaultPollTimeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
