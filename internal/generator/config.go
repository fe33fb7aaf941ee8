package generator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Render parameter defaults. Every segment in a scene renders with the
// same parameters so final concatenation can stream-copy.
const (
	defaultSegmentDuration = 5.0
	defaultFrameCount      = 120
	defaultWidth           = 1280
	defaultHeight          = 720
	defaultFPS             = 24
	defaultPollTimeout     = 10 * time.Minute
	defaultAction          = "the scene continues naturally"
)

// Config controls segmenting, render parameters, and per-segment action
// hints for one scene generation run.
type Config struct {
	// SegmentDuration is the fixed length of each rendered segment in
	// seconds. The segment count is derived from the scene's target
	// duration and this value.
	SegmentDuration float64 `yaml:"segment_duration"`

	// DefaultAction is used for segments with no entry in Actions.
	DefaultAction string `yaml:"default_action"`

	// Actions maps segment numbers (1-based) to action hints.
	Actions map[int]string `yaml:"actions"`

	// Render parameters, identical for every segment.
	FrameCount int   `yaml:"frame_count"`
	Width      int   `yaml:"width"`
	Height     int   `yaml:"height"`
	FPS        int   `yaml:"fps"`
	Seed       int64 `yaml:"seed"`

	// PollTimeoutSeconds bounds how long one segment waits on the
	// backend before being marked failed.
	PollTimeoutSeconds float64 `yaml:"poll_timeout_seconds"`

	// PollTimeout is the parsed form of PollTimeoutSeconds.
	PollTimeout time.Duration `yaml:"-"`

	// Workdir receives anchor frames and the final scene video.
	Workdir string `yaml:"workdir"`
}

// DefaultConfig returns the production render defaults.
func DefaultConfig() Config {
	return Config{
		SegmentDuration: defaultSegmentDuration,
		DefaultAction:   defaultAction,
		FrameCount:      defaultFrameCount,
		Width:           defaultWidth,
		Height:          defaultHeight,
		FPS:             defaultFPS,
		PollTimeout:     defaultPollTimeout,
	}
}

// LoadConfig reads a YAML scene configuration, filling unset fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading scene config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing scene config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = def.SegmentDuration
	}
	if c.DefaultAction == "" {
		c.DefaultAction = def.DefaultAction
	}
	if c.FrameCount <= 0 {
		c.FrameCount = def.FrameCount
	}
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	// PollTimeoutSeconds takes precedence: DefaultConfig pre-seeds
	// PollTimeout, so a value parsed from YAML must override it.
	if c.PollTimeoutSeconds > 0 {
		c.PollTimeout = time.Duration(c.PollTimeoutSeconds * float64(time.Second))
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
}

// Action returns the action hint for a segment number.
func (c *Config) Action(segmentNumber int) string {
	if action, ok := c.Actions[segmentNumber]; ok && action != "" {
		return action
	}
	return c.DefaultAction
}
