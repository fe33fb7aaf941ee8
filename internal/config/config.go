// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Render backend selectors.
const (
	BackendHTTP = "http"
	BackendVeo  = "veo"
)

// Config holds the process-level settings shared across commands.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// RenderBackend selects the render adapter: "http" or "veo".
	RenderBackend string

	// RenderEndpoint is the base URL of the HTTP render service.
	RenderEndpoint string

	// GeminiAPIKey authenticates against the Gemini API for Veo.
	GeminiAPIKey string

	// VeoModel is the Veo model name used for generation.
	VeoModel string

	// Workdir receives anchor frames and rendered videos.
	Workdir string
}

// Load reads configuration from environment variables. Render-backend
// requirements are checked separately by ValidateRender, since commands
// that never render (schema setup, analysis) do not need them.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RenderBackend:  os.Getenv("RENDER_BACKEND"),
		RenderEndpoint: os.Getenv("RENDER_ENDPOINT"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		VeoModel:       os.Getenv("VEO_MODEL"),
		Workdir:        os.Getenv("SCENEWEAVER_WORKDIR"),
	}
	if cfg.RenderBackend == "" {
		cfg.RenderBackend = BackendHTTP
	}
	if cfg.VeoModel == "" {
		cfg.VeoModel = "veo-3.0-generate-001"
	}
	if cfg.Workdir == "" {
		cfg.Workdir = os.TempDir()
	}

	return cfg, nil
}

// ValidateRender checks that the selected render backend is usable.
func (c *Config) ValidateRender() error {
	switch c.RenderBackend {
	case BackendHTTP:
		if c.RenderEndpoint == "" {
			return fmt.Errorf("RENDER_ENDPOINT is required for the http render backend")
		}
	case BackendVeo:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the veo render backend")
		}
	default:
		return fmt.Errorf("unknown RENDER_BACKEND %q (want %q or %q)", c.RenderBackend, BackendHTTP, BackendVeo)
	}
	return nil
}
