// Package config loads and validates runtime configuration for the choir
// conductor: database connection settings, the worker signal ingestion
// policy, and sandbox/tool settings. Values come from the process
// environment (optionally seeded from a .env file) with a thin YAML
// overlay for settings that are awkward to express as env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	HTTPPort     string
	GinMode      string
	RunsDir      string
	Database     DatabaseConfig
	SignalPolicy SignalPolicyConfig
	Sandbox      SandboxConfig
}

// DatabaseConfig holds PostgreSQL connection settings for the event log.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// SignalPolicyConfig mirrors spec.md §4.8/§6 — all CHOIR_SIGNAL_* env vars,
// clamped to safe ranges.
type SignalPolicyConfig struct {
	MaxFindingsPerTurn     int
	MaxLearningsPerTurn    int
	MaxEscalationsPerTurn  int
	MaxArtifactsPerTurn    int
	MinConfidence          float64
	DuplicateWindow        time.Duration
	EscalationCooldown     time.Duration
}

// SandboxConfig controls the file-tool sandbox (§4.5 Path safety).
type SandboxConfig struct {
	Root           string
	WritableGlobs  []string `yaml:"writable_globs"`
}

// fileOverlay is the optional YAML file merged on top of env-derived defaults.
type fileOverlay struct {
	Sandbox *struct {
		Root          string   `yaml:"root"`
		WritableGlobs []string `yaml:"writable_globs"`
	} `yaml:"sandbox"`
}

// Load builds a Config from the environment, optionally loading a .env file
// from configDir first (matching cmd/tarsy/main.go's godotenv.Load idiom),
// then an optional choir.yaml overlay in the same directory.
func Load(configDir string) (*Config, error) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with process environment",
			"path", envPath, "error", err)
	}

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		RunsDir:  getEnv("CHOIR_RUNS_DIR", "conductor/runs"),
		Database: DatabaseConfig{
			Host:     getEnv("CHOIR_DB_HOST", "localhost"),
			Port:     getEnvInt("CHOIR_DB_PORT", 5432),
			User:     getEnv("CHOIR_DB_USER", "choir"),
			Password: getEnv("CHOIR_DB_PASSWORD", ""),
			Database: getEnv("CHOIR_DB_NAME", "choir"),
			SSLMode:  getEnv("CHOIR_DB_SSLMODE", "disable"),
		},
		SignalPolicy: defaultSignalPolicy(),
		Sandbox: SandboxConfig{
			Root:          getEnv("CHOIR_SANDBOX_ROOT", "."),
			WritableGlobs: []string{"**"},
		},
	}
	applySignalPolicyEnv(&cfg.SignalPolicy)

	overlayPath := filepath.Join(configDir, "choir.yaml")
	if data, err := os.ReadFile(overlayPath); err == nil {
		var overlay fileOverlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", overlayPath, err)
		}
		if overlay.Sandbox != nil {
			merged := SandboxConfig{
				Root:          overlay.Sandbox.Root,
				WritableGlobs: overlay.Sandbox.WritableGlobs,
			}
			if err := mergo.Merge(&merged, cfg.Sandbox); err != nil {
				return nil, fmt.Errorf("merging sandbox overlay: %w", err)
			}
			cfg.Sandbox = merged
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", overlayPath, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultSignalPolicy() SignalPolicyConfig {
	return SignalPolicyConfig{
		MaxFindingsPerTurn:    2,
		MaxLearningsPerTurn:   1,
		MaxEscalationsPerTurn: 1,
		MaxArtifactsPerTurn:   8,
		MinConfidence:         0.55,
		DuplicateWindow:       900 * time.Second,
		EscalationCooldown:    90 * time.Second,
	}
}

// applySignalPolicyEnv overlays CHOIR_SIGNAL_* env vars onto defaults,
// clamping each to a safe range and logging when a clamp fires — the same
// clamp-and-warn idiom the teacher uses for int32 overflow in llm_grpc.go.
func applySignalPolicyEnv(p *SignalPolicyConfig) {
	p.MaxFindingsPerTurn = clampInt("CHOIR_SIGNAL_MAX_FINDINGS", p.MaxFindingsPerTurn, 0, 50)
	p.MaxLearningsPerTurn = clampInt("CHOIR_SIGNAL_MAX_LEARNINGS", p.MaxLearningsPerTurn, 0, 50)
	p.MaxEscalationsPerTurn = clampInt("CHOIR_SIGNAL_MAX_ESCALATIONS", p.MaxEscalationsPerTurn, 0, 50)
	p.MaxArtifactsPerTurn = clampInt("CHOIR_SIGNAL_MAX_ARTIFACTS", p.MaxArtifactsPerTurn, 0, 200)
	p.MinConfidence = clampFloat("CHOIR_SIGNAL_MIN_CONFIDENCE", p.MinConfidence, 0, 1)
	p.DuplicateWindow = clampSeconds("CHOIR_SIGNAL_DUP_WINDOW_SEC", p.DuplicateWindow, 0, 24*time.Hour)
	p.EscalationCooldown = clampSeconds("CHOIR_SIGNAL_ESCALATION_COOLDOWN_SEC", p.EscalationCooldown, 0, 24*time.Hour)
}

func validate(cfg *Config) error {
	if cfg.RunsDir == "" {
		return fmt.Errorf("runs directory must not be empty")
	}
	if cfg.SignalPolicy.MinConfidence < 0 || cfg.SignalPolicy.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %v", cfg.SignalPolicy.MinConfidence)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func clampInt(key string, fallback, min, max int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	if n < min {
		slog.Warn("env var below minimum, clamping", "key", key, "value", n, "clamped_to", min)
		return min
	}
	if n > max {
		slog.Warn("env var above maximum, clamping", "key", key, "value", n, "clamped_to", max)
		return max
	}
	return n
}

func clampFloat(key string, fallback, min, max float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	if f < min {
		slog.Warn("env var below minimum, clamping", "key", key, "value", f, "clamped_to", min)
		return min
	}
	if f > max {
		slog.Warn("env var above maximum, clamping", "key", key, "value", f, "clamped_to", max)
		return max
	}
	return f
}

func clampSeconds(key string, fallback time.Duration, min, max time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	d := time.Duration(secs) * time.Second
	if d < min {
		slog.Warn("env var below minimum, clamping", "key", key, "value", d, "clamped_to", min)
		return min
	}
	if d > max {
		slog.Warn("env var above maximum, clamping", "key", key, "value", d, "clamped_to", max)
		return max
	}
	return d
}
