// Package config loads the t3 configuration from a YAML file and the
// environment. Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"t3/internal/logging"
	"t3/internal/render"
)

// DefaultPath returns the configuration file looked up when no path is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "t3", "config.yaml"), nil
}

// Load reads path, or the file at DefaultPath when path is empty and that file
// exists, and applies environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- user-provided config path is expected
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks a configuration for errors.
func Validate(cfg *Config) error {
	if _, err := render.ThemePalette(cfg.Theme); err != nil {
		return fmt.Errorf("theme: %w", err)
	}

	if _, err := render.ParseTimestampMode(cfg.Timestamps); err != nil {
		return fmt.Errorf("timestamps: %w", err)
	}

	switch cfg.TapMode {
	case TapModeProcess, TapModeInline:
	default:
		return fmt.Errorf("tap_mode: invalid mode %q (must be process or inline)", cfg.TapMode)
	}

	if cfg.DelayWindow <= 0 {
		return errors.New("delay_window: must be positive")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll_interval: must be positive")
	}
	if cfg.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout: must be positive")
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("log_level: invalid level %q (must be debug, info, warn or error)", cfg.LogLevel)
	}

	if cfg.Theme == render.ThemePlain {
		if cfg.ForceColor {
			return errors.New("force_color and the plain theme are mutually exclusive")
		}
		if cfg.TimestampMode() != render.TimestampOff {
			return errors.New("timestamps and the plain theme are mutually exclusive")
		}
		if logging.ParseLevel(cfg.LogLevel) == slog.LevelDebug {
			return errors.New("debug logging and the plain theme are mutually exclusive")
		}
	}

	return nil
}

// Palette returns the theme palette with the stream color overrides applied.
func (c *Config) Palette() (render.Palette, error) {
	p, err := render.ThemePalette(c.Theme)
	if err != nil {
		return render.Palette{}, err
	}
	if c.OutColor != nil {
		p.Out = *c.OutColor
	}
	if c.ErrColor != nil {
		p.Err = *c.ErrColor
	}
	return p, nil
}

// TimestampMode returns the parsed timestamp setting.
func (c *Config) TimestampMode() render.TimestampMode {
	mode, err := render.ParseTimestampMode(c.Timestamps)
	if err != nil {
		return render.TimestampOff
	}
	return mode
}
