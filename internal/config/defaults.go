package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default values for configuration.
const (
	DefaultTheme            = "default"
	DefaultTimestamps       = "off"
	DefaultTapMode          = TapModeProcess
	DefaultDelayWindow      = 100 * time.Millisecond
	DefaultPollInterval     = time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultLogLevel         = "info"
)

// Tap modes.
const (
	TapModeProcess = "process"
	TapModeInline  = "inline"
)

// Environment variable names.
const (
	EnvTheme        = "T3_THEME"
	EnvTimestamps   = "T3_TIMESTAMPS"
	EnvForceColor   = "T3_FORCE_COLOR"
	EnvTapMode      = "T3_TAP_MODE"
	EnvDelayWindow  = "T3_DELAY_WINDOW"
	EnvPollInterval = "T3_POLL_INTERVAL"
	EnvWatch        = "T3_WATCH"
	EnvLogLevel     = "T3_LOG_LEVEL"
)

// Default returns a configuration with the built-in defaults.
func Default() *Config {
	return &Config{
		Theme:            DefaultTheme,
		Timestamps:       DefaultTimestamps,
		TapMode:          DefaultTapMode,
		DelayWindow:      DefaultDelayWindow,
		PollInterval:     DefaultPollInterval,
		HandshakeTimeout: DefaultHandshakeTimeout,
		LogLevel:         DefaultLogLevel,
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvironmentOverrides() error {
	if v := os.Getenv(EnvTheme); v != "" {
		c.Theme = v
	}
	if v := os.Getenv(EnvTimestamps); v != "" {
		c.Timestamps = v
	}
	if v := os.Getenv(EnvTapMode); v != "" {
		c.TapMode = v
	}
	if v := os.Getenv(EnvWatch); v != "" {
		c.Watch = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvForceColor); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvForceColor, err)
		}
		c.ForceColor = b
	}
	if v := os.Getenv(EnvDelayWindow); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDelayWindow, err)
		}
		c.DelayWindow = d
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		c.PollInterval = d
	}
	return nil
}
