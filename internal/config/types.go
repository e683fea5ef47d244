package config

import "time"

// Config holds everything that shapes a run apart from the log file and the
// command itself.
type Config struct {
	// Theme is one of default, light, dark, bold or plain.
	Theme string `yaml:"theme"`
	// OutColor and ErrColor override the theme's stream colors when set.
	OutColor *string `yaml:"out_color"`
	ErrColor *string `yaml:"err_color"`
	// ForceColor colors terminal lines even when the stream is not a TTY.
	ForceColor bool `yaml:"force_color"`
	// Timestamps is off, absolute or relative.
	Timestamps string `yaml:"timestamps"`

	// PTY runs the command with stdout on a pseudo-terminal.
	PTY bool `yaml:"pty"`
	// TapMode is process or inline.
	TapMode string `yaml:"tap_mode"`

	DelayWindow      time.Duration `yaml:"delay_window"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Watch is the listen address of the live view, empty to disable it.
	Watch string `yaml:"watch"`

	LogLevel string `yaml:"log_level"`
}
