// Package render turns merged messages into output lines for the terminal and
// the log file.
package render

import (
	"fmt"
	"strings"
	"time"

	"t3/pkg/envelope"
)

// TimestampMode selects the timestamp prefix of a rendered line.
type TimestampMode int

const (
	TimestampOff TimestampMode = iota
	TimestampAbsolute
	TimestampRelative
)

func (m TimestampMode) String() string {
	switch m {
	case TimestampOff:
		return "off"
	case TimestampAbsolute:
		return "absolute"
	case TimestampRelative:
		return "relative"
	default:
		return fmt.Sprintf("timestamp(%d)", int(m))
	}
}

// ParseTimestampMode accepts off, absolute and relative.
func ParseTimestampMode(s string) (TimestampMode, error) {
	switch strings.ToLower(s) {
	case "off", "":
		return TimestampOff, nil
	case "absolute":
		return TimestampAbsolute, nil
	case "relative":
		return TimestampRelative, nil
	default:
		return TimestampOff, fmt.Errorf("invalid timestamp mode %q (must be off, absolute or relative)", s)
	}
}

// Config for a Renderer.
type Config struct {
	Palette    Palette
	Timestamps TimestampMode
	// Start is the reference point of relative timestamps.
	Start time.Time
	// Colorize is indexed by envelope.Stream and decides whether the
	// terminal line of that stream carries escape sequences.
	Colorize [2]bool
	// Location for absolute timestamps. Defaults to time.Local.
	Location *time.Location
}

// Renderer formats messages. It holds no mutable state.
type Renderer struct {
	cfg Config
}

// New creates a renderer.
func New(cfg Config) *Renderer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Renderer{cfg: cfg}
}

// Render returns the line for the terminal stream and the line for the log
// file. Both end in a newline. The log line always uses the palette.
func (r *Renderer) Render(m envelope.Message, stream envelope.Stream) (terminal, log string) {
	ts := r.timestamp(m.Timestamp)

	p := r.cfg.Palette
	color := p.Out
	if stream == envelope.Stderr {
		color = p.Err
	}

	var b strings.Builder
	b.Grow(len(p.Timestamp) + len(ts) + 2*len(p.Reset) + len(color) + len(m.Text) + 1)
	b.WriteString(p.Timestamp)
	b.WriteString(ts)
	b.WriteString(p.Reset)
	b.WriteString(color)
	b.WriteString(m.Text)
	b.WriteString(p.Reset)
	b.WriteByte('\n')
	log = b.String()

	if r.cfg.Colorize[stream] {
		return log, log
	}
	return ts + m.Text + "\n", log
}

func (r *Renderer) timestamp(t time.Time) string {
	switch r.cfg.Timestamps {
	case TimestampAbsolute:
		return FormatAbsolute(t.In(r.cfg.Location))
	case TimestampRelative:
		return FormatElapsed(t.Sub(r.cfg.Start))
	default:
		return ""
	}
}

// FormatAbsolute renders the wall clock time of t as "HH:MM:SS.uuuuuu ".
func FormatAbsolute(t time.Time) string {
	return fmt.Sprintf("%s.%06d ", t.Format("15:04:05"), t.Nanosecond()/1000)
}

// FormatElapsed renders d as "HH:MM:SS.uuuuuu ". Hours are not wrapped and a
// negative duration renders as zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int64(d / time.Hour)
	minutes := int64(d / time.Minute % 60)
	seconds := int64(d / time.Second % 60)
	micros := int64(d % time.Second / time.Microsecond)
	return fmt.Sprintf("%02d:%02d:%02d.%06d ", hours, minutes, seconds, micros)
}
