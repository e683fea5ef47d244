package render

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"t3/pkg/envelope"
)

// Output writes rendered lines to the caller's streams and the log. It is a
// merge sink and must only be used from the merge goroutine.
type Output struct {
	renderer *Renderer
	streams  [2]io.Writer
	log      io.Writer
}

// NewOutput creates an Output writing stdout lines to stdout, stderr lines to
// stderr, and every line to log.
func NewOutput(r *Renderer, stdout, stderr, log io.Writer) *Output {
	return &Output{
		renderer: r,
		streams:  [2]io.Writer{stdout, stderr},
		log:      log,
	}
}

type flusher interface {
	Flush() error
}

// Emit renders m and writes it to the log and to its stream.
func (o *Output) Emit(stream envelope.Stream, m envelope.Message) error {
	terminal, log := o.renderer.Render(m, stream)

	if _, err := io.WriteString(o.log, log); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	w := o.streams[stream]
	if _, err := io.WriteString(w, terminal); err != nil {
		return fmt.Errorf("writing %s: %w", stream, err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing %s: %w", stream, err)
		}
	}
	return nil
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	if l, ok := w.(*LockedWriter); ok {
		w = l.Unwrap()
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Colorize decides per stream whether terminal lines carry color: when forced,
// or when that stream is a terminal.
func Colorize(force bool, stdout, stderr io.Writer) [2]bool {
	return [2]bool{
		force || IsTerminal(stdout),
		force || IsTerminal(stderr),
	}
}
