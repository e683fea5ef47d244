// Package tap implements the stream tap worker: it reads the raw output of one
// stream of the target command, splits it into lines, stamps every line and
// forwards it to the merge engine.
package tap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"t3/pkg/envelope"
)

// ReadBufferSize is the largest chunk read from the stream at once.
const ReadBufferSize = 4096

// ErrClock is returned when the clock yields a time at or before the Unix
// epoch, which would make a line indistinguishable from the sentinel.
var ErrClock = errors.New("tap: clock returned a time at or before the epoch")

// State is the lifecycle position of a Worker.
type State int32

const (
	StateStarting State = iota
	StateRelaying
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRelaying:
		return "relaying"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config for a worker
type Config struct {
	Stream envelope.Stream
	Input  io.Reader
	Output envelope.Sender
	Logger *slog.Logger

	// MaxLine is the longest line forwarded before it is cut. Defaults to
	// envelope.MaxText.
	MaxLine int
	// TrimCR strips one trailing carriage return from each line.
	TrimCR bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// Worker relays one stream. A Worker runs once.
type Worker struct {
	stream  envelope.Stream
	in      io.Reader
	out     envelope.Sender
	logger  *slog.Logger
	maxLine int
	trimCR  bool
	now     func() time.Time

	line      []byte
	state     atomic.Int32
	lines     int
	truncated int
}

// New creates a worker from cfg.
func New(cfg Config) *Worker {
	w := &Worker{
		stream:  cfg.Stream,
		in:      cfg.Input,
		out:     cfg.Output,
		logger:  cfg.Logger,
		maxLine: cfg.MaxLine,
		trimCR:  cfg.TrimCR,
		now:     cfg.Now,
	}
	if w.maxLine <= 0 || w.maxLine > envelope.MaxText {
		w.maxLine = envelope.MaxText
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	w.logger = w.logger.With("stream", w.stream.String())
	w.line = make([]byte, 0, w.maxLine)
	w.state.Store(int32(StateStarting))
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Lines returns the number of messages forwarded so far, excluding the sentinel.
func (w *Worker) Lines() int {
	return w.lines
}

// Truncated returns how many lines were cut at MaxLine.
func (w *Worker) Truncated() int {
	return w.truncated
}

// Run sends the readiness sentinel and then relays the input until it ends.
// Errors returned by Run are fatal for the worker: a failed sentinel, a failed
// send or a clock failure. Read errors end the input instead.
func (w *Worker) Run() error {
	defer w.state.Store(int32(StateDone))

	if err := w.out.Send(envelope.Sentinel(w.stream)); err != nil {
		return fmt.Errorf("sending %s readiness sentinel: %w", w.stream, err)
	}

	w.state.Store(int32(StateRelaying))
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := w.in.Read(buf)
		if n > 0 {
			if serr := w.relay(buf[:n]); serr != nil {
				return serr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !isHangup(err) {
			w.logger.Error("Error reading stream, treating as end of input", "error", err)
		}
		break
	}

	w.state.Store(int32(StateDraining))
	if len(w.line) > 0 {
		ts, err := w.timestamp()
		if err != nil {
			return err
		}
		if err := w.emit(ts, false); err != nil {
			return err
		}
	}

	w.logger.Debug("Stream ended", "lines", w.lines, "truncated", w.truncated)
	return nil
}

// relay splits one chunk into lines. The whole chunk shares one timestamp, so a
// line spread over several reads carries the time of the read that completed it.
func (w *Worker) relay(chunk []byte) error {
	ts, err := w.timestamp()
	if err != nil {
		return err
	}

	for _, b := range chunk {
		if b == '\n' {
			if err := w.emit(ts, true); err != nil {
				return err
			}
			continue
		}
		// A full accumulator is only cut once more text arrives, so a line of
		// exactly maxLine bytes still goes out whole.
		if len(w.line) >= w.maxLine {
			w.truncated++
			w.logger.Warn("Line exceeds maximum length, truncating", "max", w.maxLine)
			if err := w.emit(ts, false); err != nil {
				return err
			}
		}
		w.line = append(w.line, b)
	}
	return nil
}

// emit sends the accumulated line. A carriage return is trimmed only from a
// line ended by a newline.
func (w *Worker) emit(ts time.Time, newline bool) error {
	line := w.line
	if newline && w.trimCR && len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	msg := envelope.Message{Timestamp: ts, Text: string(line)}
	w.line = w.line[:0]

	if err := w.out.Send(msg); err != nil {
		return fmt.Errorf("sending %s line: %w", w.stream, err)
	}
	w.lines++
	return nil
}

func (w *Worker) timestamp() (time.Time, error) {
	ts := w.now()
	if ts.Unix() <= 0 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrClock, ts)
	}
	return ts, nil
}

// isHangup reports the error a pseudo-terminal master returns once the child
// side is closed. It marks the end of input, not a failure.
func isHangup(err error) bool {
	return errors.Is(err, unix.EIO)
}
