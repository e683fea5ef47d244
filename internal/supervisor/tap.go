package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"t3/internal/tap"
	"t3/pkg/envelope"
)

// TapMode selects where tap workers run.
type TapMode string

const (
	// TapProcess runs every tap as a child process of t3 itself.
	TapProcess TapMode = "process"
	// TapInline runs taps as goroutines of the parent.
	TapInline TapMode = "inline"
)

// ErrHandshake is returned when a tap does not report ready in time or
// reports something other than its readiness sentinel.
var ErrHandshake = errors.New("supervisor: tap handshake failed")

// tapHandle is a running tap worker.
type tapHandle struct {
	stream envelope.Stream
	first  func() (envelope.Message, error)
	output func() <-chan envelope.Message
	wait   func() error
	kill   func()
}

// startProcessTap launches `<program> --stream <name>` with raw on stdin and
// frames coming back on its stdout.
func (s *Supervisor) startProcessTap(stream envelope.Stream, raw *os.File, trimCR bool) (*tapHandle, error) {
	args := append([]string{}, s.cfg.TapProgram[1:]...)
	args = append(args, "--stream", stream.String(), "--log-level", s.cfg.LogLevel)
	if trimCR {
		args = append(args, "--trim-cr")
	}

	cmd := exec.Command(s.cfg.TapProgram[0], args...) // #nosec G204 -- re-executes our own binary
	cmd.Stdin = raw
	cmd.Stderr = s.cfg.Diagnostics
	cmd.Env = append(os.Environ(), s.cfg.TapEnv...)
	frames, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating %s tap pipe: %w", stream, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s tap: %w", stream, err)
	}
	s.logger.Debug("Tap process started", "stream", stream.String(), "tapPID", cmd.Process.Pid)

	reader := envelope.NewReader(frames)
	return &tapHandle{
		stream: stream,
		first:  reader.Receive,
		output: func() <-chan envelope.Message {
			return reader.Channel(s.cfg.ChannelBuffer, func(err error) {
				s.logger.Error("Reading from tap failed, closing stream", "stream", stream.String(), "error", err)
			})
		},
		wait: func() error {
			err := cmd.Wait()
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return err
			}
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return fmt.Errorf("%s tap killed by signal %s", stream, status.Signal())
			}
			return fmt.Errorf("%s tap exited with code %d", stream, exitErr.ExitCode())
		},
		kill: func() { _ = cmd.Process.Kill() },
	}, nil
}

// startInlineTap runs the worker on a goroutine delivering over a channel.
func (s *Supervisor) startInlineTap(stream envelope.Stream, raw *os.File, trimCR bool) (*tapHandle, error) {
	sender := envelope.NewChanSender(s.cfg.ChannelBuffer)
	worker := tap.New(tap.Config{
		Stream: stream,
		Input:  raw,
		Output: sender,
		Logger: s.logger.With("component", "tap"),
		TrimCR: trimCR,
	})

	done := make(chan error, 1)
	go func() {
		err := worker.Run()
		_ = raw.Close()
		sender.Close()
		done <- err
	}()

	return &tapHandle{
		stream: stream,
		first: func() (envelope.Message, error) {
			m, ok := <-sender.Messages()
			if !ok {
				return envelope.Message{}, io.EOF
			}
			return m, nil
		},
		output: sender.Messages,
		wait: func() error {
			return <-done
		},
		// closing the input ends the worker's read loop
		kill: func() { _ = raw.Close() },
	}, nil
}

// handshake waits for the readiness sentinel of h.
func handshake(h *tapHandle, timeout time.Duration) error {
	type result struct {
		m   envelope.Message
		err error
	}
	got := make(chan result, 1)
	go func() {
		m, err := h.first()
		got <- result{m, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-got:
		if r.err != nil {
			return fmt.Errorf("%w: %s tap: %v", ErrHandshake, h.stream, r.err)
		}
		want := envelope.Sentinel(h.stream)
		if !r.m.IsSentinel() || r.m.Text != want.Text {
			return fmt.Errorf("%w: %s tap sent %q instead of its readiness sentinel", ErrHandshake, h.stream, r.m.Text)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s tap not ready after %s", ErrHandshake, h.stream, timeout)
	}
}

// logTapExit reaps h and logs how it ended.
func logTapExit(logger *slog.Logger, h *tapHandle) {
	if err := h.wait(); err != nil {
		logger.Warn("Tap worker failed", "stream", h.stream.String(), "error", err)
		return
	}
	logger.Debug("Tap worker finished", "stream", h.stream.String())
}
