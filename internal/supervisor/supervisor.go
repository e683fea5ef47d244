// Package supervisor starts the target command together with one tap worker
// per output stream and hands the framed message streams to the caller.
//
// The taps are started and confirmed ready before the command runs, so no
// output of the command can be produced before something is reading it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"t3/pkg/envelope"
)

const (
	// ExitFailure is reported when the command did not exit normally.
	ExitFailure = 1

	DefaultHandshakeTimeout = 5 * time.Second
	DefaultChannelBuffer    = 64
)

// Config for a Supervisor.
type Config struct {
	// Command is the argv of the target command.
	Command []string
	Mode    TapMode
	// PTY puts the command's stdout on a pseudo-terminal.
	PTY              bool
	HandshakeTimeout time.Duration

	// TapProgram is the argv prefix that starts a tap process. Defaults to
	// the running executable with the hidden __tap command.
	TapProgram []string
	// TapEnv is added to the environment of tap processes.
	TapEnv []string
	// LogLevel is passed on to tap processes.
	LogLevel string
	// Diagnostics receives the stderr of tap processes. Defaults to os.Stderr.
	Diagnostics io.Writer

	// Stdin of the command. Defaults to os.Stdin.
	Stdin io.Reader
	// ChannelBuffer is the message buffer between a tap and the merge engine.
	ChannelBuffer int

	Logger *slog.Logger
}

// Supervisor owns the command and its taps. Start, then consume Outputs until
// both close (calling Reap as each one does), then Wait.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	taps    [2]*tapHandle
	outputs [2]<-chan envelope.Message
	cmd     *exec.Cmd
	reaped  [2]sync.Once
	reapers sync.WaitGroup
}

// New creates a supervisor. It does not start anything.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("no command given")
	}
	if cfg.Mode == "" {
		cfg.Mode = TapProcess
	}
	if cfg.Mode != TapProcess && cfg.Mode != TapInline {
		return nil, fmt.Errorf("invalid tap mode %q (must be process or inline)", cfg.Mode)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultChannelBuffer
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = os.Stderr
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Mode == TapProcess && len(cfg.TapProgram) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating own executable for tap processes: %w", err)
		}
		cfg.TapProgram = []string{exe, "__tap"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger}, nil
}

// streamPipe is the raw channel between the command and one tap: the command
// writes to child, the tap reads from tapSide.
type streamPipe struct {
	tapSide *os.File
	child   *os.File
	trimCR  bool
}

func openPipe(stream envelope.Stream, usePTY bool) (*streamPipe, error) {
	if usePTY && stream == envelope.Stdout {
		ptmx, tty, err := pty.Open()
		if err != nil {
			return nil, fmt.Errorf("opening pseudo-terminal: %w", err)
		}
		// no output processing, so lines end in a plain newline
		if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
			_ = ptmx.Close()
			_ = tty.Close()
			return nil, fmt.Errorf("setting pseudo-terminal to raw mode: %w", err)
		}
		return &streamPipe{tapSide: ptmx, child: tty, trimCR: true}, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating %s pipe: %w", stream, err)
	}
	return &streamPipe{tapSide: r, child: w}, nil
}

// Start starts and confirms both taps, stdout first, then starts the command.
func (s *Supervisor) Start(ctx context.Context) error {
	var pipes [2]*streamPipe
	closeChildSides := func() {
		for _, p := range pipes {
			if p != nil {
				_ = p.child.Close()
			}
		}
	}

	for _, stream := range envelope.Streams {
		p, err := openPipe(stream, s.cfg.PTY)
		if err != nil {
			closeChildSides()
			s.abortTaps()
			return err
		}
		pipes[stream] = p

		if err := s.startTap(ctx, stream, p); err != nil {
			closeChildSides()
			s.abortTaps()
			return err
		}
	}

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...) // #nosec G204 -- running the user's command is the point
	cmd.Stdin = s.cfg.Stdin
	cmd.Stdout = pipes[envelope.Stdout].child
	cmd.Stderr = pipes[envelope.Stderr].child

	if err := cmd.Start(); err != nil {
		// The taps see end of input and exit on their own.
		closeChildSides()
		s.drainTaps()
		return fmt.Errorf("starting command %q: %w", s.cfg.Command[0], err)
	}
	s.cmd = cmd
	closeChildSides()

	s.logger.Debug("Command started", "pid", cmd.Process.Pid, "command", s.cfg.Command, "tapMode", string(s.cfg.Mode), "pty", s.cfg.PTY)
	return nil
}

func (s *Supervisor) startTap(ctx context.Context, stream envelope.Stream, p *streamPipe) error {
	var (
		h   *tapHandle
		err error
	)
	switch s.cfg.Mode {
	case TapInline:
		h, err = s.startInlineTap(stream, p.tapSide, p.trimCR)
	default:
		h, err = s.startProcessTap(stream, p.tapSide, p.trimCR)
		// the tap process holds its own copy now
		_ = p.tapSide.Close()
	}
	if err != nil {
		return err
	}
	s.taps[stream] = h

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := handshake(h, s.cfg.HandshakeTimeout); err != nil {
		return err
	}
	s.outputs[stream] = h.output()
	s.logger.Debug("Tap ready", "stream", stream.String())
	return nil
}

// abortTaps kills the taps started so far and reaps them.
func (s *Supervisor) abortTaps() {
	for _, h := range s.taps {
		if h == nil {
			continue
		}
		h.kill()
		if ch := s.outputs[h.stream]; ch != nil {
			for range ch {
			}
		}
		logTapExit(s.logger, h)
	}
}

// drainTaps discards whatever the taps still deliver and reaps them.
func (s *Supervisor) drainTaps() {
	for _, stream := range envelope.Streams {
		for range s.outputs[stream] {
		}
		s.Reap(stream)
	}
	s.reapers.Wait()
}

// Outputs returns the message channels indexed by envelope.Stream. Each
// closes when its tap is done.
func (s *Supervisor) Outputs() [2]<-chan envelope.Message {
	return s.outputs
}

// PID returns the process id of the command, or 0 before it started.
func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Reap collects the tap of stream in the background. Call it once its output
// channel closed. Extra calls are ignored.
func (s *Supervisor) Reap(stream envelope.Stream) {
	h := s.taps[stream]
	if h == nil {
		return
	}
	s.reaped[stream].Do(func() {
		s.reapers.Add(1)
		go func() {
			defer s.reapers.Done()
			logTapExit(s.logger, h)
		}()
	})
}

// Abort kills the command and discards the rest of its output. Use it when
// the output can no longer be delivered.
func (s *Supervisor) Abort() {
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("Failed to kill command", "error", err)
		}
	}
	for _, stream := range envelope.Streams {
		ch := s.outputs[stream]
		s.reapers.Add(1)
		go func() {
			defer s.reapers.Done()
			for range ch {
			}
			s.Reap(stream)
		}()
	}
}

// Wait waits for the command and for the taps passed to Reap, and returns the
// command's exit code. A command killed by a signal reports ExitFailure.
func (s *Supervisor) Wait() (int, error) {
	if s.cmd == nil {
		return ExitFailure, errors.New("command not started")
	}
	err := s.cmd.Wait()
	s.reapers.Wait()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitFailure, fmt.Errorf("waiting for command: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		s.logger.Warn("Command terminated by signal", "signal", status.Signal().String())
		return ExitFailure, nil
	}
	return exitErr.ExitCode(), nil
}
