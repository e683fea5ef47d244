// Package runner wires one t3 run together: log file, taps, command, merge
// engine and output sinks.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"t3/internal/config"
	"t3/internal/merge"
	"t3/internal/procstat"
	"t3/internal/render"
	"t3/internal/supervisor"
	"t3/internal/watch"
)

// Options for a run.
type Options struct {
	LogFile string
	Command []string
	Config  *config.Config

	// Stdout, Stderr and Stdin default to the process's own. Writers that are
	// not files are wrapped with render.Locked; pass the same wrapped stderr to
	// Logger's handler when both should share it.
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// TapProgram and TapEnv override how tap processes are started.
	TapProgram []string
	TapEnv     []string

	Logger *slog.Logger
}

// Run executes the command and returns its exit code. An error means t3
// itself failed; the exit code is then supervisor.ExitFailure.
func Run(ctx context.Context, opts Options) (int, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	// Tap diagnostics and log records share the streams with the output sink.
	opts.Stdout = render.Locked(opts.Stdout)
	opts.Stderr = render.Locked(opts.Stderr)
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	palette, err := cfg.Palette()
	if err != nil {
		return supervisor.ExitFailure, err
	}

	logFile, err := os.Create(opts.LogFile)
	if err != nil {
		return supervisor.ExitFailure, fmt.Errorf("opening log file: %w", err)
	}
	logBuf := bufio.NewWriter(logFile)
	closeLog := func() error {
		if err := logBuf.Flush(); err != nil {
			_ = logFile.Close()
			return fmt.Errorf("flushing log file: %w", err)
		}
		return logFile.Close()
	}

	renderer := render.New(render.Config{
		Palette:    palette,
		Timestamps: cfg.TimestampMode(),
		Start:      time.Now(),
		Colorize:   render.Colorize(cfg.ForceColor, opts.Stdout, opts.Stderr),
	})
	sinks := merge.MultiSink{render.NewOutput(renderer, opts.Stdout, opts.Stderr, logBuf)}

	var hub *watch.Hub
	if cfg.Watch != "" {
		hub = watch.NewHub(logger)
		srv := watch.NewServer(hub, watch.Info{Command: opts.Command, LogFile: opts.LogFile}, logger)
		if err := srv.Start(cfg.Watch); err != nil {
			_ = closeLog()
			return supervisor.ExitFailure, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		sinks = append(sinks, hub)
	}

	sup, err := supervisor.New(supervisor.Config{
		Command:          opts.Command,
		Mode:             supervisor.TapMode(cfg.TapMode),
		PTY:              cfg.PTY,
		HandshakeTimeout: cfg.HandshakeTimeout,
		TapProgram:       opts.TapProgram,
		TapEnv:           opts.TapEnv,
		LogLevel:         cfg.LogLevel,
		Diagnostics:      opts.Stderr,
		Stdin:            opts.Stdin,
		Logger:           logger,
	})
	if err != nil {
		_ = closeLog()
		return supervisor.ExitFailure, err
	}
	if err := sup.Start(ctx); err != nil {
		_ = closeLog()
		return supervisor.ExitFailure, err
	}

	engine := merge.New(merge.Config{
		Inputs:       sup.Outputs(),
		Sink:         sinks,
		Logger:       logger,
		DelayWindow:  cfg.DelayWindow,
		PollInterval: cfg.PollInterval,
		OnClose:      sup.Reap,
		OnIdle:       func() { procstat.Heartbeat(logger, sup.PID()) },
	})

	mergeErr := engine.Run(ctx)
	if mergeErr != nil {
		logger.Error("Merging output failed, stopping command", "error", mergeErr)
		sup.Abort()
	}

	code, waitErr := sup.Wait()
	if hub != nil {
		hub.Finish(code)
	}

	closeErr := closeLog()
	if err := errors.Join(mergeErr, waitErr, closeErr); err != nil {
		return supervisor.ExitFailure, err
	}
	return code, nil
}
