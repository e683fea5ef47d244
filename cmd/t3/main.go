package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"t3/internal/config"
	"t3/internal/logging"
	"t3/internal/render"
	"t3/internal/runner"
	"t3/internal/tap"
	"t3/pkg/envelope"
)

const version = "1.0"

// Exit codes of t3 itself. Otherwise t3 exits with the command's status.
const (
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	light, dark, bold, plain bool
	forceColor               bool
	outColor, errColor       string
	ts, relative             bool
	pty                      bool
	tapMode                  string
	delayWindow              string
	pollInterval             string
	watch                    string
	configPath               string
	debug                    bool
}

// app carries the state of one invocation.
type app struct {
	opts    options
	started bool
	code    int
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "t3 [flags] LOGFILE [--] COMMAND [ARGS...]",
		Short: "t3 - tee stdout and stderr of a command into one timestamped log",
		Long: `t3 runs COMMAND, shows its stdout and stderr on the matching streams of the
terminal and writes both, merged in the order the lines were produced, to
LOGFILE. Stderr lines are colored.`,
		Version:       version,
		Args:          checkArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args)
		},
	}
	rootCmd.SetVersionTemplate("t3 version {{.Version}}\n")

	flags := rootCmd.Flags()
	// everything after LOGFILE belongs to the command
	flags.SetInterspersed(false)

	o := &a.opts
	flags.BoolVarP(&o.light, "light", "l", false, "Use the theme for light terminals")
	flags.BoolVarP(&o.dark, "dark", "d", false, "Use the theme for dark terminals")
	flags.BoolVarP(&o.bold, "bold", "b", false, "Mark stderr in bold only")
	flags.BoolVarP(&o.plain, "plain", "p", false, "No escape sequences at all")
	flags.BoolVarP(&o.forceColor, "forcecolor", "f", false, "Color terminal output even when it is not a TTY")
	flags.StringVarP(&o.outColor, "outcolor", "o", "", "Escape sequence written before stdout lines")
	flags.StringVarP(&o.errColor, "errcolor", "e", "", "Escape sequence written before stderr lines")
	flags.BoolVarP(&o.ts, "ts", "t", false, "Prefix lines with the time they were read")
	flags.BoolVarP(&o.relative, "relative", "r", false, "Timestamps relative to the start of the run (implies --ts)")
	flags.BoolVar(&o.pty, "pty", false, "Run the command with stdout on a pseudo-terminal")
	flags.StringVar(&o.tapMode, "tap-mode", "", "Run taps as processes or inline goroutines (process, inline)")
	flags.StringVar(&o.delayWindow, "delay-window", "", "How long a line waits for earlier lines of the other stream (default 100ms)")
	flags.StringVar(&o.pollInterval, "poll-interval", "", "Idle wakeup interval of the merge loop (default 1s)")
	flags.StringVar(&o.watch, "watch", "", "Serve a live view of the run on this address, e.g. 127.0.0.1:8080")
	flags.StringVar(&o.configPath, "config", "", "Configuration file (default: $XDG_CONFIG_HOME/t3/config.yaml if present)")
	flags.BoolVar(&o.debug, "debug", false, "Debug logging")

	rootCmd.MarkFlagsMutuallyExclusive("light", "dark", "bold", "plain")
	rootCmd.MarkFlagsMutuallyExclusive("plain", "forcecolor")
	rootCmd.MarkFlagsMutuallyExclusive("plain", "ts")
	rootCmd.MarkFlagsMutuallyExclusive("plain", "relative")
	rootCmd.MarkFlagsMutuallyExclusive("plain", "debug")

	rootCmd.AddCommand(newTapCmd(a))
	return rootCmd
}

func checkArgs(cmd *cobra.Command, args []string) error {
	args = stripDashes(args)
	if len(args) < 2 {
		return fmt.Errorf("expected LOGFILE and COMMAND, got %d argument(s)", len(args))
	}
	return nil
}

// stripDashes drops a "--" between LOGFILE and COMMAND.
func stripDashes(args []string) []string {
	if len(args) > 1 && args[1] == "--" {
		return append([]string{args[0]}, args[2:]...)
	}
	return args
}

func (a *app) run(cmd *cobra.Command, args []string) error {
	args = stripDashes(args)
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}
	if err := a.applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	a.started = true
	stderr := render.Locked(cmd.ErrOrStderr())
	logger := logging.New(stderr, cfg.LogLevel)
	code, err := runner.Run(context.Background(), runner.Options{
		LogFile: args[0],
		Command: args[1:],
		Config:  cfg,
		Stdout:  cmd.OutOrStdout(),
		Stderr:  stderr,
		Stdin:   cmd.InOrStdin(),
		Logger:  logger,
	})
	a.code = code
	return err
}

// applyFlags copies the flags given on the command line over cfg.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	o := a.opts
	changed := cmd.Flags().Changed

	switch {
	case o.light:
		cfg.Theme = render.ThemeLight
	case o.dark:
		cfg.Theme = render.ThemeDark
	case o.bold:
		cfg.Theme = render.ThemeBold
	case o.plain:
		cfg.Theme = render.ThemePlain
	}
	if changed("forcecolor") {
		cfg.ForceColor = o.forceColor
	}
	if changed("outcolor") {
		cfg.OutColor = &o.outColor
	}
	if changed("errcolor") {
		cfg.ErrColor = &o.errColor
	}
	if o.ts {
		cfg.Timestamps = render.TimestampAbsolute.String()
	}
	if o.relative {
		cfg.Timestamps = render.TimestampRelative.String()
	}
	if changed("pty") {
		cfg.PTY = o.pty
	}
	if changed("tap-mode") {
		cfg.TapMode = o.tapMode
	}
	if changed("delay-window") {
		d, err := parseDuration("delay-window", o.delayWindow)
		if err != nil {
			return err
		}
		cfg.DelayWindow = d
	}
	if changed("poll-interval") {
		d, err := parseDuration("poll-interval", o.pollInterval)
		if err != nil {
			return err
		}
		cfg.PollInterval = d
	}
	if changed("watch") {
		cfg.Watch = o.watch
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}
	return nil
}

func parseDuration(flag, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for --%s: %w", flag, err)
	}
	return d, nil
}

func newTapCmd(a *app) *cobra.Command {
	var (
		streamName string
		logLevel   string
		trimCR     bool
	)
	tapCmd := &cobra.Command{
		Use:   "__tap",
		Short: "Relay one output stream of a command as frames (internal use)",
		Long: `Read raw output from stdin, split it into lines and write them as
timestamped frames to stdout.

This command is started by t3 itself, once per output stream, before the
command runs. It should not be called directly.`,
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			a.code = exitFailure
			stream, err := envelope.ParseStream(streamName)
			if err != nil {
				return err
			}
			if err := tap.Serve(stream, os.Stdin, os.Stdout, trimCR, logging.NewTap(os.Stderr, logLevel)); err != nil {
				return err
			}
			a.code = 0
			return nil
		},
	}
	tapCmd.Flags().StringVar(&streamName, "stream", "", "Stream to relay (stdout or stderr)")
	tapCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	tapCmd.Flags().BoolVar(&trimCR, "trim-cr", false, "Drop a carriage return before each newline")
	_ = tapCmd.MarkFlagRequired("stream")
	return tapCmd
}

// execute runs t3 with args and returns the process exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return a.code
	}
	fmt.Fprintf(stderr, "t3: %v\n", err)
	if !a.started {
		fmt.Fprintln(stderr, "Run 't3 --help' for usage.")
		return exitUsage
	}
	if a.code == 0 {
		return exitFailure
	}
	return a.code
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
