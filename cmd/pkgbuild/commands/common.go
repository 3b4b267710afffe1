// Package commands implements the pkgbuild command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/pkgbuild/internal/config"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
	"git.home.luguber.info/inful/pkgbuild/internal/version"
)

// Global carries the process streams shared by every command.
type Global struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Config      string           `short:"c" help:"Configuration file path (defaults to ./pkgbuild.yaml when present)"`
	Verbose     bool             `short:"v" help:"Enable verbose logging and echo build output"`
	Store       string           `help:"Package store directory (overrides PKGBUILD_STORE and store_dir)"`
	MetricsFile string           `name:"metrics-file" help:"Write Prometheus metrics to this file after the command"`
	Version     kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build   BuildCmd    `cmd:"" help:"Build the project and all of its dependencies"`
	Command CommandCmd  `cmd:"" help:"Run a command line in a built package's environment"`
	B       BuildRunCmd `cmd:"" name:"b" help:"Build the package if stale, then run its executable"`
	X       RunCmd      `cmd:"" name:"x" help:"Run a built package's executable without building"`
	Status  StatusCmd   `cmd:"" help:"Show build records for every package of the project"`
	Watch   WatchCmd    `cmd:"" help:"Rebuild the project whenever package sources change"`

	stderr io.Writer
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := config.LogLevelInfo
	if c.Verbose {
		level = config.LogLevelDebug
	}
	setupLogging(c.stderr, level, config.LogFormatText)
	return nil
}

func setupLogging(w io.Writer, level config.LogLevel, format config.LogFormat) {
	opts := &slog.HandlerOptions{Level: level.Slog()}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if format == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// ExitError carries a child process exit code through the command layer.
// It is not reported as an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

type exitSignal int

// Execute parses args, runs the selected command and returns the process
// exit code. It never calls os.Exit.
func Execute(ctx context.Context, args []string, g *Global) (code int) {
	cli := &CLI{stderr: g.Stderr}

	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(exitSignal)
			if !ok {
				panic(r)
			}
			code = int(sig)
		}
	}()

	parser, err := kong.New(cli,
		kong.Name("pkgbuild"),
		kong.Description("Dependency-aware package builds in isolated sandboxes."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Writers(g.Stdout, g.Stderr),
		kong.Exit(func(code int) { panic(exitSignal(code)) }),
		kong.Bind(g, cli),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return perrors.NewCLIErrorAdapter(false, nil).Report(perrors.InternalError("build command line parser", err))
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	return report(kctx.Run(), cli.Verbose, g.Stderr)
}

func report(err error, verbose bool, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return perrors.NewCLIErrorAdapter(verbose, nil).WithOutput(stderr).Report(err)
}
