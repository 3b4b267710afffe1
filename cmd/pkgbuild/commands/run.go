package commands

import (
	"context"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
	"git.home.luguber.info/inful/pkgbuild/internal/dispatch"
)

// packageArgs are the positional arguments shared by command, b and x.
type packageArgs struct {
	Project string   `arg:"" help:"Project directory (the root package)" type:"existingdir"`
	Package string   `arg:"" help:"Package name, or name@version when ambiguous"`
	Args    []string `arg:"" optional:"" passthrough:"" help:"Arguments passed through unchanged"`
}

type dispatchFunc func(ctx context.Context, d *dispatch.Dispatcher, id descriptor.PackageID, stdio dispatch.IO) (*dispatch.ProcessResult, error)

func (a *packageArgs) dispatch(ctx context.Context, g *Global, root *CLI, fn dispatchFunc) error {
	s, err := root.open(g, a.Project)
	if err != nil {
		return err
	}
	defer s.closeLogged()

	d, err := s.dispatcher()
	if err != nil {
		return err
	}
	id, err := d.Resolve(a.Package)
	if err != nil {
		return err
	}
	res, err := fn(ctx, d, id, dispatch.IO{Stdin: g.Stdin, Stdout: g.Stdout, Stderr: g.Stderr})
	if err != nil {
		return interrupted(ctx, err)
	}
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// CommandCmd implements the 'command' command.
type CommandCmd struct {
	packageArgs
}

func (c *CommandCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return c.dispatch(ctx, g, root, func(ctx context.Context, d *dispatch.Dispatcher, id descriptor.PackageID, stdio dispatch.IO) (*dispatch.ProcessResult, error) {
		return d.RunArbitrary(ctx, id, c.Args, stdio)
	})
}

// RunCmd implements the 'x' command.
type RunCmd struct {
	packageArgs
}

func (x *RunCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return x.dispatch(ctx, g, root, func(ctx context.Context, d *dispatch.Dispatcher, id descriptor.PackageID, stdio dispatch.IO) (*dispatch.ProcessResult, error) {
		return d.RunInstalled(ctx, id, "", x.Args, stdio)
	})
}

// BuildRunCmd implements the 'b' command.
type BuildRunCmd struct {
	packageArgs
}

func (b *BuildRunCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	return b.dispatch(ctx, g, root, func(ctx context.Context, d *dispatch.Dispatcher, id descriptor.PackageID, stdio dispatch.IO) (*dispatch.ProcessResult, error) {
		return d.BuildThenRun(ctx, id, "", b.Args, stdio)
	})
}
