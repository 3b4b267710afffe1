package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"git.home.luguber.info/inful/pkgbuild/internal/build"
	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Project string `arg:"" help:"Project directory (the root package)" type:"existingdir"`
}

func (b *BuildCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	s, err := root.open(g, b.Project)
	if err != nil {
		return err
	}
	defer s.closeLogged()

	gr, err := s.graph()
	if err != nil {
		return err
	}
	report, err := s.orch.Build(ctx, gr)
	if report != nil {
		printReport(g.Stdout, report)
	}
	return interrupted(ctx, err)
}

func printReport(w io.Writer, r *build.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range r.Packages {
		fmt.Fprintf(tw, "%s\t%s\n", p.ID, p.Outcome)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Build finished: %s\n", r)
}

// interrupted classifies errors caused by cancellation of ctx.
func interrupted(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if _, ok := perrors.As(err); ok {
		return err
	}
	return perrors.Wrap(err, perrors.CategoryRuntime, perrors.SeverityError, "interrupted")
}
