package commands

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
	"git.home.luguber.info/inful/pkgbuild/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Project string `arg:"" help:"Project directory (the root package)" type:"existingdir"`
}

func (c *WatchCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	s, err := root.open(g, c.Project)
	if err != nil {
		return err
	}
	defer s.closeLogged()

	rebuild := func(ctx context.Context) ([]string, error) {
		gr, err := s.graph()
		if err != nil {
			// Keep watching the project so a fixed manifest triggers a rebuild.
			return []string{s.project}, err
		}
		dirs := make([]string, 0, gr.Len())
		for _, id := range gr.TopoOrder() {
			desc, _ := gr.Node(id)
			dirs = append(dirs, desc.SourcePath)
		}
		report, err := s.orch.Build(ctx, gr)
		if report != nil {
			printReport(g.Stdout, report)
		}
		return dirs, err
	}

	w, err := watch.New(rebuild, s.cfg.Watch.Debounce, s.cfg.StoreDir)
	if err != nil {
		return err
	}
	slog.Info("Watching project for changes", logfields.Path(s.project))
	return w.Run(ctx)
}
