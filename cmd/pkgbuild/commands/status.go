package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/pkgbuild/internal/eventstore"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	Project string `arg:"" help:"Project directory (the root package)" type:"existingdir"`
	JSON    bool   `help:"Print machine-readable JSON"`
}

// PackageStatus is one row of the status output.
type PackageStatus struct {
	Package   string     `json:"package"`
	Status    string     `json:"status"`
	Fresh     bool       `json:"fresh"`
	ExitCode  int        `json:"exit_code,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// StatusOutput is the JSON document printed by 'status --json'.
type StatusOutput struct {
	Packages []PackageStatus        `json:"packages"`
	LastRun  *eventstore.RunSummary `json:"last_run,omitempty"`
}

const statusUnbuilt = "unbuilt"

func (c *StatusCmd) Run(ctx context.Context, g *Global, root *CLI) error {
	s, err := root.open(g, c.Project)
	if err != nil {
		return err
	}
	defer s.closeLogged()

	gr, err := s.graph()
	if err != nil {
		return err
	}
	fps, err := s.orch.Fingerprints(gr)
	if err != nil {
		return err
	}

	out := StatusOutput{}
	for _, id := range gr.TopoOrder() {
		rec, err := s.records.Get(ctx, id)
		if err != nil {
			return err
		}
		row := PackageStatus{Package: id.String(), Status: statusUnbuilt}
		if rec != nil {
			ts := rec.Timestamp
			row.Status = string(rec.Status)
			row.Fresh = rec.Fresh(fps[id])
			row.ExitCode = rec.ExitCode
			row.Timestamp = &ts
			row.Error = rec.Error
		}
		out.Packages = append(out.Packages, row)
	}

	summary, err := eventstore.LatestRun(ctx, s.events)
	switch {
	case errors.Is(err, eventstore.ErrNoRuns):
	case err != nil:
		return err
	default:
		out.LastRun = summary
	}

	if c.JSON {
		enc := json.NewEncoder(g.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(g.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PACKAGE\tSTATUS\tUP TO DATE\tUPDATED")
	for _, row := range out.Packages {
		updated := "-"
		if row.Timestamp != nil {
			updated = row.Timestamp.Local().Format(time.DateTime)
		}
		fresh := "no"
		if row.Fresh {
			fresh = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Package, row.Status, fresh, updated)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if out.LastRun != nil {
		r := out.LastRun
		fmt.Fprintf(g.Stdout, "Last run %s (%s): %d built, %d cached, %d failed, %d skipped\n",
			r.RunID, r.Status, r.Built, r.Cached, r.Failed, r.Skipped)
	}
	return nil
}
