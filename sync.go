package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay source baselines and the live head onto the target project",
		Long: `Run one sync: create the target project if needed, apply every source
baseline not yet tagged on the target in lineage order, then bring the
target ref up to the live stream head.

Baselines already tagged are skipped, so an interrupted sync resumes where
it stopped. Use --reset to delete and recreate the target project first.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().Bool("reset", false, "delete and recreate the target project first")
	cmd.Flags().Bool("skip-head", false, "stop after the last baseline")
	addCrawlFlags(cmd)

	return cmd
}

// addCrawlFlags registers the crawl overrides shared by commands that
// crawl the source. Values reach the config through cliOverrides.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().Int("depth", 0, "link depth followed beyond the seeds")
	cmd.Flags().Int("concurrency", 0, "maximum in-flight requests")
	cmd.Flags().StringSlice("module", nil, "seed from this module URI (repeatable)")
	cmd.Flags().StringSlice("folder", nil, "seed from this folder URI (repeatable)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	defer cc.writeMetrics()

	target, err := openTarget(cc)
	if err != nil {
		return err
	}

	release, err := lockProject(cfg.ProjectDir())
	if err != nil {
		return err
	}
	defer release()

	client, project, err := openSource(ctx, cc)
	if err != nil {
		return err
	}

	source, err := newSource(cc, client, project)
	if err != nil {
		return err
	}

	cache, err := sync.NewSnapshotCache(cfg.SnapshotDir())
	if err != nil {
		return err
	}

	ledger, err := sync.OpenLedger(ctx, cfg.LedgerPath(), cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	cc.Statusf("Syncing %q onto %s (ref %s)\n", project.Name, cfg.Target.Project, cfg.Target.Ref)

	rep, runErr := sync.NewOrchestrator(source, target, cache, ledger, cc.Logger).Run(ctx, sync.RunOpts{
		Ref:      cfg.Target.Ref,
		Reset:    cfg.Sync.Reset,
		SkipHead: cfg.Sync.SkipHead,
	})

	if rep != nil {
		if err := printReport(os.Stdout, rep, cc.Flags.JSON); err != nil {
			return err
		}
	}

	return runErr
}

// reportJSON is the --json form of a sync report.
type reportJSON struct {
	RunID       string   `json:"run_id"`
	Created     bool     `json:"created"`
	Fallback    bool     `json:"fallback,omitempty"`
	Baselines   int      `json:"baselines"`
	Applied     []string `json:"applied"`
	Skipped     int      `json:"skipped"`
	Added       int      `json:"added"`
	Deleted     int      `json:"deleted"`
	HeadSynced  bool     `json:"head_synced"`
	HeadAdded   int      `json:"head_added"`
	HeadDeleted int      `json:"head_deleted"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

func printReport(w io.Writer, rep *sync.Report, asJSON bool) error {
	if asJSON {
		applied := rep.Applied
		if applied == nil {
			applied = []string{}
		}

		return printJSON(w, reportJSON{
			RunID:       rep.RunID,
			Created:     rep.Created,
			Fallback:    rep.Fallback,
			Baselines:   rep.Baselines,
			Applied:     applied,
			Skipped:     rep.Skipped,
			Added:       rep.Added,
			Deleted:     rep.Deleted,
			HeadSynced:  rep.HeadSynced,
			HeadAdded:   rep.HeadAdded,
			HeadDeleted: rep.HeadDeleted,
			ElapsedMS:   rep.Elapsed.Milliseconds(),
		})
	}

	if rep.Created {
		fmt.Fprintln(w, "Created target project")
	}

	if rep.Fallback {
		fmt.Fprintln(w, "Warning: no root baseline; baselines were ordered by creation time")
	}

	fmt.Fprintf(w, "Baselines: %d in lineage, %d applied, %d already on target\n",
		rep.Baselines, len(rep.Applied), rep.Skipped)

	if len(rep.Applied) > 0 {
		fmt.Fprintf(w, "Elements:  %s added or changed, %s deleted\n",
			formatCount(int64(rep.Added)), formatCount(int64(rep.Deleted)))
	}

	if rep.HeadSynced {
		fmt.Fprintf(w, "Head:      %s added or changed, %s deleted\n",
			formatCount(int64(rep.HeadAdded)), formatCount(int64(rep.HeadDeleted)))
	} else {
		fmt.Fprintln(w, "Head:      not synced")
	}

	fmt.Fprintf(w, "Run %s finished in %s\n", rep.RunID, formatElapsed(rep.Elapsed))

	return nil
}
