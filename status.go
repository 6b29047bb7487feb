package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied baselines and recent sync runs of the target project",
		Long: `Read the local ledger of the target project and show which baselines
have been applied, the most recent runs, and whether a sync is running now.
Reads local state only; neither server is contacted.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().Int("runs", 5, "number of recent runs to show")

	return cmd
}

// projectStatus is everything status prints.
type projectStatus struct {
	Project    string                 `json:"project"`
	RunningPID int                    `json:"running_pid,omitempty"`
	Runs       []runStatusEntry       `json:"runs"`
	Applied    []appliedBaselineEntry `json:"applied_baselines"`
}

type runStatusEntry struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Ref         string     `json:"ref"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Fallback    bool       `json:"fallback,omitempty"`
	Applied     int        `json:"applied"`
	Skipped     int        `json:"skipped"`
	HeadAdded   int        `json:"head_added"`
	HeadDeleted int        `json:"head_deleted"`
	Error       string     `json:"error,omitempty"`
}

type appliedBaselineEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TagID     string    `json:"tag_id"`
	Added     int       `json:"added"`
	Deleted   int       `json:"deleted"`
	AppliedAt time.Time `json:"applied_at"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.Target.Project == "" {
		return errors.New("target.project: required (or pass --target-project)")
	}

	path := cc.Cfg.LedgerPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("No sync recorded for project %s. Run 'dngsync sync' to start.\n", cc.Cfg.Target.Project)
		return nil
	}

	ledger, err := sync.OpenLedger(cmd.Context(), path, cc.Logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	limit, _ := cmd.Flags().GetInt("runs")

	st, err := loadStatus(cmd.Context(), ledger, cc.Cfg.Target.Project, limit)
	if err != nil {
		return err
	}

	st.RunningPID = runningSyncPID(cc.Cfg.ProjectDir())

	if cc.Flags.JSON {
		return printJSON(os.Stdout, st)
	}

	printStatusText(os.Stdout, st)

	return nil
}

// loadStatus reads the recent runs and every applied baseline.
func loadStatus(ctx context.Context, ledger *sync.Ledger, project string, limit int) (projectStatus, error) {
	st := projectStatus{
		Project: project,
		Runs:    []runStatusEntry{},
		Applied: []appliedBaselineEntry{},
	}

	runs, err := ledger.Runs(ctx, limit)
	if err != nil {
		return st, err
	}

	for _, r := range runs {
		rs := runStatusEntry{
			ID:          r.ID,
			Status:      r.Status,
			Ref:         r.Ref,
			StartedAt:   r.StartedAt,
			Fallback:    r.Fallback,
			Applied:     r.Applied,
			Skipped:     r.Skipped,
			HeadAdded:   r.HeadAdded,
			HeadDeleted: r.HeadDeleted,
			Error:       r.ErrorMsg,
		}

		if !r.FinishedAt.IsZero() {
			finished := r.FinishedAt
			rs.FinishedAt = &finished
		}

		st.Runs = append(st.Runs, rs)
	}

	applied, err := ledger.AppliedBaselines(ctx)
	if err != nil {
		return st, err
	}

	for _, a := range applied {
		st.Applied = append(st.Applied, appliedBaselineEntry{
			ID:        a.BaselineID,
			Title:     a.Title,
			TagID:     a.TagID,
			Added:     a.Added,
			Deleted:   a.Deleted,
			AppliedAt: a.AppliedAt,
		})
	}

	return st, nil
}

func printStatusText(w io.Writer, st projectStatus) {
	fmt.Fprintf(w, "Project: %s\n", st.Project)

	if st.RunningPID != 0 {
		fmt.Fprintf(w, "Sync in progress (PID %d)\n", st.RunningPID)
	}

	fmt.Fprintln(w)

	if len(st.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
	} else {
		rows := make([][]string, 0, len(st.Runs))
		for _, r := range st.Runs {
			rows = append(rows, []string{
				r.ID[:min(8, len(r.ID))],
				r.Status,
				formatWhen(r.StartedAt),
				fmt.Sprint(r.Applied),
				fmt.Sprintf("+%d/-%d", r.HeadAdded, r.HeadDeleted),
				r.Error,
			})
		}

		printTable(w, []string{"RUN", "STATUS", "STARTED", "APPLIED", "HEAD", "ERROR"}, rows)
	}

	fmt.Fprintln(w)

	if len(st.Applied) == 0 {
		fmt.Fprintln(w, "No baselines applied")
		return
	}

	rows := make([][]string, 0, len(st.Applied))
	for i, a := range st.Applied {
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			a.ID,
			a.Title,
			fmt.Sprintf("+%s/-%s", formatCount(int64(a.Added)), formatCount(int64(a.Deleted))),
			formatWhen(a.AppliedAt),
		})
	}

	fmt.Fprintf(w, "Applied baselines (%d)\n", len(st.Applied))
	printTable(w, []string{"#", "BASELINE", "TITLE", "ELEMENTS", "APPLIED"}, rows)
}
