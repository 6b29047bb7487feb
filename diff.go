package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/delta"
)

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Compare two element snapshot files",
		Long: `Compute the delta that turns snapshot OLD into snapshot NEW. OLD is read
into memory and NEW is streamed. Prints counts, or the delta itself with
--json.`,
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runDiff,
	}

	cmd.Flags().String("root-id", "", "element id excluded from the comparison (the project root)")

	return cmd
}

// diffJSON is the --json form of a delta. Records are emitted as stored.
type diffJSON struct {
	Added   []delta.Record `json:"added"`
	Deleted []string       `json:"deleted"`
}

func runDiff(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	rootID, _ := cmd.Flags().GetString("root-id")

	d, old, err := diffFiles(cmd.Context(), args[0], args[1], rootID)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := diffJSON{Added: d.Added, Deleted: d.Deleted}
		if out.Added == nil {
			out.Added = []delta.Record{}
		}

		if out.Deleted == nil {
			out.Deleted = []string{}
		}

		return printJSON(os.Stdout, out)
	}

	printDiffSummary(os.Stdout, d, old)

	return nil
}

// diffFiles returns the delta between two snapshot files and the old
// snapshot, which the summary needs to tell inserts from changes.
func diffFiles(ctx context.Context, oldPath, newPath, rootID string) (delta.Delta, delta.Snapshot, error) {
	of, err := os.Open(oldPath)
	if err != nil {
		return delta.Delta{}, nil, err
	}
	defer of.Close()

	old, err := delta.ReadSnapshot(bufio.NewReader(of))
	if err != nil {
		return delta.Delta{}, nil, fmt.Errorf("reading %s: %w", oldPath, err)
	}

	nf, err := os.Open(newPath)
	if err != nil {
		return delta.Delta{}, nil, err
	}
	defer nf.Close()

	d, err := delta.StreamDiff(ctx, old, delta.NewJSONRecordSource(bufio.NewReader(nf)), rootID)
	if err != nil {
		return delta.Delta{}, nil, fmt.Errorf("diffing %s: %w", newPath, err)
	}

	return d, old, nil
}

func printDiffSummary(w io.Writer, d delta.Delta, old delta.Snapshot) {
	var changed int

	for _, rec := range d.Added {
		if _, ok := old[rec.ID()]; ok {
			changed++
		}
	}

	inserted := len(d.Added) - changed

	if d.Empty() {
		fmt.Fprintln(w, "No differences")
		return
	}

	fmt.Fprintf(w, "Inserted: %s\n", formatCount(int64(inserted)))
	fmt.Fprintf(w, "Changed:  %s\n", formatCount(int64(changed)))
	fmt.Fprintf(w, "Deleted:  %s\n", formatCount(int64(len(d.Deleted))))
}
