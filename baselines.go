package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/lineage"
	"github.com/openmbee/dngsync/internal/oslc"
)

const baselinesFileName = "baselines.json"

func newBaselinesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Discover source baselines and write their lineage to baselines.json",
		Long: `List every baseline and stream of the source project, reconstruct the
baseline lineage, and write it as {histories, map} JSON.

The file goes to <data_dir>/<target project>/baselines.json unless
--output is given. Nothing is sent to the target server.`,
		Args: cobra.NoArgs,
		RunE: runBaselines,
	}

	cmd.Flags().StringP("output", "o", "", "output file (- for stdout)")

	return cmd
}

// baselinesFile is the layout of baselines.json: ordered baseline URIs per
// stream and every baseline keyed by URI.
type baselinesFile struct {
	Histories map[string][]string         `json:"histories"`
	Fallback  bool                        `json:"fallback,omitempty"`
	Map       map[string]lineage.Baseline `json:"map"`
}

func runBaselines(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	client, project, err := openSource(ctx, cc)
	if err != nil {
		return err
	}

	component, err := project.Component()
	if err != nil {
		return err
	}

	cfgs, err := client.Configurations(ctx, component)
	if err != nil {
		return err
	}

	bf, err := buildBaselinesFile(cfgs, cc.Logger)
	if err != nil {
		return err
	}

	cc.Statusf("%d baselines; %d streams; %d deleted streams\n",
		len(cfgs.Baselines), len(cfgs.Streams), cfgs.Deleted)

	output, _ := cmd.Flags().GetString("output")
	if output == "-" {
		return printJSON(os.Stdout, bf)
	}

	if output == "" {
		output = filepath.Join(cc.Cfg.ProjectDir(), baselinesFileName)
	}

	if err := writeFileAtomic(output, func(w io.Writer) error { return printJSON(w, bf) }); err != nil {
		return err
	}

	if !cc.Flags.Quiet {
		printHistories(os.Stdout, bf)
	}

	cc.Statusf("Wrote %s\n", output)

	return nil
}

// buildBaselinesFile orders the discovered baselines. Structural lineage
// errors are returned as-is.
func buildBaselinesFile(cfgs *oslc.Configurations, logger *slog.Logger) (baselinesFile, error) {
	lin, err := lineage.Reconstruct(cfgs.Baselines, cfgs.Streams, logger)
	if err != nil {
		return baselinesFile{}, err
	}

	m := cfgs.Baselines
	if m == nil {
		m = map[string]lineage.Baseline{}
	}

	return baselinesFile{Histories: lin.Histories, Fallback: lin.Fallback, Map: m}, nil
}

// printHistories lists each history as a table in replay order.
func printHistories(w io.Writer, bf baselinesFile) {
	streams := make([]string, 0, len(bf.Histories))
	for s := range bf.Histories {
		streams = append(streams, s)
	}

	sort.Strings(streams)

	for _, s := range streams {
		label := s
		if label == "" {
			label = "(no root, creation order)"
		}

		fmt.Fprintf(w, "Stream %s\n", label)

		rows := make([][]string, 0, len(bf.Histories[s]))
		for i, uri := range bf.Histories[s] {
			b := bf.Map[uri]
			rows = append(rows, []string{fmt.Sprint(i + 1), b.ID, b.Created.UTC().Format("2006-01-02 15:04"), b.Title})
		}

		printTable(w, []string{"#", "ID", "CREATED", "TITLE"}, rows)
		fmt.Fprintln(w)
	}
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmp := f.Name()

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", path, err)
	}

	return nil
}
