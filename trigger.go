package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/config"
	"github.com/openmbee/dngsync/internal/mms"
)

const jobIncQuery = "incquery"

func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger [ORG/PROJECT]",
		Short: "Run a post-sync job for the target project",
		Long: `Run a named job after a sync. The only job is "incquery": refresh the
query server's model repositories, load the newest commit of the target ref
into the persistent, in-memory, Elasticsearch and Neptune indexes, then
delete the older commit compartments of that ref.

ORG/PROJECT defaults to target.org and target.project.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTrigger,
	}

	cmd.Flags().String("job", "", "job to run ("+jobIncQuery+")")
	cmd.Flags().String("server", "", "query server URL (overrides target.index_server)")
	_ = cmd.MarkFlagRequired("job")

	return cmd
}

type triggerJSON struct {
	Job         string   `json:"job"`
	Org         string   `json:"org"`
	Project     string   `json:"project"`
	Compartment string   `json:"compartment"`
	Loaded      []string `json:"loaded"`
	Deleted     []string `json:"deleted"`
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	job, _ := cmd.Flags().GetString("job")
	if !strings.EqualFold(job, jobIncQuery) {
		return fmt.Errorf("no such job %q (available: %s)", job, jobIncQuery)
	}

	org, project, err := triggerTarget(cfg, args)
	if err != nil {
		return err
	}

	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = cfg.Target.IndexServer
	}

	if server == "" {
		return errors.New("target.index_server: required (or pass --server)")
	}

	if cfg.Target.User == "" {
		return errors.New("target.user: required (or set " + config.EnvTargetUser + ")")
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}

	ic, err := mms.NewIndexClient(server, httpClient,
		mms.Credentials{Username: cfg.Target.User, Password: cfg.Target.Password},
		userAgent(cfg), cc.Logger)
	if err != nil {
		return err
	}

	cc.Statusf("Re-indexing %s/%s on %s...\n", org, project, server)

	res, err := ic.Reindex(ctx, org, project, cfg.Target.Ref)
	if err != nil {
		return err
	}

	return printTrigger(os.Stdout, org, project, res, cc.Flags.JSON)
}

// triggerTarget resolves the org and project from an ORG/PROJECT argument
// or the target config.
func triggerTarget(cfg *config.Config, args []string) (string, string, error) {
	if len(args) == 1 {
		org, project, ok := strings.Cut(args[0], "/")
		if !ok || org == "" || project == "" || strings.Contains(project, "/") {
			return "", "", fmt.Errorf("invalid target %q: want ORG/PROJECT", args[0])
		}

		return org, project, nil
	}

	if cfg.Target.Org == "" || cfg.Target.Project == "" {
		return "", "", errors.New("target.org and target.project: required (or pass ORG/PROJECT)")
	}

	return cfg.Target.Org, cfg.Target.Project, nil
}

func printTrigger(w io.Writer, org, project string, res *mms.ReindexResult, asJSON bool) error {
	if asJSON {
		out := triggerJSON{
			Job:         jobIncQuery,
			Org:         org,
			Project:     project,
			Compartment: res.Compartment,
			Loaded:      make([]string, 0, len(res.Loaded)),
			Deleted:     append([]string{}, res.Deleted...),
		}

		for _, idx := range res.Loaded {
			out.Loaded = append(out.Loaded, string(idx))
		}

		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Compartment: %s\n", res.Compartment)
	fmt.Fprintf(w, "Loaded into: %d indexes\n", len(res.Loaded))
	fmt.Fprintf(w, "Deleted:     %d old compartments\n", len(res.Deleted))

	for _, c := range res.Deleted {
		fmt.Fprintf(w, "  %s\n", c)
	}

	return nil
}
