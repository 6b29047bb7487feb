package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openmbee/dngsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that work on local files only and
// never load the configuration.
const skipConfigAnnotation = "skipConfig"

// logFileMaxSizeMB caps a single rotated log file.
const logFileMaxSizeMB = 100

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath    string
	DataDir       string
	SourceProject string
	TargetProject string
	MetricsFile   string
	JSON          bool
	Verbose       bool
	Quiet         bool
}

// CLIContext carries everything a command needs after the root pre-run:
// the resolved config, the logger, and an optional metrics registry.
// Cfg is nil for commands annotated with skipConfigAnnotation.
type CLIContext struct {
	Flags    CLIFlags
	Cfg      *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by the root pre-run, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext is cliContextFrom for commands that always run after the
// root pre-run. A nil context there is a wiring bug.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "dngsync",
		Short: "Replay requirements baselines onto a model server",
		Long: `Migrate the baseline history of a DOORS Next project into an MMS
project: every baseline becomes a delta on the target ref followed by a
tag, and the live stream head is synced last.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.DataDir, "data-dir", "", "state directory (snapshots and ledger)")
	pf.StringVar(&flags.SourceProject, "source-project", "", "source project title")
	pf.StringVar(&flags.TargetProject, "target-project", "", "target project id")
	pf.StringVar(&flags.MetricsFile, "metrics-file", "", "write crawl metrics in Prometheus text format to this file")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newBaselinesCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newDiffCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupCLIContext resolves the configuration, builds the logger and stores
// both on the command context.
func setupCLIContext(cmd *cobra.Command, flags *CLIFlags) error {
	cc := &CLIContext{Flags: *flags}

	if flags.MetricsFile != "" {
		cc.Registry = prometheus.NewRegistry()
	}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = bootstrapLogger(flags, os.Stderr)
	} else {
		cfg, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := buildLogger(cfg, flags, os.Stderr)
		if err != nil {
			return err
		}

		cc.Cfg = cfg
		cc.Logger = logger
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// cliOverrides collects the flags the user explicitly set. Subcommand
// flags are looked up by name; commands that lack one simply never report
// it as changed.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	fs := cmd.Flags()

	var cli config.CLIOverrides

	cli.ConfigPath, _ = fs.GetString("config")

	if fs.Changed("data-dir") {
		v, _ := fs.GetString("data-dir")
		cli.DataDir = &v
	}

	if fs.Changed("source-project") {
		v, _ := fs.GetString("source-project")
		cli.SourceProject = &v
	}

	if fs.Changed("target-project") {
		v, _ := fs.GetString("target-project")
		cli.TargetProject = &v
	}

	if fs.Changed("depth") {
		v, _ := fs.GetInt("depth")
		cli.Depth = &v
	}

	if fs.Changed("concurrency") {
		v, _ := fs.GetInt("concurrency")
		cli.Concurrency = &v
	}

	if fs.Changed("reset") {
		v, _ := fs.GetBool("reset")
		cli.Reset = &v
	}

	if fs.Changed("skip-head") {
		v, _ := fs.GetBool("skip-head")
		cli.SkipHead = &v
	}

	if fs.Changed("module") {
		cli.Modules, _ = fs.GetStringSlice("module")
	}

	if fs.Changed("folder") {
		cli.Folders, _ = fs.GetStringSlice("folder")
	}

	return cli
}

// logLevel maps the config level and CLI flags to a slog level. CLI flags
// win over the config file.
func logLevel(configured string, flags *CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch configured {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// bootstrapLogger serves commands that run without configuration.
func bootstrapLogger(flags *CLIFlags, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel("warn", flags)}))
}

// buildLogger creates the logger described by the logging section. With
// log_format "auto" a terminal gets text and anything else gets JSON. A
// log file, when set, receives the same records and is rotated by age.
func buildLogger(cfg *config.Config, flags *CLIFlags, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: logLevel(cfg.Logging.LogLevel, flags)}

	format := cfg.Logging.LogFormat
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}

	out := w

	if cfg.Logging.LogFile != "" {
		out = io.MultiWriter(w, &lumberjack.Logger{
			Filename: cfg.Logging.LogFile,
			MaxSize:  logFileMaxSizeMB,
			MaxAge:   cfg.Logging.LogRetentionDays,
			Compress: true,
		})
	}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeMetrics dumps the registry to the --metrics-file path, for the node
// exporter textfile collector. No-op without the flag.
func (cc *CLIContext) writeMetrics() {
	if cc.Registry == nil {
		return
	}

	if err := prometheus.WriteToTextfile(cc.Flags.MetricsFile, cc.Registry); err != nil {
		cc.Logger.Warn("writing metrics file",
			slog.String("path", cc.Flags.MetricsFile),
			slog.String("error", err.Error()),
		)
	}
}

// exitCode maps an error to the process exit status: 2 for a sync lock
// held elsewhere, 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, errLocked) {
		return 2
	}

	return 1
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}
