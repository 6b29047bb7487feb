package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/openmbee/dngsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			// Passwords carry toml:"-" but not json:"-"; JSON output masks them.
			if cc.Flags.JSON {
				masked := *cc.Cfg
				masked.Source.Password = maskSecret(masked.Source.Password)
				masked.Target.Password = maskSecret(masked.Target.Password)

				return printJSON(os.Stdout, masked)
			}

			return config.RenderEffective(cc.Cfg, os.Stdout)
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the default config, data and cache directories",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(os.Stdout, map[string]string{
					"config": config.DefaultConfigPath(),
					"data":   config.DefaultDataDir(),
					"cache":  config.DefaultCacheDir(),
				})
			}

			printTable(os.Stdout, []string{"KIND", "PATH"}, [][]string{
				{"config", config.DefaultConfigPath()},
				{"data", config.DefaultDataDir()},
				{"cache", config.DefaultCacheDir()},
			})

			return nil
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}
