// Package cli wires the espmerge command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/wstermayne/espmerge/internal/report"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Quiet   bool

	// Manifest is the target manifest path; the ESPMERGE_MANIFEST
	// environment variable supplies the default.
	Manifest string

	// Level is derived from the verbosity flags during pre-run.
	Level report.Level
}

// envDefaults are the environment-variable defaults applied before
// flag parsing.
type envDefaults struct {
	Manifest string `env:"ESPMERGE_MANIFEST"`
	Workers  int    `env:"ESPMERGE_WORKERS"`
}

// NewRootCommand creates the root command for the espmerge CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	var defaults envDefaults
	// Environment parsing failures surface at flag validation time;
	// unset variables are simply absent defaults.
	_ = env.Parse(&defaults)
	opts.Manifest = defaults.Manifest

	cmd := &cobra.Command{
		Use:   "espmerge",
		Short: "espmerge merges plugin files into consolidated outputs",
		Long: "espmerge folds an ordered list of plugin files into one output per\n" +
			"configured target, deduplicating records, resolving cross-plugin\n" +
			"references, and rewriting the output only on significant change.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Verbose && opts.Quiet {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			opts.Level = report.Normal
			if opts.Verbose {
				opts.Level = report.Verbose
			}
			if opts.Quiet {
				opts.Level = report.Quiet
			}
			slog.SetDefault(report.NewLogger(os.Stderr, opts.Level))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "warnings and errors only")
	cmd.PersistentFlags().StringVar(&opts.Manifest, "manifest", opts.Manifest, "target manifest path")

	cmd.AddCommand(NewMergeCommand(opts, defaults.Workers))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
