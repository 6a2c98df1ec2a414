package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wstermayne/espmerge/internal/diff"
	"github.com/wstermayne/espmerge/internal/loadorder"
	"github.com/wstermayne/espmerge/internal/merge"
	"github.com/wstermayne/espmerge/internal/record"
	"github.com/wstermayne/espmerge/internal/report"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	Mode              string
	DryRun            bool
	Strict            bool
	DebugRetention    bool
	Reindex           bool
	NoCompare         bool
	RestrictiveFilter bool
	VerboseAllRefs    bool
	IgnoreTags        []string
	Author            string
	Description       string
	Workers           int
}

// NewMergeCommand creates the merge command: runs every target from
// the manifest through the merge engine and the write gate.
func NewMergeCommand(root *RootOptions, defaultWorkers int) *cobra.Command {
	opts := &MergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge all configured targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.Manifest == "" {
				return fmt.Errorf("no manifest: pass --manifest or set ESPMERGE_MANIFEST")
			}
			return runMerge(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "override merge mode for all targets (keep|keep-without-lands|replace|complete-replace|grass)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "classify and report but never write")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat missing references as fatal")
	cmd.Flags().BoolVar(&opts.DebugRetention, "debug-retention", false, "retain and emit full record history")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "renumber directly-placed references")
	cmd.Flags().BoolVar(&opts.NoCompare, "no-compare", false, "skip comparison against previous output")
	cmd.Flags().BoolVar(&opts.RestrictiveFilter, "restrictive-filter", false, "drop references placed and deleted by the same plugin")
	cmd.Flags().BoolVar(&opts.VerboseAllRefs, "verbose-all-refs", false, "log every ignored missing reference, not one per master")
	cmd.Flags().StringSliceVar(&opts.IgnoreTags, "ignore-tags", nil, "unknown record tags to skip while decoding")
	cmd.Flags().StringVar(&opts.Author, "author", "", "header author text")
	cmd.Flags().StringVar(&opts.Description, "description", "", "header description text")
	cmd.Flags().IntVar(&opts.Workers, "workers", defaultWorkers, "worker pool size for parallel passes")

	return cmd
}

func runMerge(cmd *cobra.Command, root *RootOptions, opts *MergeOptions) error {
	manifest, err := loadorder.Load(root.Manifest)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	ignoreTags, err := parseTags(opts.IgnoreTags)
	if err != nil {
		return err
	}

	reporter := report.New(slog.Default(), opts.VerboseAllRefs)

	for _, target := range manifest.OrderedTargets() {
		reporter.Reset()

		mode, err := targetMode(target, opts.Mode)
		if err != nil {
			return err
		}

		merger := merge.New(reporter, merge.Options{
			Mode:              mode,
			DebugRetention:    opts.DebugRetention,
			Strict:            opts.Strict,
			Reindex:           opts.Reindex,
			RestrictiveFilter: opts.RestrictiveFilter,
			IgnoreTags:        ignoreTags,
			Author:            opts.Author,
			Description:       opts.Description,
			Workers:           opts.Workers,
		})

		plugins, err := loadPlugins(manifest, target, ignoreTags, reporter)
		if err != nil {
			return err
		}

		result, err := merger.MergeTarget(cmd.Context(), target.Name, plugins)
		if err != nil {
			return err
		}

		gate := diff.Gate{
			NoCompare:     opts.NoCompare,
			DryRun:        opts.DryRun,
			DecodeOptions: record.DecodeOptions{IgnoreTags: ignoreTags},
		}
		decision, err := gate.Apply(target.Output, result.Records)
		if err != nil {
			return fmt.Errorf("write %s: %w", target.Output, err)
		}

		reporter.Summary(target.Name, result, decision.Class.String(), decision.Written)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", target.Name, decision.Class)
		if decision.Written {
			fmt.Fprintf(cmd.OutOrStdout(), ", wrote %s", target.Output)
		} else if opts.DryRun {
			fmt.Fprint(cmd.OutOrStdout(), " (dry run)")
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}

// loadPlugins resolves, pre-scans, and decodes a target's ordered
// plugin list.
func loadPlugins(manifest *loadorder.Manifest, target loadorder.Target, ignoreTags []record.Tag, reporter *report.Reporter) ([]merge.Plugin, error) {
	paths := make([]string, len(target.Plugins))
	for i, p := range target.Plugins {
		resolved, err := manifest.ResolvePlugin(p)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", target.Name, err)
		}
		paths[i] = resolved
	}
	if err := loadorder.Prescan(paths, len(paths)); err != nil {
		return nil, fmt.Errorf("target %s: %w", target.Name, err)
	}

	plugins := make([]merge.Plugin, len(paths))
	for i, path := range paths {
		name := target.Plugins[i]
		recs, err := record.LoadFile(path, record.DecodeOptions{
			IgnoreTags: ignoreTags,
			OnSkip: func(tag record.Tag, offset int64) {
				reporter.SkippedTag(name, tag, offset)
			},
		})
		if err != nil {
			return nil, err
		}
		plugins[i] = merge.Plugin{Name: name, Records: recs}
	}
	return plugins, nil
}

func targetMode(target loadorder.Target, override string) (merge.Mode, error) {
	name := target.Mode
	if override != "" {
		name = override
	}
	if name == "" {
		return merge.ModeKeep, nil
	}
	mode, err := merge.ParseMode(name)
	if err != nil {
		return 0, fmt.Errorf("target %s: %w", target.Name, err)
	}
	return mode, nil
}

func parseTags(raw []string) ([]record.Tag, error) {
	var tags []record.Tag
	for _, s := range raw {
		tag, err := record.ParseTag([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("--ignore-tags %q: %w", s, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
