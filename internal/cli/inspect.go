package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wstermayne/espmerge/internal/record"
)

// NewInspectCommand creates the inspect command: a per-kind record
// summary of one plugin file.
func NewInspectCommand(root *RootOptions) *cobra.Command {
	var ignoreTags []string

	cmd := &cobra.Command{
		Use:   "inspect <plugin>",
		Short: "Summarize a plugin's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(ignoreTags)
			if err != nil {
				return err
			}
			recs, err := record.LoadFile(args[0], record.DecodeOptions{IgnoreTags: tags})
			if err != nil {
				return err
			}

			header, err := record.DecodeHeader(&recs[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: version %.1f, %d records\n", args[0], header.Version, len(recs)-1)
			if header.Author != "" {
				fmt.Fprintf(out, "author: %s\n", header.Author)
			}
			for i, m := range header.Masters {
				fmt.Fprintf(out, "master %d: %s (%d bytes)\n", i+1, m.Name, m.Size)
			}

			counts := make(map[record.Tag]int)
			for _, r := range recs[1:] {
				counts[r.Tag]++
			}
			for _, tag := range record.EmitOrder {
				if n := counts[tag]; n > 0 {
					fmt.Fprintf(out, "%s %6d\n", tag, n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&ignoreTags, "ignore-tags", nil, "unknown record tags to skip while decoding")
	return cmd
}
