package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newThumbnailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbnails",
		Short: "List videos and their thumbnails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := newClient(newLogger()).ListThumbnails(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VIDEO ID\tNAME\tTHUMBNAIL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.VideoID, e.VideoName, e.ThumbnailURL)
			}
			return tw.Flush()
		},
	}
}
