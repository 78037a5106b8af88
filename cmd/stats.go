package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the size of each collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := fromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			cfg.Store.AutoMigrate = false
			a, err := newApp(cmd.Context(), cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer a.Close()

			counts, err := a.Counts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			}
			names := cfg.Store.Collections
			fmt.Fprintf(out, "%s: %d\n", names.Pages, counts.Pages)
			fmt.Fprintf(out, "%s: %d\n", names.Images, counts.Images)
			fmt.Fprintf(out, "%s: %d\n", names.PageTokens, counts.PageTokens)
			fmt.Fprintf(out, "%s: %d\n", names.ImageTokens, counts.ImageTokens)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print counts as JSON")
	return cmd
}
