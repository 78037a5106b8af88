package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the store's tables or indexes",
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
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store ready\n", cfg.Store.Backend)
			return nil
		},
	}
}
