package role

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show role statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := cache.RoleStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get role stats: %w", err)
		}
		if err := cmdutil.PrintStats(cmd.OutOrStdout(), stats); err != nil {
			return err
		}

		top, err := cache.MostUsedRole(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get most used role: %w", err)
		}
		if top != nil {
			pterm.Info.Printf("Most used role: %s (%d users)\n", top.Name, top.UserCount)
		}
		return nil
	},
}
