package cmd

import (
	"fmt"
	"slices"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var whoamiCan string

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user and their effective permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := cmdutil.Provider(cmd)
		ctrl, err := provider.Controller(cmd.Context())
		if err != nil {
			return err
		}

		principal, err := ctrl.RefreshCurrentUser(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load current user: %w", err)
		}

		cache, err := provider.Cache(cmd.Context())
		if err != nil {
			return err
		}
		perms, err := cache.EffectivePermissions(cmd.Context(), principal.ID)
		if err != nil {
			return fmt.Errorf("failed to get effective permissions: %w", err)
		}

		if whoamiCan != "" {
			// The principal may carry permissions inline; otherwise the effective list decides.
			allowed := principal.HasPermission(whoamiCan) ||
				slices.ContainsFunc(perms, func(p sdk.Permission) bool { return p.Matches(whoamiCan) })
			if !allowed {
				return fmt.Errorf("%s: denied", whoamiCan)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: allowed\n", whoamiCan)
			return nil
		}

		pterm.DefaultSection.Println(principal.DisplayName())
		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tEMAIL\tROLES\tPERMISSIONS")
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", principal.ID, principal.Email,
			cmdutil.RoleNames(principal.Roles), cmdutil.PermissionNames(perms))
		return w.Flush()
	},
}

func init() {
	whoamiCmd.Flags().StringVar(&whoamiCan, "can", "", "Check a single permission by name or slug instead of listing them")
}
