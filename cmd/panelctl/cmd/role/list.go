package role

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var listOpts sdk.ListRolesOptions

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		roles, err := cache.ListRoles(cmd.Context(), listOpts)
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}

		if len(roles) == 0 {
			pterm.Info.Println("No roles found")
			return nil
		}
		return printRoles(cmd.OutOrStdout(), roles)
	},
}

func printRoles(out io.Writer, roles []sdk.Role) error {
	w := cmdutil.NewTable(out)
	fmt.Fprintln(w, "ID\tNAME\tSLUG\tUSERS\tPERMISSIONS")
	for _, r := range roles {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Slug, r.UserCount, cmdutil.PermissionNames(r.Permissions))
	}
	return w.Flush()
}

func init() {
	listCmd.Flags().BoolVar(&listOpts.IncludePermissions, "permissions", false, "Include each role's permissions")
	listCmd.Flags().BoolVar(&listOpts.IncludeUsers, "users", false, "Include each role's users")
	listCmd.Flags().StringVar(&listOpts.Status, "status", "", "Filter by status (active, inactive, deleted)")
	listCmd.Flags().BoolVar(&listOpts.ForceRefresh, "refresh", false, "Bypass the local cache")
}
