package role

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List and edit role permissions",
}

var permissionsRefresh bool

var permissionsListCmd = &cobra.Command{
	Use:   "list [role-id]",
	Short: "List every permission, or the permissions of one role",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		var perms []sdk.Permission
		if len(args) == 1 {
			id, err := cmdutil.ParseID("role", args[0])
			if err != nil {
				return err
			}
			perms, err = cache.RolePermissions(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get role permissions: %w", err)
			}
		} else {
			perms, err = cache.ListPermissions(cmd.Context(), permissionsRefresh)
			if err != nil {
				return fmt.Errorf("failed to list permissions: %w", err)
			}
		}

		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tSLUG\tNAME\tMODULE")
		for _, p := range perms {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Slug, p.Name, p.Module)
		}
		return w.Flush()
	},
}

type permissionEdit func(cache *sdk.AuthorizationCache, ctx context.Context, roleID int64, perms []string) error

func newPermissionEditCmd(use, short, verb string, edit permissionEdit) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <role-id> <permission>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmdutil.ParseID("role", args[0])
			if err != nil {
				return err
			}
			cache, err := authzCache(cmd.Context())
			if err != nil {
				return err
			}
			if err := edit(cache, cmd.Context(), id, args[1:]); err != nil {
				return fmt.Errorf("failed to %s permissions: %w", use, err)
			}
			pterm.Success.Printf("%s %d permission(s) on role %d\n", verb, len(args)-1, id)
			return nil
		},
	}
}

func init() {
	permissionsListCmd.Flags().BoolVar(&permissionsRefresh, "refresh", false, "Bypass the local cache")

	permissionsCmd.AddCommand(permissionsListCmd)
	permissionsCmd.AddCommand(newPermissionEditCmd("set", "Replace a role's permissions", "Set",
		(*sdk.AuthorizationCache).SetPermissions))
	permissionsCmd.AddCommand(newPermissionEditCmd("add", "Grant permissions to a role", "Added",
		(*sdk.AuthorizationCache).AddPermissions))
	permissionsCmd.AddCommand(newPermissionEditCmd("remove", "Revoke permissions from a role", "Removed",
		(*sdk.AuthorizationCache).RemovePermissions))
}
