package role

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var getOpts sdk.GetRoleOptions

var getCmd = &cobra.Command{
	Use:   "get <role-id>",
	Short: "Show a role with its permissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := cmdutil.ParseID("role", args[0])
		if err != nil {
			return err
		}
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		role, err := cache.GetRole(cmd.Context(), id, getOpts)
		if err != nil {
			return fmt.Errorf("failed to get role: %w", err)
		}

		pterm.DefaultSection.Printf("%s (%s)\n", role.Name, role.Slug)
		if role.Description != "" {
			fmt.Fprintln(cmd.OutOrStdout(), role.Description)
		}

		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "PERMISSION\tNAME\tMODULE")
		for _, p := range role.Permissions {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Slug, p.Name, p.Module)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(role.Users) > 0 {
			pterm.DefaultSection.Println("Users")
			w = cmdutil.NewTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tEMAIL")
			for _, u := range role.Users {
				fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.FullName(), u.Email)
			}
			return w.Flush()
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search roles by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		roles, err := cache.SearchRoles(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to search roles: %w", err)
		}
		if len(roles) == 0 {
			pterm.Info.Printf("No roles match %q\n", args[0])
			return nil
		}
		return printRoles(cmd.OutOrStdout(), roles)
	},
}

func init() {
	getCmd.Flags().BoolVar(&getOpts.ExcludePermissions, "no-permissions", false, "Omit the role's permissions")
	getCmd.Flags().BoolVar(&getOpts.IncludeUsers, "users", false, "Include the role's users")
	getCmd.Flags().BoolVar(&getOpts.ForceRefresh, "refresh", false, "Bypass the local cache")
}
