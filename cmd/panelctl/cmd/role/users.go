package role

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var usersPage sdk.PageParams

var usersCmd = &cobra.Command{
	Use:   "users <role-id>",
	Short: "List the users holding a role",
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
		page, err := cache.RoleUsers(cmd.Context(), id, usersPage)
		if err != nil {
			return fmt.Errorf("failed to list role users: %w", err)
		}
		if len(page.Data) == 0 {
			pterm.Info.Println("No users hold this role")
			return nil
		}

		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS")
		for _, u := range page.Data {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", u.ID, u.FullName(), u.Email, u.Status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d users\n", len(page.Data), page.Total)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <user-id>",
	Short: "Inspect a user's roles and effective permissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := cmdutil.ParseID("user", args[0])
		if err != nil {
			return err
		}
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		roles, err := cache.UserRoles(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("failed to get user roles: %w", err)
		}
		perms, err := cache.EffectivePermissions(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("failed to get effective permissions: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User: %d\n", userID)
		fmt.Fprintln(out, "Roles:")
		for _, r := range roles {
			fmt.Fprintf(out, "  - %s\n", r.Name)
		}
		fmt.Fprintln(out, "Permissions:")
		for _, p := range perms {
			fmt.Fprintf(out, "  - %s\n", p.Slug)
		}
		return nil
	},
}

func init() {
	usersCmd.Flags().IntVar(&usersPage.Page, "page", 1, "Page number")
	usersCmd.Flags().IntVar(&usersPage.Limit, "limit", 10, "Users per page")
}
