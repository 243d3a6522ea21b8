package role

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var assignCmd = &cobra.Command{
	Use:   "assign <user-id> <role-id>...",
	Short: "Grant one or more roles to a user",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, roleIDs, err := parseAssignment(args)
		if err != nil {
			return err
		}
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}

		if len(roleIDs) == 1 {
			err = cache.AssignRole(cmd.Context(), userID, roleIDs[0])
		} else {
			err = cache.AssignRoles(cmd.Context(), userID, roleIDs)
		}
		if err != nil {
			return fmt.Errorf("failed to assign roles: %w", err)
		}
		pterm.Success.Printf("Assigned %d role(s) to user %d\n", len(roleIDs), userID)
		return nil
	},
}

var unassignCmd = &cobra.Command{
	Use:   "unassign <user-id> <role-id>",
	Short: "Remove a role from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, roleIDs, err := parseAssignment(args)
		if err != nil {
			return err
		}
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		if err := cache.UnassignRole(cmd.Context(), userID, roleIDs[0]); err != nil {
			return fmt.Errorf("failed to unassign role: %w", err)
		}
		pterm.Success.Printf("Removed role %d from user %d\n", roleIDs[0], userID)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <user-id> [role-id...]",
	Short: "Replace a user's roles with exactly the given set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, roleIDs, err := parseAssignment(args)
		if err != nil {
			return err
		}
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		if err := cache.SyncUserRoles(cmd.Context(), userID, roleIDs); err != nil {
			return fmt.Errorf("failed to sync roles: %w", err)
		}
		pterm.Success.Printf("User %d now holds %d role(s)\n", userID, len(roleIDs))
		return nil
	},
}

func parseAssignment(args []string) (int64, []int64, error) {
	userID, err := cmdutil.ParseID("user", args[0])
	if err != nil {
		return 0, nil, err
	}
	roleIDs, err := cmdutil.ParseIDs("role", args[1:])
	if err != nil {
		return 0, nil, err
	}
	return userID, roleIDs, nil
}
