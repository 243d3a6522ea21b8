package user

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var newUser sdk.UserInput

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}
		u, err := users.CreateUser(cmd.Context(), newUser)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		pterm.Success.Printf("Created user %s (id %d)\n", u.Email, u.ID)
		return nil
	},
}

var updateSet []string

var updateCmd = &cobra.Command{
	Use:   "update <user-id>",
	Short: "Update user fields given as --set key=value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := cmdutil.ParseID("user", args[0])
		if err != nil {
			return err
		}
		updates, err := cmdutil.ParseAssignments(updateSet)
		if err != nil {
			return err
		}
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}
		u, err := users.UpdateUser(cmd.Context(), id, updates)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		pterm.Success.Printf("Updated user %s\n", u.Email)
		return nil
	},
}

var deletePermanent bool

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete a user (soft by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			if deletePermanent {
				if err := users.DeleteUserPermanently(ctx, id); err != nil {
					return fmt.Errorf("failed to delete user: %w", err)
				}
				pterm.Success.Printf("Permanently deleted user %d\n", id)
				return nil
			}
			if err := users.DeleteUser(ctx, id); err != nil {
				return fmt.Errorf("failed to delete user: %w", err)
			}
			pterm.Success.Printf("Deleted user %d\n", id)
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <user-id>",
	Short: "Restore a soft-deleted user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			u, err := users.RestoreUser(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to restore user: %w", err)
			}
			pterm.Success.Printf("Restored user %s\n", u.Email)
			return nil
		})
	},
}

var blockReason string

var blockCmd = &cobra.Command{
	Use:   "block <user-id>",
	Short: "Block a user from signing in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			if _, err := users.BlockUser(ctx, id, blockReason); err != nil {
				return fmt.Errorf("failed to block user: %w", err)
			}
			pterm.Success.Printf("Blocked user %d\n", id)
			return nil
		})
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <user-id>",
	Short: "Allow a blocked user to sign in again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			if _, err := users.UnblockUser(ctx, id); err != nil {
				return fmt.Errorf("failed to unblock user: %w", err)
			}
			pterm.Success.Printf("Unblocked user %d\n", id)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <user-id> <status>",
	Short: "Change a user's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			u, err := users.ChangeUserStatus(ctx, id, args[1])
			if err != nil {
				return fmt.Errorf("failed to change user status: %w", err)
			}
			pterm.Success.Printf("User %d is now %s\n", id, u.Status)
			return nil
		})
	},
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <user-id> <role>",
	Short: "Replace a user's primary role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			u, err := users.ChangeUserRole(ctx, id, args[1])
			if err != nil {
				return fmt.Errorf("failed to change user role: %w", err)
			}
			pterm.Success.Printf("User %d now holds %s\n", id, cmdutil.RoleNames(u.Roles))
			return nil
		})
	},
}

var welcomeCmd = &cobra.Command{
	Use:   "welcome <user-id>",
	Short: "Send the welcome email again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, users *sdk.UserDirectory, id int64) error {
			if err := users.SendWelcomeEmail(ctx, id); err != nil {
				return fmt.Errorf("failed to send welcome email: %w", err)
			}
			pterm.Success.Printf("Welcome email sent to user %d\n", id)
			return nil
		})
	},
}

// withUser parses the user id argument and resolves the directory before
// running fn.
func withUser(cmd *cobra.Command, rawID string, fn func(context.Context, *sdk.UserDirectory, int64) error) error {
	id, err := cmdutil.ParseID("user", rawID)
	if err != nil {
		return err
	}
	users, err := directory(cmd.Context())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), users, id)
}

func init() {
	createCmd.Flags().StringVar(&newUser.Email, "email", "", "Email address")
	createCmd.Flags().StringVar(&newUser.FirstName, "first-name", "", "First name")
	createCmd.Flags().StringVar(&newUser.LastName, "last-name", "", "Last name")
	createCmd.Flags().StringVar(&newUser.Username, "username", "", "Username")
	createCmd.Flags().StringVar(&newUser.Password, "password", "", "Initial password")
	createCmd.Flags().StringVar(&newUser.Status, "status", "", "Initial status")
	createCmd.Flags().Int64SliceVar(&newUser.RoleIDs, "role-id", nil, "Role to grant (repeatable)")

	updateCmd.Flags().StringArrayVar(&updateSet, "set", nil, "Field to update as key=value (repeatable)")

	deleteCmd.Flags().BoolVar(&deletePermanent, "permanent", false, "Delete the user permanently")

	blockCmd.Flags().StringVar(&blockReason, "reason", "", "Reason recorded with the block")
}
