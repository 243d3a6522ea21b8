package role

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a role",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := authzCache(cmd.Context())
		if err != nil {
			return err
		}
		role, err := cache.CreateRole(cmd.Context(), roleInputFromFlags(cmd))
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		pterm.Success.Printf("Created role %s (id %d)\n", role.Name, role.ID)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <role-id>",
	Short: "Update a role; only the given flags are changed",
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
		role, err := cache.UpdateRole(cmd.Context(), id, roleInputFromFlags(cmd))
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		pterm.Success.Printf("Updated role %s\n", role.Name)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <role-id>",
	Short: "Delete a role",
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
		if err := cache.DeleteRole(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		pterm.Success.Printf("Deleted role %d\n", id)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <role-id>",
	Short: "Restore a deleted role",
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
		role, err := cache.RestoreRole(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to restore role: %w", err)
		}
		pterm.Success.Printf("Restored role %s\n", role.Name)
		return nil
	},
}

var duplicateName string

var duplicateCmd = &cobra.Command{
	Use:   "duplicate <role-id>",
	Short: "Copy a role and its permissions under a new name",
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
		role, err := cache.DuplicateRole(cmd.Context(), id, duplicateName)
		if err != nil {
			return fmt.Errorf("failed to duplicate role: %w", err)
		}
		pterm.Success.Printf("Created role %s (id %d)\n", role.Name, role.ID)
		return nil
	},
}

// roleInputFromFlags copies only the flags the user set, so updates leave
// other attributes untouched.
func roleInputFromFlags(cmd *cobra.Command) sdk.RoleInput {
	var in sdk.RoleInput
	flags := cmd.Flags()
	in.Name, _ = flags.GetString("name")
	if flags.Changed("description") {
		v, _ := flags.GetString("description")
		in.Description = &v
	}
	if flags.Changed("color") {
		v, _ := flags.GetString("color")
		in.Color = &v
	}
	if flags.Changed("icon") {
		v, _ := flags.GetString("icon")
		in.Icon = &v
	}
	if flags.Changed("priority") {
		v, _ := flags.GetInt("priority")
		in.Priority = &v
	}
	in.Permissions, _ = flags.GetStringSlice("permission")
	return in
}

func addRoleFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Role name")
	cmd.Flags().String("description", "", "Role description")
	cmd.Flags().String("color", "", "Display color")
	cmd.Flags().String("icon", "", "Display icon")
	cmd.Flags().Int("priority", 0, "Ordering priority")
	cmd.Flags().StringSlice("permission", nil, "Permission slug to grant (repeatable)")
}

func init() {
	addRoleFlags(createCmd)
	_ = createCmd.MarkFlagRequired("name")
	addRoleFlags(updateCmd)

	duplicateCmd.Flags().StringVar(&duplicateName, "name", "", "Name of the copy")
	_ = duplicateCmd.MarkFlagRequired("name")
}
