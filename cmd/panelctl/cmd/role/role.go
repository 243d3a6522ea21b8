package role

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/cmd/panelctl/internal/config"
	"github.com/terraconstructs/panel/pkg/sdk"
)

// RoleCmd is the parent command for role operations
var RoleCmd = &cobra.Command{
	Use:               "role",
	Short:             "Manage roles and permissions",
	Long:              `Commands for managing roles, permissions, and assignments.`,
	PersistentPreRunE: cmdutil.RequireSession(false),
}

func init() {
	RoleCmd.AddCommand(listCmd)
	RoleCmd.AddCommand(getCmd)
	RoleCmd.AddCommand(searchCmd)
	RoleCmd.AddCommand(createCmd)
	RoleCmd.AddCommand(updateCmd)
	RoleCmd.AddCommand(deleteCmd)
	RoleCmd.AddCommand(restoreCmd)
	RoleCmd.AddCommand(duplicateCmd)
	RoleCmd.AddCommand(assignCmd)
	RoleCmd.AddCommand(unassignCmd)
	RoleCmd.AddCommand(syncCmd)
	RoleCmd.AddCommand(usersCmd)
	RoleCmd.AddCommand(inspectCmd)
	RoleCmd.AddCommand(permissionsCmd)
	RoleCmd.AddCommand(statsCmd)
	RoleCmd.AddCommand(exportCmd)
	RoleCmd.AddCommand(importCmd)
}

func authzCache(ctx context.Context) (*sdk.AuthorizationCache, error) {
	cfg := config.MustFromContext(ctx)
	return cfg.ClientProvider.Cache(ctx)
}
