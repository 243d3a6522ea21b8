package user

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/cmd/panelctl/internal/config"
	"github.com/terraconstructs/panel/pkg/sdk"
)

// UserCmd is the parent command for user administration. It requires one of
// the configured admin roles.
var UserCmd = &cobra.Command{
	Use:               "user",
	Short:             "Administer user accounts",
	PersistentPreRunE: cmdutil.RequireSession(true),
}

func init() {
	UserCmd.AddCommand(listCmd)
	UserCmd.AddCommand(getCmd)
	UserCmd.AddCommand(searchCmd)
	UserCmd.AddCommand(createCmd)
	UserCmd.AddCommand(updateCmd)
	UserCmd.AddCommand(deleteCmd)
	UserCmd.AddCommand(restoreCmd)
	UserCmd.AddCommand(blockCmd)
	UserCmd.AddCommand(unblockCmd)
	UserCmd.AddCommand(statusCmd)
	UserCmd.AddCommand(setRoleCmd)
	UserCmd.AddCommand(welcomeCmd)
	UserCmd.AddCommand(statsCmd)
	UserCmd.AddCommand(activityCmd)
}

func directory(ctx context.Context) (*sdk.UserDirectory, error) {
	cfg := config.MustFromContext(ctx)
	return cfg.ClientProvider.Users(ctx)
}

func printUsers(out io.Writer, users []sdk.User) error {
	w := cmdutil.NewTable(out)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS\tBLOCKED\tROLES")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n", u.ID, u.FullName(), u.Email, u.Status, u.Blocked, cmdutil.RoleNames(u.Roles))
	}
	return w.Flush()
}
