package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
		if err != nil {
			return err
		}

		session := ctrl.Session()
		if !ctrl.IsAuthenticated() {
			return errors.New("not logged in")
		}

		pterm.DefaultSection.Println("Authentication Status")
		tokens := ctrl.Tokens()
		if exp, ok := tokens.ExpiresAt(); ok {
			pterm.Info.Printf("Logged in with token expiring at: %s\n", exp.Format(time.RFC1123))
		}

		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "USER\tEMAIL\tROLES\tPHASE\tMINUTES LEFT\tREFRESHABLE")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%t\n",
			session.Principal.DisplayName(),
			session.Principal.Email,
			cmdutil.RoleNames(session.Principal.Roles),
			session.Phase,
			tokens.MinutesRemaining(),
			tokens.RefreshToken() != "",
		)
		return w.Flush()
	},
}
