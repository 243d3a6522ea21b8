package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Signs in to the panel API and stores the session locally.

When --password is omitted the password is read from standard input, which
allows piping it from a secret manager:

  vault kv get -field=password secret/panel | panelctl auth login --email admin@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			var err error
			password, err = cmdutil.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
		}

		ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
		if err != nil {
			return err
		}

		principal, err := ctrl.Login(cmd.Context(), sdk.Credentials{Email: loginEmail, Password: password})
		if err != nil {
			return err
		}

		pterm.Success.Printf("Logged in as %s (%s)\n", principal.DisplayName(), principal.Email)
		fmt.Fprintf(cmd.OutOrStdout(), "Roles: %s\n", cmdutil.RoleNames(principal.Roles))
		fmt.Fprintf(cmd.OutOrStdout(), "Session valid for %d minutes\n", ctrl.Tokens().MinutesRemaining())
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (read from stdin when omitted)")
	_ = loginCmd.MarkFlagRequired("email")
}
