package auth

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var registration sdk.Registration

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := registration
		if reg.Password == "" {
			var err error
			reg.Password, err = cmdutil.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
		}

		ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
		if err != nil {
			return err
		}

		principal, err := ctrl.Register(cmd.Context(), reg)
		if err != nil {
			return err
		}

		pterm.Success.Printf("Registered and logged in as %s (%s)\n", principal.DisplayName(), principal.Email)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registration.Email, "email", "", "Account email")
	registerCmd.Flags().StringVar(&registration.Password, "password", "", "Account password (read from stdin when omitted)")
	registerCmd.Flags().StringVar(&registration.FirstName, "first-name", "", "First name")
	registerCmd.Flags().StringVar(&registration.LastName, "last-name", "", "Last name")
	registerCmd.Flags().StringVar(&registration.Username, "username", "", "Username")
	_ = registerCmd.MarkFlagRequired("email")
}
