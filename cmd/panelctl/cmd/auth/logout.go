package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var logoutLocal bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
		if err != nil {
			return err
		}

		if !ctrl.Tokens().HasAccessToken() {
			pterm.Info.Println("Not logged in.")
			return nil
		}

		if err := ctrl.Logout(cmd.Context(), !logoutLocal); err != nil {
			return fmt.Errorf("failed to remove stored session: %w", err)
		}

		pterm.Success.Println("Logged out.")
		return nil
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutLocal, "local", false, "Only remove the local session without notifying the server")
}
