package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
		if err != nil {
			return err
		}

		if _, err := ctrl.RefreshAccessToken(cmd.Context()); err != nil {
			return fmt.Errorf("failed to refresh session: %w", err)
		}

		pterm.Success.Printf("Session refreshed, valid for %d minutes\n", ctrl.Tokens().MinutesRemaining())
		return nil
	},
}
