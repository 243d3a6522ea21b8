package auth

import (
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/pkg/sdk"
)

var verifyEmailCmd = &cobra.Command{
	Use:   "verify-email <token>",
	Short: "Confirm an email address with the token from the verification email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessage(cmd, func(ctrl *sdk.SessionController) (*sdk.MessageResponse, error) {
			return ctrl.VerifyEmail(cmd.Context(), args[0])
		})
	},
}

var resendVerificationCmd = &cobra.Command{
	Use:   "resend-verification",
	Short: "Send the verification email again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessage(cmd, func(ctrl *sdk.SessionController) (*sdk.MessageResponse, error) {
			return ctrl.ResendVerification(cmd.Context())
		})
	},
}
