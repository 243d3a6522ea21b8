package auth

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Recover, reset or change your password",
}

var (
	forgotEmail     string
	resetToken      string
	resetPassword   string
	currentPassword string
	newPassword     string
)

var forgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Request a password recovery email",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessage(cmd, func(ctrl *sdk.SessionController) (*sdk.MessageResponse, error) {
			return ctrl.ForgotPassword(cmd.Context(), forgotEmail)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password using a recovery token",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessage(cmd, func(ctrl *sdk.SessionController) (*sdk.MessageResponse, error) {
			return ctrl.ResetPassword(cmd.Context(), resetToken, resetPassword)
		})
	},
}

var changeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the password of the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMessage(cmd, func(ctrl *sdk.SessionController) (*sdk.MessageResponse, error) {
			return ctrl.ChangePassword(cmd.Context(), currentPassword, newPassword)
		})
	},
}

// runMessage runs an account operation that answers with a plain message.
func runMessage(cmd *cobra.Command, op func(*sdk.SessionController) (*sdk.MessageResponse, error)) error {
	ctrl, err := cmdutil.Provider(cmd).Session(cmd.Context())
	if err != nil {
		return err
	}
	resp, err := op(ctrl)
	if err != nil {
		return err
	}
	pterm.Success.Println(resp.Message)
	return nil
}

func init() {
	forgotCmd.Flags().StringVar(&forgotEmail, "email", "", "Account email")
	_ = forgotCmd.MarkFlagRequired("email")

	resetCmd.Flags().StringVar(&resetToken, "token", "", "Recovery token from the email")
	resetCmd.Flags().StringVar(&resetPassword, "password", "", "New password")
	_ = resetCmd.MarkFlagRequired("token")
	_ = resetCmd.MarkFlagRequired("password")

	changeCmd.Flags().StringVar(&currentPassword, "current", "", "Current password")
	changeCmd.Flags().StringVar(&newPassword, "new", "", "New password")
	_ = changeCmd.MarkFlagRequired("current")
	_ = changeCmd.MarkFlagRequired("new")

	passwordCmd.AddCommand(forgotCmd)
	passwordCmd.AddCommand(resetCmd)
	passwordCmd.AddCommand(changeCmd)
}
