package auth

import (
	"github.com/spf13/cobra"
)

// AuthCmd is the parent command for session operations.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in, sign out and manage your account",
}

func init() {
	AuthCmd.AddCommand(loginCmd)
	AuthCmd.AddCommand(logoutCmd)
	AuthCmd.AddCommand(statusCmd)
	AuthCmd.AddCommand(refreshCmd)
	AuthCmd.AddCommand(registerCmd)
	AuthCmd.AddCommand(passwordCmd)
	AuthCmd.AddCommand(verifyEmailCmd)
	AuthCmd.AddCommand(resendVerificationCmd)
	AuthCmd.AddCommand(profileCmd)
}
