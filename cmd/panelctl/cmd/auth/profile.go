package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
)

var profileSet []string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
	Long: `Without flags, prints the signed-in profile as reported by the server.
With --set, sends the given fields as a profile update, for example:

  panelctl auth profile --set nombre=Ada --set apellido=Lovelace`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := cmdutil.Provider(cmd).Controller(cmd.Context())
		if err != nil {
			return err
		}

		if len(profileSet) == 0 {
			principal, err := ctrl.RefreshCurrentUser(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}
			w := cmdutil.NewTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tEMAIL\tROLES")
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", principal.ID, principal.DisplayName(),
				principal.Username, principal.Email, cmdutil.RoleNames(principal.Roles))
			return w.Flush()
		}

		updates, err := cmdutil.ParseAssignments(profileSet)
		if err != nil {
			return err
		}
		principal, err := ctrl.UpdateProfile(cmd.Context(), updates)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Profile updated for %s\n", principal.DisplayName())
		return nil
	},
}

func init() {
	profileCmd.Flags().StringArrayVar(&profileSet, "set", nil, "Profile field to update as key=value (repeatable)")
}
