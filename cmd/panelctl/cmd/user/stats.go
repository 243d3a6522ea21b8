package user

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show user statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := users.UserStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get user stats: %w", err)
		}
		return cmdutil.PrintStats(cmd.OutOrStdout(), stats)
	},
}

var activityPage sdk.PageParams

var activityCmd = &cobra.Command{
	Use:   "activity <user-id>",
	Short: "Show a user's recent activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := cmdutil.ParseID("user", args[0])
		if err != nil {
			return err
		}
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}
		page, err := users.UserActivity(cmd.Context(), id, activityPage)
		if err != nil {
			return fmt.Errorf("failed to get user activity: %w", err)
		}

		w := cmdutil.NewTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "WHEN\tACTION\tDETAIL")
		for _, a := range page.Data {
			fmt.Fprintf(w, "%v\t%v\t%v\n", field(a, "fecha", "created_at"), field(a, "accion", "action"), field(a, "descripcion", "description"))
		}
		return w.Flush()
	},
}

// field returns the first present key of an activity entry, or "-".
func field(a sdk.Activity, keys ...string) any {
	for _, k := range keys {
		if v, ok := a[k]; ok && v != nil {
			return v
		}
	}
	return "-"
}

func init() {
	activityCmd.Flags().IntVar(&activityPage.Page, "page", 1, "Page number")
	activityCmd.Flags().IntVar(&activityPage.Limit, "limit", 20, "Entries per page")
}
