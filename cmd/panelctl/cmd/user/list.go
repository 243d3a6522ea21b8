package user

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/cmdutil"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var listParams sdk.ListUsersParams

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List users page by page",
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}

		page, err := users.ListUsers(cmd.Context(), listParams)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		if len(page.Data) == 0 {
			pterm.Info.Println("No users found")
			return nil
		}
		if err := printUsers(cmd.OutOrStdout(), page.Data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d users)\n", page.Page, page.Pages, page.Total)
		return nil
	},
}

var getRefresh bool

var getCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show a user",
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
		u, err := users.GetUser(cmd.Context(), id, getRefresh)
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		return printUsers(cmd.OutOrStdout(), []sdk.User{*u})
	},
}

var searchFilters []string

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := cmdutil.ParseFilters(searchFilters)
		if err != nil {
			return err
		}
		users, err := directory(cmd.Context())
		if err != nil {
			return err
		}
		found, err := users.SearchUsers(cmd.Context(), args[0], filters)
		if err != nil {
			return fmt.Errorf("failed to search users: %w", err)
		}
		if len(found) == 0 {
			pterm.Info.Printf("No users match %q\n", args[0])
			return nil
		}
		return printUsers(cmd.OutOrStdout(), found)
	},
}

func init() {
	listCmd.Flags().IntVar(&listParams.Page, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listParams.Limit, "limit", 10, "Users per page")
	listCmd.Flags().StringVar(&listParams.Search, "search", "", "Free-text filter")
	listCmd.Flags().StringVar(&listParams.Role, "role", "", "Only users holding this role")
	listCmd.Flags().StringVar(&listParams.Status, "status", "", "Only users in this status")
	listCmd.Flags().StringVar(&listParams.SortBy, "sort-by", "created_at", "Sort field")
	listCmd.Flags().StringVar(&listParams.SortOrder, "sort-order", "desc", "Sort order (asc, desc)")

	getCmd.Flags().BoolVar(&getRefresh, "refresh", false, "Bypass the local cache")

	searchCmd.Flags().StringArrayVar(&searchFilters, "filter", nil, "Extra filter as key=value (repeatable)")
}
