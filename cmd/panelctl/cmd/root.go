package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/panel/cmd/panelctl/cmd/auth"
	"github.com/terraconstructs/panel/cmd/panelctl/cmd/role"
	"github.com/terraconstructs/panel/cmd/panelctl/cmd/user"
	"github.com/terraconstructs/panel/cmd/panelctl/internal/client"
	"github.com/terraconstructs/panel/cmd/panelctl/internal/config"
	"github.com/terraconstructs/panel/pkg/sdk"
)

var (
	cfgFile   string
	serverURL string
	timeout   time.Duration
	debug     bool
)

var rootCmd = &cobra.Command{
	Use:   "panelctl",
	Short: "Panel CLI - admin panel session and access management",
	Long: `panelctl is the command-line client for the admin panel API. Use it to sign in,
inspect your session, and manage users, roles and permissions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
		if err != nil {
			return err
		}

		logger := zap.NewNop()
		if settings.Debug {
			if logger, err = zap.NewDevelopment(); err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
		}

		provider := client.NewProvider(client.Options{
			BaseURL:       settings.APIURL,
			Timeout:       settings.Timeout,
			SessionFile:   settings.SessionFile,
			RefreshWindow: settings.RefreshWindow,
			Logger:        logger,
		})

		cmd.SetContext(config.InjectConfig(cmd.Context(), &config.GlobalConfig{
			Settings:       settings,
			Logger:         logger,
			ClientProvider: provider,
		}))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cfg, ok := config.FromContext(cmd.Context()); ok {
			_ = cfg.Logger.Sync()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

// describe prefers the backend's message over the wrapped chain.
func describe(err error) string {
	var authErr *sdk.AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		if apiErr.Field != "" {
			return fmt.Sprintf("%s (%s)", apiErr.Message, apiErr.Field)
		}
		return apiErr.Message
	}
	return err.Error()
}

func init() {
	// Group guards run after the root hook has injected the config.
	cobra.EnableTraverseRunHooks = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.panel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Panel API base URL (default "+sdk.DefaultBaseURL+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", sdk.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(role.RoleCmd)
	rootCmd.AddCommand(user.UserCmd)
	rootCmd.AddCommand(whoamiCmd)
}
