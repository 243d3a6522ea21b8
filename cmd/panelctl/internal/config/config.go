package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/terraconstructs/panel/cmd/panelctl/internal/client"
	"github.com/terraconstructs/panel/pkg/sdk"
)

type contextKey string

const configKey contextKey = "panelctl-config"

// EnvPrefix namespaces every environment variable read by panelctl.
const EnvPrefix = "PANEL"

// Settings is the resolved panelctl configuration. Precedence is flag, then
// PANEL_* environment variable, then config file, then default.
type Settings struct {
	APIURL        string        `mapstructure:"api_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Debug         bool          `mapstructure:"debug"`
	SessionFile   string        `mapstructure:"session_file"`
	RefreshWindow time.Duration `mapstructure:"refresh_window"`
	// AdminRoles admits a principal to the user and role commands.
	AdminRoles []string `mapstructure:"admin_roles"`
}

// flagKeys maps persistent flag names onto settings keys.
var flagKeys = map[string]string{
	"server":  "api_url",
	"timeout": "timeout",
	"debug":   "debug",
}

// Load resolves Settings. configPath may be empty, in which case
// ~/.panel/config.yaml is read if it exists. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".panel"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", sdk.DefaultBaseURL)
	v.SetDefault("timeout", sdk.DefaultTimeout)
	v.SetDefault("debug", false)
	v.SetDefault("session_file", "")
	v.SetDefault("refresh_window", 2*time.Minute)
	v.SetDefault("admin_roles", []string{"admin"})
}

func (s *Settings) validate() error {
	s.APIURL = strings.TrimSpace(s.APIURL)
	if s.APIURL == "" {
		return errors.New("api_url is required")
	}
	if !strings.HasPrefix(s.APIURL, "http://") && !strings.HasPrefix(s.APIURL, "https://") {
		return fmt.Errorf("api_url %q must start with http:// or https://", s.APIURL)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}
	if s.RefreshWindow < 0 {
		return fmt.Errorf("refresh_window must not be negative, got %s", s.RefreshWindow)
	}
	return nil
}

// GlobalConfig holds shared state for all panelctl commands.
// It is injected into the cobra command context by the root command's
// PersistentPreRunE hook and consumed by all subcommands.
type GlobalConfig struct {
	Settings       *Settings
	Logger         *zap.Logger
	ClientProvider *client.Provider
}

// InjectConfig adds config to the cobra command context.
func InjectConfig(ctx context.Context, cfg *GlobalConfig) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from the cobra command context.
// Returns (nil, false) if config is not present.
func FromContext(ctx context.Context) (*GlobalConfig, bool) {
	cfg, ok := ctx.Value(configKey).(*GlobalConfig)
	return cfg, ok
}

// MustFromContext retrieves config from context or panics.
// Only use it in RunE functions, after the root command injected the config.
func MustFromContext(ctx context.Context) *GlobalConfig {
	cfg, ok := FromContext(ctx)
	if !ok {
		panic("panelctl: config not found in context - this is a bug in panelctl")
	}
	return cfg
}
