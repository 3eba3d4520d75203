package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultServer is used when no base URL is configured anywhere.
	DefaultServer = "http://localhost:8000"

	envPrefix = "PARLEY"
)

// Settings holds the client configuration. Precedence is flags over
// environment over config file over defaults.
type Settings struct {
	// Server is the base URL of the chat service; the streaming endpoint is
	// derived from it.
	Server string `mapstructure:"server"`
	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log-level"`
	// LogFile receives diagnostics while the TUI owns the terminal.
	LogFile string `mapstructure:"log-file"`
	// Credentials overrides the persisted AuthSession path.
	Credentials string `mapstructure:"credentials"`
}

// Dir returns the per-user configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".parley"), nil
}

// Load reads ~/.parley/config.yaml (if present), the PARLEY_* environment,
// and the given flag set into a Settings value.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetDefault("server", DefaultServer)
	v.SetDefault("log-level", "info")

	if dir, err := Dir(); err == nil {
		v.SetDefault("log-file", filepath.Join(dir, "parley.log"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	if s.Server == "" {
		s.Server = DefaultServer
	}
	return s, nil
}

// CredentialsPath resolves the AuthSession file location, honoring the
// override.
func (s *Settings) CredentialsPath() (string, error) {
	if s.Credentials != "" {
		return s.Credentials, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}
