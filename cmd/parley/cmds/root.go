package cmds

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/auth"
	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/client"
	"github.com/go-go-golems/parley/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley is a terminal client for a streaming chat service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger once --log-level has been parsed
		initLogging(cmd, false)
	},
}

func Execute() {
	rootCmd.PersistentFlags().String("server", config.DefaultServer, "base URL of the chat service")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("credentials", "", "path of the persisted credentials file")

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newRegisterCommand())
	rootCmd.AddCommand(newLogoutCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newAskCommand())

	err := rootCmd.Execute()
	cobra.CheckErr(err)
}

// initLogging configures zerolog from the parsed flags. The TUI logs to a
// file so diagnostics do not fight the alt screen for the terminal.
func initLogging(cmd *cobra.Command, toFile bool) {
	settings, err := loadSettings(cmd)
	if err != nil {
		settings = &config.Settings{LogLevel: "info"}
	}

	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if toFile && settings.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(settings.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				log.Logger = log.Output(f)
				return
			}
		}
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	return config.Load(cmd.Root().PersistentFlags())
}

// buildController wires the credential store, REST client, and stream dialer
// into a controller seeded with whatever credentials were persisted.
func buildController(cmd *cobra.Command) (*chat.Controller, *config.Settings, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, nil, err
	}
	credsPath, err := settings.CredentialsPath()
	if err != nil {
		return nil, nil, err
	}
	store := auth.NewStore(credsPath)
	as, err := store.Load()
	if err != nil {
		return nil, nil, err
	}

	api := client.New(settings.Server, store)
	dialer := chat.NewDialer(settings.Server)
	ctrl := chat.New(api, dialer, store, chat.WithAuthSession(as))
	return ctrl, settings, nil
}
