package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"tmachat/internal/session"
	"tmachat/pkg/logging"
)

// Exit codes for CLI commands. These follow common conventions so the
// client can be scripted.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates a session could not be established
	// or has expired and recovery was exhausted.
	ExitCodeAuthRequired = 2
)

// Global flags.
var (
	rootConfigPath string
	rootLogLevel   string
)

// rootCmd represents the base command for the tmachat application.
var rootCmd = &cobra.Command{
	Use:   "tmachat",
	Short: "Chat with the assistant from your terminal",
	Long: `tmachat is the command-line client for the Telegram Mini App chat
backend. It authenticates via the host platform's identity context,
keeps the session alive across token expiry, and exposes the chat
operations (conversations, messages, files) as subcommands.`,
	// SilenceUsage prevents cobra from printing usage on errors the
	// application already handles.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.ParseLevel(rootLogLevel), os.Stderr)
		return nil
	},
}

// SetVersion sets the version for the root command. Called from main to
// inject the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tmachat version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for scripting.
func getExitCode(err error) int {
	if errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrUnsupportedContext) {
		return ExitCodeAuthRequired
	}
	if session.IsAuthorizationFailure(err) {
		return ExitCodeAuthRequired
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "config directory (default is $HOME/.config/tmachat)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
