// Package cli provides the command-line interface for deskchat.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avdwerff/deskchat/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	verbose bool

	cfg       config.Config
	logger    *slog.Logger
	logCloser func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deskchat",
	Short: "Support chat client for the terminal",
	Long: `Deskchat is a terminal client for the shop support chat.

Customers chat with the support team or ask the AI assistant; operators
work the full thread list from the same binary with the console command.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, logCloser = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(threadsCmd)

	return rootCmd.Execute()
}

// tuiLogger builds a logger safe for full-screen commands: stderr output
// would draw over the interface, so logs go to the file only, or nowhere.
func tuiLogger() *slog.Logger {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// loadToken resolves the auth token: the config value, then the token file
// written by login.
func loadToken() (string, error) {
	if cfg.AuthToken != "" {
		return cfg.AuthToken, nil
	}
	data, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("not logged in, run `deskchat login` first")
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// saveToken writes the token to the token file with owner-only access.
func saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(cfg.TokenFile), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(cfg.TokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// isOperatorToken reports whether the token authenticates an operator.
func isOperatorToken(token string) bool {
	return strings.HasPrefix(token, "admin:")
}

// tokenSubject extracts the identity part of a token.
func tokenSubject(token string) string {
	if _, id, ok := strings.Cut(token, ":"); ok {
		return id
	}
	return token
}
