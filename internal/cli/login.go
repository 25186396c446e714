package cli

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avdwerff/deskchat/internal/rest"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the access token for this machine",
	Long: `Login prompts for an access token and stores it for later commands.

Customer tokens look like "user:<id>", operator tokens like "admin:<id>".
The token is validated against the server before it is saved.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	fmt.Fprint(os.Stderr, "Access token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	token := string(raw)
	if token == "" {
		return fmt.Errorf("empty token")
	}

	// validate against the endpoint the token's role may read
	client := rest.New(cfg.ServerURL, token)
	if isOperatorToken(token) {
		_, err = client.FetchThreads(cmd.Context())
	} else {
		_, err = client.FetchOwnThread(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}

	if err := saveToken(token); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s.\n", tokenSubject(token))
	return nil
}
