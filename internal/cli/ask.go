package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avdwerff/deskchat/internal/rest"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the shop assistant a one-off question",
	Long: `Ask sends a single question to the AI assistant and prints the reply.

For a running conversation with history, use the assistant pane inside
` + "`deskchat chat`" + ` instead.

Examples:
  deskchat ask "What are your shipping times to Austria?"
  deskchat ask "How do I return a damaged item?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}

	client := rest.New(cfg.ServerURL, token)
	reply, err := client.AskAssistant(cmd.Context(), args[0], nil)
	if err != nil {
		return fmt.Errorf("ask assistant: %w", err)
	}

	fmt.Println(reply)
	return nil
}
