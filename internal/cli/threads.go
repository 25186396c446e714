package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/avdwerff/deskchat/internal/rest"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List all support threads (operator)",
	Long: `Threads prints the operator thread list, most recent activity first.

Scripting-friendly alternative to the interactive console.`,
	Args: cobra.NoArgs,
	RunE: runThreads,
}

var (
	threadHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	threadUnreadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

func runThreads(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}
	if !isOperatorToken(token) {
		return fmt.Errorf("threads is operator-only")
	}

	client := rest.New(cfg.ServerURL, token)
	threads, err := client.FetchThreads(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch threads: %w", err)
	}

	if len(threads) == 0 {
		fmt.Println("No threads.")
		return nil
	}

	fmt.Println(threadHeaderStyle.Render(fmt.Sprintf("%-20s %-8s %-19s %s", "USER", "UNREAD", "LAST ACTIVITY", "PREVIEW")))
	for _, t := range threads {
		unread := fmt.Sprintf("%d", t.UnreadForAdmin)
		if t.UnreadForAdmin > 0 {
			unread = threadUnreadStyle.Render(unread)
		}
		preview := t.LastMessage
		if len(preview) > 60 {
			preview = preview[:57] + "..."
		}
		fmt.Printf("%-20s %-8s %-19s %s\n",
			t.OwnerUserID,
			unread,
			t.LastActivity.Local().Format("2006-01-02 15:04:05"),
			preview,
		)
	}
	return nil
}
