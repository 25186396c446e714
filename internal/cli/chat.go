package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/avdwerff/deskchat/internal/chat"
	"github.com/avdwerff/deskchat/internal/models"
	"github.com/avdwerff/deskchat/internal/realtime"
	"github.com/avdwerff/deskchat/internal/rest"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the support chat",
	Long: `Chat opens the live support conversation in a full-screen view.

Keys:
  enter    send message
  ctrl+a   toggle the AI assistant pane
  esc      quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

// typingThrottle spaces outgoing composing signals.
const typingThrottle = 1500 * time.Millisecond

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	offlineStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	adminStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("77"))
	systemStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type refreshMsg struct{}
type connectResultMsg struct{ err error }

// waitChange blocks on the session change channel and wakes the UI.
func waitChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return refreshMsg{}
	}
}

type chatModel struct {
	session *chat.Session
	changes chan struct{}
	token   string

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	ready  bool

	lastTyping time.Time
	err        error
}

func newChatModel(session *chat.Session, changes chan struct{}, token string) chatModel {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Focus()
	input.CharLimit = 2000

	return chatModel{
		session: session,
		changes: changes,
		token:   token,
		input:   input,
	}
}

func (m chatModel) Init() tea.Cmd {
	connect := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return connectResultMsg{err: m.session.Connect(ctx, m.token)}
	}
	return tea.Batch(connect, waitChange(m.changes), textinput.Blink)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case connectResultMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case refreshMsg:
		m.refresh()
		// arriving live messages are read immediately while the pane is open
		if m.session.Mode() == chat.ModeLive && m.session.ConnState() == models.Connected {
			_ = m.session.MarkRead()
		}
		return m, waitChange(m.changes)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.session.Logout()
			return m, tea.Quit

		case tea.KeyCtrlA:
			if m.session.Mode() == chat.ModeAssistant {
				m.session.ExitAssistantMode()
			} else {
				m.session.EnterAssistantMode()
			}
			m.refresh()
			return m, nil

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if err := m.session.SendMessage(text); err != nil {
				m.err = err
			} else {
				m.err = nil
				m.input.Reset()
			}
			m.refresh()
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.session.Mode() == chat.ModeLive && time.Since(m.lastTyping) > typingThrottle {
			m.session.Typing()
			m.lastTyping = time.Now()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(renderMessages(m.session.Messages(), m.vp.Width))
	m.vp.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var header strings.Builder
	if m.session.Mode() == chat.ModeAssistant {
		header.WriteString(headerStyle.Render("Support chat — AI assistant"))
	} else {
		header.WriteString(headerStyle.Render("Support chat"))
	}
	header.WriteString("  ")
	switch m.session.ConnState() {
	case models.Connected:
		if m.session.AdminsOnline() {
			header.WriteString(statusStyle.Render("support online"))
		} else {
			header.WriteString(statusStyle.Render("support away"))
		}
	case models.Connecting:
		header.WriteString(statusStyle.Render("connecting..."))
	default:
		header.WriteString(offlineStyle.Render("offline — messages cannot be sent"))
	}
	if m.session.Mode() == chat.ModeLive && m.session.IsTyping(chat.OperatorPeer) {
		header.WriteString(statusStyle.Render("  support is typing..."))
	}

	status := statusStyle.Render("enter send · ctrl+a assistant · esc quit")
	if m.err != nil {
		status = errorStyle.Render(m.err.Error())
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header.String(), m.vp.View(), m.input.View(), status)
}

// renderMessages formats a message log for the viewport.
func renderMessages(msgs []models.Message, width int) string {
	if len(msgs) == 0 {
		return systemStyle.Render("No messages yet. Say hello!")
	}

	var b strings.Builder
	for _, msg := range msgs {
		label := ""
		switch msg.Sender {
		case models.SenderUser:
			label = userStyle.Render("you")
		case models.SenderAdmin:
			label = adminStyle.Render("support")
		case models.SenderAssistant:
			label = assistantStyle.Render("assistant")
		case models.SenderSystem:
			label = systemStyle.Render("system")
		}
		ts := statusStyle.Render(msg.CreatedAt.Local().Format("15:04"))
		b.WriteString(fmt.Sprintf("%s %s\n", ts, label))
		b.WriteString(lipgloss.NewStyle().Width(width).Render(msg.Body))
		b.WriteString("\n\n")
	}
	return b.String()
}

func runChat(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}
	if isOperatorToken(token) {
		return fmt.Errorf("operator tokens use `deskchat console`")
	}

	log := tuiLogger()
	changes := make(chan struct{}, 1)

	conn := realtime.NewManager(cfg.RealtimeURL, realtime.DialWebSocket, log)
	api := rest.New(cfg.ServerURL, token)
	session := chat.NewSession(chat.Options{
		Role:      chat.RoleUser,
		SelfID:    tokenSubject(token),
		Conn:      conn,
		API:       api,
		Completer: api,
		Logger:    log,
		TypingTTL: cfg.TypingTTL,
		Notify:    ringBell,
		OnChange: func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		},
	})

	p := tea.NewProgram(newChatModel(session, changes, token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat: %w", err)
	}
	return nil
}

// ringBell plays the terminal bell for an incoming message.
func ringBell() error {
	fmt.Print("\a")
	return nil
}
