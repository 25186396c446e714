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

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the operator console",
	Long: `Console opens the operator view: every user thread with unread
counts, and the full conversation for the selected thread.

Keys (thread list):
  up/down  select thread
  enter    open thread
  r        reload list
  esc      quit

Keys (open thread):
  enter    send reply
  ctrl+k   close thread
  ctrl+x   delete thread
  esc      back to list`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

var (
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("77"))
	unreadStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	clearedStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
)

type consoleView int

const (
	viewThreadList consoleView = iota
	viewThread
)

type consoleModel struct {
	session *chat.Session
	changes chan struct{}
	token   string

	view     consoleView
	selected int
	owner    string

	vp    viewport.Model
	input textinput.Model

	width  int
	height int
	ready  bool

	lastTyping time.Time
	err        error
}

func newConsoleModel(session *chat.Session, changes chan struct{}, token string) consoleModel {
	input := textinput.New()
	input.Placeholder = "Type a reply..."
	input.CharLimit = 2000

	return consoleModel{
		session: session,
		changes: changes,
		token:   token,
		input:   input,
	}
}

func (m consoleModel) Init() tea.Cmd {
	connect := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return connectResultMsg{err: m.session.Connect(ctx, m.token)}
	}
	return tea.Batch(connect, waitChange(m.changes), textinput.Blink)
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		return m, waitChange(m.changes)

	case tea.KeyMsg:
		if m.view == viewThreadList {
			return m.updateThreadList(msg)
		}
		return m.updateThread(msg)
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m consoleModel) updateThreadList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	threads := m.session.Threads()

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.session.Logout()
		return m, tea.Quit

	case tea.KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		m.refresh()
		return m, nil

	case tea.KeyDown:
		if m.selected < len(threads)-1 {
			m.selected++
		}
		m.refresh()
		return m, nil

	case tea.KeyEnter:
		if m.selected >= len(threads) {
			return m, nil
		}
		owner := threads[m.selected].OwnerUserID
		m.owner = owner
		open := func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return connectResultMsg{err: m.session.OpenThread(ctx, owner)}
		}
		m.view = viewThread
		m.input.Focus()
		m.refresh()
		return m, open
	}

	if msg.String() == "r" {
		reload := func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return connectResultMsg{err: m.session.RefreshThreads(ctx)}
		}
		return m, reload
	}
	return m, nil
}

func (m consoleModel) updateThread(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.session.Logout()
		return m, tea.Quit

	case tea.KeyEsc:
		m.view = viewThreadList
		m.owner = ""
		m.input.Blur()
		m.input.Reset()
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

	case tea.KeyCtrlK:
		m.err = m.session.CloseThread(m.scope())
		m.refresh()
		return m, nil

	case tea.KeyCtrlX:
		m.err = m.session.DeleteThread(m.scope())
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if time.Since(m.lastTyping) > typingThrottle {
		m.session.Typing()
		m.lastTyping = time.Now()
	}
	return m, cmd
}

// scope is the owner of the open thread, captured when it was opened. The
// registry re-sorts on every inbound message, so a list index never names
// the open thread reliably.
func (m consoleModel) scope() string {
	return m.owner
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	if m.view == viewThreadList {
		m.vp.SetContent(m.renderThreadList())
		return
	}
	if m.session.HistoryCleared() {
		m.vp.SetContent(clearedStyle.Render("History cleared."))
		return
	}
	m.vp.SetContent(renderMessages(m.session.Messages(), m.vp.Width))
	m.vp.GotoBottom()
}

func (m consoleModel) renderThreadList() string {
	threads := m.session.Threads()
	if len(threads) == 0 {
		return systemStyle.Render("No threads yet.")
	}

	online := m.session.OnlineUsers()
	var b strings.Builder
	for i, t := range threads {
		marker := "  "
		if online[t.OwnerUserID] {
			marker = onlineStyle.Render("● ")
		}
		unread := ""
		if t.UnreadForAdmin > 0 {
			unread = unreadStyle.Render(fmt.Sprintf(" (%d)", t.UnreadForAdmin))
		}
		typing := ""
		if m.session.IsTyping(t.OwnerUserID) {
			typing = statusStyle.Render(" typing...")
		}
		preview := t.LastMessage
		if len(preview) > 50 {
			preview = preview[:47] + "..."
		}
		line := fmt.Sprintf("%s%s%s%s  %s", marker, t.OwnerUserID, unread, typing, statusStyle.Render(preview))
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m consoleModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var header strings.Builder
	if m.view == viewThreadList {
		header.WriteString(headerStyle.Render("Support console — threads"))
	} else {
		header.WriteString(headerStyle.Render("Support console — " + m.scope()))
		if m.session.IsTyping(m.scope()) {
			header.WriteString(statusStyle.Render("  typing..."))
		}
	}
	header.WriteString("  ")
	if m.session.ConnState() != models.Connected {
		header.WriteString(offlineStyle.Render("offline"))
	}

	help := "up/down select · enter open · r reload · esc quit"
	if m.view == viewThread {
		help = "enter send · ctrl+k close · ctrl+x delete · esc back"
	}
	status := statusStyle.Render(help)
	if m.err != nil {
		status = errorStyle.Render(m.err.Error())
	}

	inputView := ""
	if m.view == viewThread {
		inputView = m.input.View()
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s", header.String(), m.vp.View(), inputView, status)
}

func runConsole(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}
	if !isOperatorToken(token) {
		return fmt.Errorf("console requires an operator token")
	}

	log := tuiLogger()
	changes := make(chan struct{}, 1)

	conn := realtime.NewManager(cfg.RealtimeURL, realtime.DialWebSocket, log)
	api := rest.New(cfg.ServerURL, token)
	session := chat.NewSession(chat.Options{
		Role:      chat.RoleOperator,
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

	p := tea.NewProgram(newConsoleModel(session, changes, token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run console: %w", err)
	}
	return nil
}
