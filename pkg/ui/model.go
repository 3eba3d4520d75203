package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/parley/pkg/chat"
)

type mode int

const (
	modeAuth mode = iota
	modeChat
)

type focusArea int

const (
	focusPrompt focusArea = iota
	focusSessions
	focusNewSession
)

// sessionItem adapts a chat.Session to the list widget.
type sessionItem struct{ s chat.Session }

func (i sessionItem) Title() string       { return i.s.Name }
func (i sessionItem) Description() string { return fmt.Sprintf("#%d", i.s.ID) }
func (i sessionItem) FilterValue() string { return i.s.Name }

// Model renders controller state and raises user intents. It owns no
// conversation state of its own beyond transient input text.
type Model struct {
	ctrl *chat.Controller
	keys KeyMap

	mode  mode
	focus focusArea

	// auth form
	username textinput.Model
	email    textinput.Model
	password textinput.Model
	authIdx  int

	// chat view
	sessions  list.Model
	messages  viewport.Model
	prompt    textinput.Model
	newName   textinput.Model
	spin      spinner.Model
	renderer  *markdownRenderer
	width     int
	height    int
	status    string
	statusErr bool
}

func New(ctrl *chat.Controller) Model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()

	email := textinput.New()
	email.Placeholder = "email (optional, register only)"

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword

	prompt := textinput.New()
	prompt.Placeholder = "Type your message..."

	newName := textinput.New()
	newName.Placeholder = "New session name"

	sp := spinner.New()
	sp.Spinner = spinner.Line

	sessions := list.New(nil, list.NewDefaultDelegate(), 30, 10)
	sessions.Title = "Sessions"
	sessions.SetShowHelp(false)
	sessions.SetFilteringEnabled(false)
	sessions.SetShowStatusBar(false)

	m := Model{
		ctrl:     ctrl,
		keys:     DefaultKeyMap(),
		mode:     modeAuth,
		username: username,
		email:    email,
		password: password,
		sessions: sessions,
		messages: viewport.New(80, 20),
		prompt:   prompt,
		newName:  newName,
		spin:     sp,
		renderer: newMarkdownRenderer(80),
	}
	if ctrl.Snapshot().LoggedIn {
		m.mode = modeChat
		m.prompt.Focus()
	}
	m.syncFromController()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.syncFromController()
		return m, nil

	case StateChangedMsg:
		m.syncFromController()
		return m, nil

	case errMsg:
		m.status = msg.err.Error()
		m.statusErr = true
		m.syncFromController()
		return m, nil

	case statusMsg:
		m.status = msg.text
		m.statusErr = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateFocused(msg)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}
	if m.mode == modeAuth {
		return m.handleAuthKey(msg)
	}
	return m.handleChatKey(msg)
}

func (m Model) handleAuthKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.FocusNext):
		m.authIdx = (m.authIdx + 1) % 3
		m.focusAuthField()
		return m, nil
	case msg.Type == tea.KeyEnter:
		u, p, e := m.username.Value(), m.password.Value(), m.email.Value()
		if u == "" || p == "" {
			m.status = "username and password are required"
			m.statusErr = true
			return m, nil
		}
		m.status = "signing in..."
		m.statusErr = false
		if msg.Alt {
			return m, m.registerCmd(u, p, e)
		}
		return m, m.loginCmd(u, p)
	}
	return m.updateFocused(msg)
}

func (m *Model) focusAuthField() {
	inputs := []*textinput.Model{&m.username, &m.email, &m.password}
	for i, in := range inputs {
		if i == m.authIdx {
			in.Focus()
		} else {
			in.Blur()
		}
	}
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Logout):
		m.ctrl.Logout()
		m.mode = modeAuth
		m.authIdx = 0
		m.focusAuthField()
		m.status = "logged out"
		m.statusErr = false
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()

	case key.Matches(msg, m.keys.NewSession):
		m.focus = focusNewSession
		m.newName.Focus()
		m.prompt.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		if m.focus == focusNewSession {
			m.newName.SetValue("")
			m.newName.Blur()
			m.focus = focusPrompt
			m.prompt.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.FocusNext):
		if m.focus == focusPrompt {
			m.focus = focusSessions
			m.prompt.Blur()
		} else {
			m.focus = focusPrompt
			m.prompt.Focus()
		}
		return m, nil

	case msg.Type == tea.KeyEnter:
		switch m.focus {
		case focusNewSession:
			name := m.newName.Value()
			m.newName.SetValue("")
			m.newName.Blur()
			m.focus = focusPrompt
			m.prompt.Focus()
			if name == "" {
				// Empty names never reach the network.
				m.status = "session name is empty"
				m.statusErr = true
				return m, nil
			}
			return m, m.createSessionCmd(name)
		case focusSessions:
			if item, ok := m.sessions.SelectedItem().(sessionItem); ok {
				m.focus = focusPrompt
				m.prompt.Focus()
				return m, m.selectSessionCmd(item.s.ID)
			}
			return m, nil
		default:
			text := m.prompt.Value()
			if text == "" {
				return m, nil
			}
			m.prompt.SetValue("")
			return m, m.submitCmd(text)
		}
	}
	return m.updateFocused(msg)
}

// updateFocused routes remaining messages to whichever widget has focus.
func (m Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if m.mode == modeAuth {
		m.username, cmd = m.username.Update(msg)
		cmds = append(cmds, cmd)
		m.email, cmd = m.email.Update(msg)
		cmds = append(cmds, cmd)
		m.password, cmd = m.password.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	switch m.focus {
	case focusSessions:
		m.sessions, cmd = m.sessions.Update(msg)
		cmds = append(cmds, cmd)
	case focusNewSession:
		m.newName, cmd = m.newName.Update(msg)
		cmds = append(cmds, cmd)
	default:
		m.prompt, cmd = m.prompt.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.messages, cmd = m.messages.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// syncFromController refreshes widgets from a state snapshot.
func (m *Model) syncFromController() {
	st := m.ctrl.Snapshot()

	if st.LoggedIn && m.mode == modeAuth {
		m.mode = modeChat
		m.focus = focusPrompt
		m.prompt.Focus()
	}
	if !st.LoggedIn && m.mode == modeChat {
		m.mode = modeAuth
		m.authIdx = 0
		m.focusAuthField()
		m.status = "session expired, please sign in again"
		m.statusErr = true
	}

	items := make([]list.Item, 0, len(st.Sessions))
	selectedIdx := -1
	for i, s := range st.Sessions {
		items = append(items, sessionItem{s: s})
		if st.Selected != nil && st.Selected.ID == s.ID {
			selectedIdx = i
		}
	}
	m.sessions.SetItems(items)
	if selectedIdx >= 0 {
		m.sessions.Select(selectedIdx)
	}

	m.messages.SetContent(m.renderMessages(st))
	m.messages.GotoBottom()
}

// loginCmd and friends run controller operations off the update loop; results
// come back as messages, and intermediate progress arrives via StateChangedMsg
// from the controller's notify hook.
func (m Model) loginCmd(username, password string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Login(context.Background(), username, password); err != nil {
			return errMsg{err}
		}
		return statusMsg{text: "signed in"}
	}
}

func (m Model) registerCmd(username, password, email string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Register(context.Background(), username, password, email); err != nil {
			return errMsg{err}
		}
		return statusMsg{text: "account created"}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		// Failures keep the previous snapshot; only the diagnostic log sees
		// them.
		_ = ctrl.RefreshSessions(context.Background())
		return StateChangedMsg{}
	}
}

func (m Model) selectSessionCmd(id int64) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.SelectSession(context.Background(), id); err != nil {
			return errMsg{err}
		}
		return StateChangedMsg{}
	}
}

func (m Model) createSessionCmd(name string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if _, err := ctrl.CreateSession(context.Background(), name); err != nil {
			return errMsg{err}
		}
		return statusMsg{text: "created session " + name}
	}
}

func (m Model) submitCmd(prompt string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ex, err := ctrl.SubmitPrompt(context.Background(), prompt)
		if err != nil {
			return errMsg{err}
		}
		// One pump per exchange keeps chunk application in arrival order.
		go ctrl.Pump(context.Background(), ex)
		return StateChangedMsg{}
	}
}
