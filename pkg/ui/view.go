package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/parley/pkg/chat"
)

const sidebarWidth = 32

// layout resizes widgets after a terminal size change.
func (m *Model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	mainWidth := m.width - sidebarWidth - 3
	if mainWidth < 20 {
		mainWidth = 20
	}
	m.sessions.SetSize(sidebarWidth, m.height-6)
	m.messages.Width = mainWidth
	m.messages.Height = m.height - 5
	m.prompt.Width = mainWidth - 4
	m.newName.Width = sidebarWidth - 4
	m.renderer = newMarkdownRenderer(mainWidth)
}

// markdownRenderer wraps glamour and falls back to raw text when rendering
// fails or no renderer could be built.
type markdownRenderer struct {
	r *glamour.TermRenderer
}

func newMarkdownRenderer(width int) *markdownRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &markdownRenderer{}
	}
	return &markdownRenderer{r: r}
}

func (mr *markdownRenderer) render(s string) string {
	if mr == nil || mr.r == nil {
		return s
	}
	out, err := mr.r.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

func (m *Model) renderMessages(st chat.State) string {
	if len(st.Messages) == 0 {
		return statusStyle.Render("No messages yet. Type a prompt below.")
	}
	var b strings.Builder
	for i, msg := range st.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		default:
			b.WriteString(assistantStyle.Render("Assistant"))
			b.WriteString("\n")
			streamingTail := i == len(st.Messages)-1 &&
				(st.Phase == chat.PhaseStreaming || st.Phase == chat.PhaseSending)
			if streamingTail {
				// Raw text while chunks arrive; markdown is rendered once
				// the reply settles.
				b.WriteString(msg.Content)
			} else {
				b.WriteString(m.renderer.render(msg.Content))
			}
		}
	}
	return b.String()
}

func (m Model) View() string {
	if m.mode == modeAuth {
		return m.authView()
	}
	return m.chatView()
}

func (m Model) authView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("parley"))
	b.WriteString("\n\n")
	b.WriteString(m.username.View())
	b.WriteString("\n")
	b.WriteString(m.email.View())
	b.WriteString("\n")
	b.WriteString(m.password.View())
	b.WriteString("\n\n")
	b.WriteString(statusStyle.Render("enter: login · alt+enter: register · tab: next field · ctrl+c: quit"))
	if m.status != "" {
		b.WriteString("\n\n")
		b.WriteString(m.renderStatus())
	}
	box := authBoxStyle.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}
	return box
}

func (m Model) chatView() string {
	st := m.ctrl.Snapshot()

	sidebar := m.sessions.View()
	if m.focus == focusNewSession {
		sidebar += "\n" + m.newName.View()
	} else {
		sidebar += "\n" + statusStyle.Render("ctrl+n: new session")
	}

	title := "New Chat"
	if st.Selected != nil {
		title = st.Selected.Name
	}
	header := titleStyle.Render(title)
	if st.Phase == chat.PhaseStreaming || st.Phase == chat.PhaseSending {
		header += " " + m.spin.View()
	} else if st.Phase == chat.PhaseReconciling {
		header += " " + statusStyle.Render("syncing...")
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.messages.View(),
		m.prompt.View(),
		m.renderStatus(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		sidebarStyle.Render(sidebar),
		main,
	)
}

func (m Model) renderStatus() string {
	if m.status == "" {
		return statusStyle.Render("tab: focus · ctrl+r: refresh · ctrl+d: logout · ctrl+c: quit")
	}
	if m.statusErr {
		return errorStyle.Render(m.status)
	}
	return statusStyle.Render(m.status)
}

var _ tea.Model = Model{}
