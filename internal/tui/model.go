// Package tui is an interactive terminal chat over one loaded document.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/askdoc/internal/chat"
	"github.com/kalambet/askdoc/internal/conversation"
)

// Conversation is the part of conversation.Conversation the TUI drives.
type Conversation interface {
	Ask(ctx context.Context, query string) (string, error)
	Reset(ctx context.Context)
	History() []chat.Message
}

// answerMsg carries the result of one Ask back to Update.
type answerMsg struct {
	query string
	reply string
	err   error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	conv     Conversation
	ctx      context.Context
	title    string
	input    textinput.Model
	viewport viewport.Model
	status   string
	pending  string
	waiting  bool
	ready    bool
}

// New creates a chat model for the document named title.
func New(ctx context.Context, conv Conversation, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Fai una domanda sul documento e premi Invio"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		conv:     conv,
		ctx:      ctx,
		title:    title,
		input:    ti,
		viewport: vp,
		status:   "Pronto. Invio per chiedere, ctrl+r per ricominciare, esc per uscire.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.waiting = false
		m.pending = ""
		if msg.err != nil {
			m.status = "Errore: " + describe(msg.err)
		} else {
			m.status = "Pronto."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlR:
			if m.waiting {
				return m, nil
			}
			m.conv.Reset(m.ctx)
			m.status = "Conversazione azzerata."
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			m.pending = q
			m.status = "Sto pensando..."
			m.refresh()
			return m, m.ask(q)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	conv, ctx := m.conv, m.ctx
	return func() tea.Msg {
		reply, err := conv.Ask(ctx, q)
		return answerMsg{query: q, reply: reply, err: err}
	}
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Caricamento..."
	}
	header := headerStyle.Render("askdoc · " + m.title)
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	msgs := m.conv.History()
	if len(msgs) == 0 && m.pending == "" {
		return hintStyle.Render("Nessun messaggio.")
	}
	var b strings.Builder
	for _, msg := range msgs {
		writeTurn(&b, msg.Role, msg.Content)
	}
	if m.pending != "" {
		writeTurn(&b, chat.RoleUser, m.pending)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTurn(b *strings.Builder, role chat.Role, content string) {
	label := "Tu"
	style := userStyle
	if role == chat.RoleAssistant {
		label = "Assistente"
		style = assistantStyle
	}
	fmt.Fprintf(b, "%s\n%s\n\n", style.Render(label), content)
}

func describe(err error) string {
	switch {
	case errors.Is(err, conversation.ErrNotReady):
		return "nessun documento pronto"
	case errors.Is(err, conversation.ErrCompletionProvider):
		return "il modello non ha risposto (" + err.Error() + ")"
	default:
		return err.Error()
	}
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)
