// Package tui is the interactive query console: questions go through
// the routing pyramid, answers render with their citations and the
// tier that served them.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"policyrag/internal/domain"
	"policyrag/internal/orchestrator"
)

// QueryPort is the console-facing subset of the pyramid.
type QueryPort interface {
	Query(ctx context.Context, req orchestrator.QueryRequest) (*orchestrator.QueryResult, error)
}

// Model is the Bubble Tea model for the query console.
type Model struct {
	pyramid  QueryPort
	input    textinput.Model
	viewport viewport.Model
	result   *orchestrator.QueryResult
	status   string
	ready    bool
}

// New creates a console over the given pyramid.
func New(pyramid QueryPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question (prefix /detail, /summary, or /digest to pick a tier)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{pyramid: pyramid, input: ti, viewport: vp, status: "Ready."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

type answerMsg struct {
	result *orchestrator.QueryResult
	err    error
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input frame, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = maxInt(20, msg.Width)
		m.viewport.Height = maxInt(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.result = nil
		} else {
			m.result = msg.result
			m.status = fmt.Sprintf("Answered by %s tier", msg.result.Tier)
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			req := parseInput(q)
			m.status = "Thinking..."
			m.input.SetValue("")
			return m, func() tea.Msg {
				res, err := m.pyramid.Query(context.Background(), req)
				return answerMsg{result: res, err: err}
			}
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// parseInput recognizes an explicit tier override prefix; anything
// else is routed automatically.
func parseInput(q string) orchestrator.QueryRequest {
	req := orchestrator.QueryRequest{Question: q}
	for _, level := range []domain.Level{domain.LevelDetail, domain.LevelSummary, domain.LevelDigest} {
		prefix := "/" + level.String() + " "
		if strings.HasPrefix(q, prefix) {
			l := level
			req.Tier = &l
			req.Question = strings.TrimSpace(strings.TrimPrefix(q, prefix))
			return req
		}
	}
	return req
}

// View renders the console layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Policy RAG Console")
	answer := answerBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.result == nil {
		return "No answer yet."
	}
	var sb strings.Builder
	sb.WriteString(m.result.Answer.Answer)
	if len(m.result.Citations) > 0 {
		sb.WriteString("\n\n" + citationHeaderStyle.Render("Citations") + "\n")
		for i, c := range m.result.Citations {
			sb.WriteString(fmt.Sprintf("[Source %d] %s pages %d-%d (score=%.3f)\n",
				i+1, c.SourceFile, c.PageStart, c.PageEnd, c.Score))
			sb.WriteString(citationStyle.Render(c.Snippet) + "\n")
		}
	}
	return sb.String()
}

var (
	answerBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	citationHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	citationStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
