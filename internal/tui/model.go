package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pdfchat/internal/domain"
	"pdfchat/internal/session"
)

// SessionPort is the TUI-facing subset of the session controller.
type SessionPort interface {
	Process(ctx context.Context, docs []domain.Document, model domain.ModelID) (session.Summary, error)
	Ask(ctx context.Context, question string) ([]session.DisplayTurn, error)
	Snapshot() session.Snapshot
}

type processedMsg struct {
	summary session.Summary
	err     error
}

type answeredMsg struct {
	turns []session.DisplayTurn
	err   error
}

type inboxMsg struct{ path string }

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session SessionPort
	inbox   <-chan string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	model    domain.ModelID
	pending  []string
	turns    []session.DisplayTurn
	asking   string
	busy     bool
	status   string
	failed   bool
	overview string
	ready    bool
}

// Option configures a Model.
type Option func(*Model)

// WithInbox feeds paths from a watched directory into the upload list.
func WithInbox(paths <-chan string) Option {
	return func(m *Model) { m.inbox = paths }
}

// WithFiles pre-populates the upload list.
func WithFiles(paths []string) Option {
	return func(m *Model) { m.pending = appendUnique(m.pending, paths...) }
}

// New creates a new TUI model instance.
func New(ctx context.Context, s SessionPort, model domain.ModelID, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /help"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(botColor)
	m := Model{
		ctx:      ctx,
		session:  s,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		model:    model,
		status:   "Add PDF files with /add <path>, then /process.",
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init initializes the model (text input cursor blink, inbox listener).
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForInbox())
}

// Update handles key, window and completion events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := chatBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + overview, status, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case processedMsg:
		m.busy, m.cancel = false, nil
		if msg.err != nil {
			m.setError(msg.err)
			m.refresh()
			return m, nil
		}
		m.pending = nil
		m.turns = nil
		m.overview = msg.summary.Overview
		m.setStatus(fmt.Sprintf("Processed %d file(s) into %d chunks with %s in %s. Ask away.",
			len(msg.summary.Files), msg.summary.Chunks, msg.summary.Model, msg.summary.Took.Round(10*time.Millisecond)))
		m.refresh()
		return m, nil

	case answeredMsg:
		m.busy, m.cancel = false, nil
		m.asking = ""
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.turns = msg.turns
			m.setStatus("")
		}
		m.refresh()
		return m, nil

	case inboxMsg:
		m.pending = appendUnique(m.pending, msg.path)
		m.setStatus(fmt.Sprintf("Queued %s from inbox.", msg.path))
		m.refresh()
		return m, m.waitForInbox()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.busy && m.cancel != nil {
				m.cancel()
				m.setStatus("Cancelling...")
			}
			return m, nil
		case tea.KeyTab:
			if !m.busy {
				m.model = m.model.Next()
				m.setStatus(fmt.Sprintf("Model %s will be used for the next /process.", m.model))
			}
			return m, nil
		case tea.KeyCtrlP:
			return m.startProcess()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if strings.HasPrefix(line, "/") {
				return m.command(line)
			}
			return m.startAsk(line)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) command(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.setStatus("/add <path|glob>  /files  /clear  /model [name]  /process  /quit   tab: next model  esc: cancel")
	case "/add":
		if len(args) == 0 {
			m.setStatus("Usage: /add <path|glob> ...")
			break
		}
		paths, err := session.ExpandPaths(args)
		if err != nil {
			m.setError(err)
			break
		}
		m.pending = appendUnique(m.pending, paths...)
		m.setStatus(fmt.Sprintf("%d file(s) waiting. /process when ready.", len(m.pending)))
	case "/files":
		if len(m.pending) == 0 {
			m.setStatus("No files waiting.")
		} else {
			m.setStatus("Waiting: " + strings.Join(m.pending, ", "))
		}
	case "/clear":
		m.pending = nil
		m.setStatus("Upload list cleared.")
	case "/model":
		if m.busy {
			m.setError(session.ErrBusy)
			break
		}
		if len(args) == 0 {
			m.model = m.model.Next()
		} else {
			id, err := domain.ParseModel(args[0])
			if err != nil {
				m.setError(&session.IngestionError{Stage: session.StageValidate, Err: err})
				break
			}
			m.model = id
		}
		m.setStatus(fmt.Sprintf("Model %s will be used for the next /process.", m.model))
	case "/process":
		return m.startProcess()
	default:
		m.setStatus(fmt.Sprintf("Unknown command %s. Try /help.", fields[0]))
	}
	m.refresh()
	return m, nil
}

func (m Model) startProcess() (tea.Model, tea.Cmd) {
	if m.busy {
		m.setError(session.ErrBusy)
		return m, nil
	}
	if len(m.pending) == 0 {
		m.setStatus("Add PDF files with /add <path> first.")
		return m, nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy, m.cancel = true, cancel
	m.setStatus(fmt.Sprintf("Processing %d file(s) with %s...", len(m.pending), m.model))
	m.refresh()

	paths := append([]string(nil), m.pending...)
	model, s := m.model, m.session
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		defer cancel()
		docs, err := session.ReadDocuments(paths)
		if err != nil {
			return processedMsg{err: &session.IngestionError{Stage: session.StageValidate, Err: err}}
		}
		sum, err := s.Process(ctx, docs, model)
		return processedMsg{summary: sum, err: err}
	})
}

func (m Model) startAsk(question string) (tea.Model, tea.Cmd) {
	if m.busy {
		m.setError(session.ErrBusy)
		return m, nil
	}
	if question == "" {
		return m, nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy, m.cancel = true, cancel
	m.asking = question
	m.setStatus("Thinking...")
	m.refresh()

	s := m.session
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		defer cancel()
		turns, err := s.Ask(ctx, question)
		return answeredMsg{turns: turns, err: err}
	})
}

func (m Model) waitForInbox() tea.Cmd {
	if m.inbox == nil {
		return nil
	}
	ch := m.inbox
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return inboxMsg{path: p}
	}
}

func (m *Model) setStatus(s string) {
	m.status, m.failed = s, false
}

func (m *Model) setError(err error) {
	m.status, m.failed = session.Advisory(err), true
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("PDF Chat") + "  " + m.headerInfo()
	overview := mutedStyle.Render(truncate(m.overview, max(10, m.viewport.Width)))
	chat := chatBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())

	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	if m.failed {
		status = errorStyle.Render(status)
	} else {
		status = statusStyle.Render(status)
	}
	return header + "\n" + overview + "\n" + chat + "\n" + input + "\n" + status
}

func (m Model) headerInfo() string {
	snap := m.session.Snapshot()
	parts := []string{"next model: " + m.model.String()}
	if snap.Ready {
		names := make([]string, len(snap.Summary.Files))
		for i, f := range snap.Summary.Files {
			names[i] = f.Name
		}
		parts = append(parts, fmt.Sprintf("chatting with %s over %s", snap.Model, strings.Join(names, ", ")))
	}
	if len(m.pending) > 0 {
		parts = append(parts, fmt.Sprintf("%d waiting", len(m.pending)))
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 && m.asking == "" {
		return mutedStyle.Render("No conversation yet.")
	}
	width := max(10, m.viewport.Width-2)
	userBlock := userStyle.Width(width)
	botBlock := botStyle.Width(width)

	var sb strings.Builder
	for _, t := range m.turns {
		sb.WriteString(userBlock.Render(t.User))
		sb.WriteString("\n")
		sb.WriteString(botBlock.Render(t.Assistant))
		sb.WriteString("\n")
	}
	if m.asking != "" {
		sb.WriteString(userBlock.Render(m.asking))
		sb.WriteString("\n")
		sb.WriteString(botBlock.Render(m.spinner.View()))
	}
	return strings.TrimRight(sb.String(), "\n")
}

var (
	userColor = lipgloss.Color("#9B00FF")
	botColor  = lipgloss.Color("#00E5FF")

	chatBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(userColor).PaddingLeft(1)
	botStyle      = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(botColor).Foreground(botColor).PaddingLeft(1).MarginBottom(1)
	titleStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, have := range list {
			if have == it {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, it)
		}
	}
	return list
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
