// Command seepchat runs the shopping assistant widget in a terminal, talking
// to the same assistant service an embedded page would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/ent0n29/seep/internal/config"
	"github.com/ent0n29/seep/internal/conversation"
	"github.com/ent0n29/seep/internal/merchant"
	"github.com/ent0n29/seep/internal/protocol"
	"github.com/ent0n29/seep/internal/transcript"
	"github.com/ent0n29/seep/internal/widget"
)

var (
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	actionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Underline(true)
	chipStyle   = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	merchantID := flag.String("merchant", cfg.DefaultMerchantID, "merchant id")
	scriptSrc := flag.String("script", "", "widget script URL; its origin is the service host")
	tz := flag.String("tz", "Local", "IANA timezone used for the greeting")
	flag.Parse()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatalf("invalid timezone %q: %v", *tz, err)
	}

	var store transcript.Store
	if cfg.DatabaseURL != "" {
		store, err = transcript.NewStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("transcript store init failed: %v", err)
		}
		defer store.Close()
	}

	factory := widget.NewFactory(widget.FactoryConfig{
		DefaultHost:         cfg.ServiceHost,
		AllowedHosts:        cfg.AllowedHosts,
		DefaultMerchantID:   cfg.DefaultMerchantID,
		BackendMode:         cfg.BackendMode,
		MockChunkDelay:      cfg.MockChunkDelay,
		ChatTimeout:         cfg.ChatTimeout,
		ConfigTimeout:       cfg.ConfigTimeout,
		TelemetryTimeout:    cfg.TelemetryTimeout,
		TelemetryEnabled:    cfg.TelemetryEnabled,
		EscalationThreshold: cfg.EscalationThreshold,
		UnhelpfulPhrases:    cfg.UnhelpfulPhrases,
		Transcript:          store,
	})
	defer factory.Flush()

	w, err := factory.New("", widget.ParseEmbed(*scriptSrc, *merchantID), loc)
	if err != nil {
		log.Fatalf("widget init failed: %v", err)
	}
	w.Init(context.Background())

	p := tea.NewProgram(newModel(w), tea.WithAltScreen())
	q := newEventQueue()
	detach := w.Attach(widget.SinkFunc(q.push))
	defer detach()
	go q.forward(p)
	defer q.close()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
	}
	w.End()
}

type widgetEventMsg struct{ event any }

// eventQueue hands widget events to the program in order. push never blocks
// since the widget emits while holding its lock.
type eventQueue struct {
	mu     sync.Mutex
	events []any
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(event any) {
	q.mu.Lock()
	q.events = append(q.events, event)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) forward(p *tea.Program) {
	for range q.notify {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		closed := q.closed
		q.mu.Unlock()
		for _, ev := range batch {
			p.Send(widgetEventMsg{event: ev})
		}
		if closed {
			return
		}
	}
}

type submitDoneMsg struct{ err error }

type model struct {
	w        *widget.Widget
	input    textinput.Model
	spin     spinner.Model
	view     viewport.Model
	ready    bool
	typing   bool
	open     bool
	replies  []string
	bar      []merchant.BarAction
	color    string
	status   string
	width    int
	messages []conversation.Message
}

func newModel(w *widget.Widget) model {
	in := textinput.New()
	in.Placeholder = "Ask about products, orders, returns..."
	in.Prompt = "You> "
	in.Focus()
	in.Width = 60

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return model{w: w, input: in, spin: s}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, textinput.Blink, openCmd(m.w))
}

func openCmd(w *widget.Widget) tea.Cmd {
	return func() tea.Msg {
		w.Open()
		return nil
	}
}

func submitCmd(submit func(context.Context, string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{err: submit(context.Background(), text)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-8, 10)
		height := max(msg.Height-6, 3)
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+o":
			w := m.w
			return m, func() tea.Msg { w.Toggle(); return nil }
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.SetValue("")
			if target, ok := strings.CutPrefix(text, "/"); ok {
				if !m.w.ClickAction(target) {
					m.status = "no action " + target
				} else {
					m.status = "opened " + target
				}
				return m, nil
			}
			m.status = ""
			return m, submitCmd(m.w.Submit, text)
		default:
			if n, ok := chipIndex(msg.String()); ok && m.input.Value() == "" && n < len(m.replies) {
				return m, submitCmd(m.w.QuickReply, m.replies[n])
			}
		}

	case widgetEventMsg:
		m.apply(msg.event)
		m.refresh()
		return m, nil

	case submitDoneMsg:
		switch {
		case errors.Is(msg.err, widget.ErrBusy):
			m.status = "still answering, hold on"
		case errors.Is(msg.err, widget.ErrEnded):
			m.status = "conversation ended"
		case msg.err != nil:
			m.status = msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.spin, cmd = m.spin.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func chipIndex(key string) (int, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return 0, false
	}
	return int(key[0] - '1'), true
}

func (m *model) apply(event any) {
	switch ev := event.(type) {
	case protocol.WidgetState:
		m.open = ev.Open
		m.bar = ev.ActionBar
		m.color = ev.Color
	case protocol.Typing:
		m.typing = ev.Active
	case protocol.QuickReplies:
		m.replies = ev.Replies
	case protocol.MessageCreated:
		// Chips go away once the conversation starts.
		if ev.Message.Sender == conversation.SenderUser {
			m.replies = nil
		}
	}
	m.messages = m.w.Messages()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.messages {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n")
	}
	m.view.SetContent(b.String())
	m.view.GotoBottom()
}

func renderMessage(msg conversation.Message) string {
	var b strings.Builder
	switch {
	case msg.Sender == conversation.SenderUser:
		b.WriteString(userStyle.Render("You:") + " " + msg.Text)
	case msg.Kind == conversation.KindError:
		b.WriteString(errorStyle.Render("Bot:") + " " + msg.Text)
	case msg.Text != "":
		b.WriteString(botStyle.Render("Bot:") + " " + msg.Text)
	}
	for _, a := range msg.Actions {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  " + actionStyle.Render(a.Text) + " " + dimStyle.Render(a.URL))
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := botStyle.Render("Shopping Assistant")
	if m.color != "" {
		header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(m.color)).Render("Shopping Assistant")
	}
	if !m.open {
		header += dimStyle.Render("  (closed, ctrl+o to open)")
	}
	for _, a := range m.bar {
		header += "  " + actionStyle.Render(a.Text) + dimStyle.Render(" /"+a.Target)
	}

	var chips []string
	for i, r := range m.replies {
		chips = append(chips, chipStyle.Render(fmt.Sprintf("%d %s", i+1, r)))
	}

	footer := m.input.View()
	if m.typing {
		footer = m.spin.View() + " typing...\n" + footer
	}
	if m.status != "" {
		footer += "\n" + dimStyle.Render(m.status)
	}

	parts := []string{header, m.view.View()}
	if len(chips) > 0 {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top, chips...))
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
