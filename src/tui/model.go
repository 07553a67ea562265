// Package tui is the terminal front-end of the inspector: a command line
// with history suggestions, a traffic log and a payload preview pane.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/orchestra-mcp/phxscope/src/codec"
	"github.com/orchestra-mcp/phxscope/src/preview"
	"github.com/orchestra-mcp/phxscope/src/service"
	"github.com/orchestra-mcp/phxscope/src/types"
)

const (
	eventBuffer     = 1024
	maxSuggestions  = 6
	minPreviewLines = 3
)

// Bridge is the command surface the TUI drives.
type Bridge interface {
	Execute(cmd types.Command) (any, error)
	QuerySuggestions(field, term string) []string
	Status() service.Status
}

// Views exposes rendered preview containers.
type Views interface {
	View(containerID string) (string, bool)
	SetWidth(width int)
}

// Subscribe registers a buffered event feed on svc. Events are dropped
// when the TUI falls behind by more than the buffer.
func Subscribe(svc interface{ OnEvent(types.EventHandler) }) <-chan types.Event {
	ch := make(chan types.Event, eventBuffer)
	svc.OnEvent(func(e types.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	return ch
}

// eventMsg wraps a bridge event for delivery through the bubbletea
// message loop.
type eventMsg struct {
	event types.Event
}

// entry is one line of the traffic log.
type entry struct {
	at      time.Time
	kind    types.EventKind
	topic   string
	event   string
	payload any
	text    string // set for local lines such as help or failures
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	inStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	outStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	pickStyle    = lipgloss.NewStyle().Reverse(true)
)

// Model is the bubbletea model of the inspector.
type Model struct {
	bridge Bridge
	views  Views
	events <-chan types.Event
	keys   KeyMap

	input   textinput.Model
	log     viewport.Model
	entries []entry

	suggestions []string
	suggestion  int // index of the next suggestion tab inserts
	prefix      string

	notice    string
	noticeErr bool

	width, height int
}

// NewModel creates the TUI model. events may be nil.
func NewModel(bridge Bridge, views Views, events <-chan types.Event) Model {
	input := textinput.New()
	input.Prompt = "› "
	input.Placeholder = "/connect ws://localhost:4000/socket"
	input.Focus()

	return Model{
		bridge: bridge,
		views:  views,
		events: events,
		keys:   DefaultKeyMap,
		input:  input,
		log:    viewport.New(80, 10),
		notice: "type /help for commands",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listenForEvent(m.events))
}

// listenForEvent returns a tea.Cmd that blocks until an event arrives,
// then delivers it as an eventMsg.
func listenForEvent(ch <-chan types.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Submit):
			return m.submit()
		case key.Matches(msg, m.keys.Complete):
			m.complete()
			return m, nil
		case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.refreshSuggestions()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case eventMsg:
		m.record(msg.event)
		return m, listenForEvent(m.events)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.SetValue("")
	m.suggestions, m.suggestion, m.prefix = nil, 0, ""
	if strings.TrimSpace(line) == "" {
		return m, nil
	}

	action, err := Parse(line)
	if err != nil {
		m.setNotice(err.Error(), true)
		return m, nil
	}
	if action.Quit {
		return m, tea.Quit
	}
	if action.Help {
		for _, h := range helpLines {
			m.append(entry{at: time.Now(), text: h})
		}
		return m, nil
	}

	cmd := action.Command
	if action.Entry > 0 {
		e, ok := m.entryAt(action.Entry)
		if !ok {
			m.setNotice(fmt.Sprintf("no traffic entry %d", action.Entry), true)
			return m, nil
		}
		switch cmd.Name {
		case types.CommandPreview:
			data, err := json.Marshal(e.payload)
			if err != nil {
				m.setNotice(err.Error(), true)
				return m, nil
			}
			cmd.Data = data
		case types.CommandCopy:
			cmd.Value = copyText(e.payload)
		}
	}

	if _, err := m.bridge.Execute(cmd); err != nil {
		m.setNotice(err.Error(), true)
		return m, nil
	}
	m.setNotice(describe(action), false)
	return m, nil
}

// complete inserts the next history suggestion for the argument under
// the cursor.
func (m *Model) complete() {
	if len(m.suggestions) == 0 {
		m.refreshSuggestions()
		if len(m.suggestions) == 0 {
			return
		}
	}
	pick := m.suggestions[m.suggestion%len(m.suggestions)]
	m.suggestion++
	m.input.SetValue(m.prefix + pick)
	m.input.CursorEnd()
}

func (m *Model) refreshSuggestions() {
	m.suggestions, m.suggestion, m.prefix = nil, 0, ""
	field, term, prefix, ok := Completion(m.input.Value())
	if !ok {
		return
	}
	m.suggestions = m.bridge.QuerySuggestions(field, term)
	m.prefix = prefix
}

func (m *Model) record(e types.Event) {
	m.append(entry{
		at:      e.Timestamp,
		kind:    e.Kind,
		topic:   oneLine(e.Topic),
		event:   oneLine(e.Event),
		payload: e.Payload,
		text:    eventText(e),
	})
	switch e.Kind {
	case types.EventConnectionFailed, types.EventJoinFailed:
		m.setNotice(eventText(e), true)
	case types.EventConnectionEstablished, types.EventJoined:
		m.setNotice(eventText(e), false)
	}
}

func (m *Model) append(e entry) {
	if e.at.IsZero() {
		e.at = time.Now()
	}
	atBottom := m.log.AtBottom()
	m.entries = append(m.entries, e)
	m.log.SetContent(m.renderLog())
	if atBottom {
		m.log.GotoBottom()
	}
}

func (m Model) entryAt(n int) (entry, bool) {
	if n < 1 || n > len(m.entries) {
		return entry{}, false
	}
	return m.entries[n-1], true
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr = text, isErr
}

func (m *Model) layout() {
	m.input.Width = max(m.width-4, 10)
	m.log.Width = m.width
	m.log.Height = m.logHeight()
	if m.views != nil {
		m.views.SetWidth(m.width)
	}
	m.log.SetContent(m.renderLog())
}

// Fixed rows: title, divider, suggestions, input, notice.
func (m Model) logHeight() int {
	body := m.height - 5
	return max(body-m.previewHeight(), 1)
}

func (m Model) previewHeight() int {
	return max((m.height-5)/2, minPreviewLines)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTitle())
	b.WriteByte('\n')
	b.WriteString(m.log.View())
	b.WriteByte('\n')
	b.WriteString(dividerStyle.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteByte('\n')
	b.WriteString(m.renderPreview())
	b.WriteByte('\n')
	b.WriteString(m.renderSuggestions())
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	b.WriteByte('\n')
	if m.noticeErr {
		b.WriteString(errorStyle.Render(m.notice))
	} else {
		b.WriteString(faintStyle.Render(m.notice))
	}
	return b.String()
}

func (m Model) renderTitle() string {
	st := m.bridge.Status()
	title := titleStyle.Render("phxscope")
	parts := []string{title, string(st.State)}
	if st.Endpoint != "" {
		parts = append(parts, st.Endpoint)
	}
	if st.Active != "" {
		parts = append(parts, "→ "+st.Active)
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderLog() string {
	lines := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		lines = append(lines, m.renderEntry(i+1, e))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderEntry(n int, e entry) string {
	stamp := faintStyle.Render(fmt.Sprintf("%3d %s", n, e.at.Format("15:04:05")))
	var line string
	switch e.kind {
	case types.EventMessageReceived:
		line = fmt.Sprintf("%s %s %s %s", inStyle.Render("←"), e.topic, e.event, compact(e.payload))
	case types.EventMessageSent:
		line = fmt.Sprintf("%s %s %s %s", outStyle.Render("→"), e.topic, e.event, compact(e.payload))
	case types.EventConnectionFailed, types.EventJoinFailed:
		line = errorStyle.Render("• " + e.text)
	default:
		line = faintStyle.Render("• " + e.text)
	}
	out := stamp + " " + line
	if m.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(m.width).Render(out)
	}
	return out
}

func (m Model) renderPreview() string {
	h := m.previewHeight()
	content := faintStyle.Render("/preview <n> shows a traffic entry here")
	if m.views != nil {
		if v, ok := m.views.View(PreviewContainer); ok {
			content = v
		}
	}
	return lipgloss.NewStyle().Height(h).MaxHeight(h).Render(content)
}

func (m Model) renderSuggestions() string {
	if len(m.suggestions) == 0 {
		return ""
	}
	shown := m.suggestions
	if len(shown) > maxSuggestions {
		shown = shown[len(shown)-maxSuggestions:]
	}
	current := -1
	if m.suggestion > 0 {
		current = (m.suggestion - 1) % len(m.suggestions)
	}
	offset := len(m.suggestions) - len(shown)
	parts := make([]string, len(shown))
	for i, s := range shown {
		if i+offset == current {
			parts[i] = pickStyle.Render(s)
		} else {
			parts[i] = faintStyle.Render(s)
		}
	}
	return strings.Join(parts, "  ")
}

// eventText describes e for the log. Every field may come from the
// remote server, so the result is sanitized.
func eventText(e types.Event) string {
	return oneLine(describeEvent(e))
}

func describeEvent(e types.Event) string {
	switch e.Kind {
	case types.EventConnectionEstablished:
		return "connected to " + e.Endpoint
	case types.EventConnectionFailed:
		return fmt.Sprintf("connection to %s failed: %s", e.Endpoint, e.Reason)
	case types.EventJoined:
		return "joined " + e.Topic
	case types.EventJoinFailed:
		return fmt.Sprintf("join %s failed: %s", e.Topic, e.Reason)
	}
	return ""
}

func describe(a Action) string {
	c := a.Command
	switch c.Name {
	case types.CommandConnect:
		return "connecting to " + c.URL
	case types.CommandDisconnect:
		return "disconnected"
	case types.CommandJoin:
		return "joining " + c.Topic
	case types.CommandSend:
		return "sent " + c.Event
	case types.CommandPreview:
		return fmt.Sprintf("previewing entry %d", a.Entry)
	case types.CommandCopy:
		return fmt.Sprintf("copied entry %d", a.Entry)
	}
	return ""
}

// compact renders a payload on one line.
func compact(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return oneLine(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return oneLine(fmt.Sprint(v))
	}
	return oneLine(string(b))
}

var lineBreaks = strings.NewReplacer("\n", " ", "\t", " ")

// oneLine strips terminal control sequences and folds s onto one line.
func oneLine(s string) string {
	return lineBreaks.Replace(preview.Sanitize(s))
}

func copyText(v any) string {
	if v == nil {
		return ""
	}
	return codec.Indent(v)
}
