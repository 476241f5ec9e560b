package chat

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
)

const mouseWheelLines = 3

type chatMessage struct {
	role    string
	content string
	caption string
}

type sentMsg struct {
	err error
}

type bootTickMsg struct{}

type model struct {
	ctx    context.Context
	send   SendFunc
	sink   *Sink
	info   RuntimeInfo
	theme  theme
	photos int

	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
}

func newModel(ctx context.Context, send SendFunc, sink *Sink, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Moon
	spin.Style = lipgloss.NewStyle().Foreground(moonlight.sky)

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say hi, /selfie or /image <description>..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:       ctx,
		send:      send,
		sink:      sink,
		info:      info,
		theme:     newTheme(moonlight),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{bootTickCmd()}
	if m.sink != nil {
		cmds = append(cmds, waitForReply(m.sink))
	}
	return tea.Batch(cmds...)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case replyMsg:
		m.messages = append(m.messages, chatMessage{role: rolePersona, content: typed.text})
		m.refreshViewport(false)
		return m, waitForReply(m.sink)
	case photoMsg:
		m.photos++
		m.messages = append(m.messages, chatMessage{role: rolePhoto, content: typed.path, caption: typed.caption})
		m.refreshViewport(false)
		return m, waitForReply(m.sink)
	case sentMsg:
		m.isLoading = false
		m.lastErr = ""
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: roleError, content: typed.err.Error()})
		}
		m.refreshViewport(false)
		return m, nil
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}
		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m.submit()
		}
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the current input. Only one message is in flight at a time,
// matching the per-chat ordering of the relay.
func (m *model) submit() (tea.Model, tea.Cmd) {
	if m.isLoading {
		return m, nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if isExitCommand(text) {
		return m, tea.Quit
	}

	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
	m.input.SetValue("")
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return m, tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.send, text))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render(m.title())
	meta := m.theme.meta.Render(fmt.Sprintf(
		"text:%s · image:%s · turns:%d · photos:%d",
		displayOrNA(m.info.TextBackend),
		displayOrNA(m.info.ImageBackend),
		conversationTurns(m.messages),
		m.photos,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.idle.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.busy.Render(fmt.Sprintf("%s %s is typing...", m.spinner.View(), m.personaName()))
	}
	if m.lastErr != "" {
		status = m.theme.failed.Render("🚨 last message failed - try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.frame.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.prompt.Render("You")+" "+m.theme.hint.Render("(type exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		title, body := m.personaName(), strings.TrimSpace(item.content)
		switch item.role {
		case roleUser:
			title = "You"
		case rolePhoto:
			title = m.personaName() + " sent a photo"
			body = "📷 " + item.content
			if item.caption != "" {
				body += "\n\n" + item.caption
			}
		case roleError:
			title = "ERROR"
		}
		sections = append(sections, m.theme.render(item.role, title, body, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render(m.title())
	meta := m.theme.meta.Render("connecting")
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.boot.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.online.Render("✅ "+m.personaName()+" is online"))
	}

	body := m.theme.frame.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func (m *model) title() string {
	return "🌙 " + m.personaName()
}

func (m *model) personaName() string {
	return displayOrNA(m.info.Persona)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// handleViewportMouse scrolls on wheel events and leaves other mouse input alone.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseWheelLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseWheelLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] persona loaded",
		"[BOOT] text backend armed",
		"[BOOT] image backend armed",
		"[BOOT] opening console chat",
	}
}

func sendCmd(ctx context.Context, send SendFunc, text string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{err: send(ctx, text)}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
