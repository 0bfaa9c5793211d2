package form

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"samplerelay/internal/listener"
	"samplerelay/internal/runner"
	"samplerelay/internal/tui/styles"
)

const (
	fieldURL = iota
	fieldRate
	fieldUsers
	fieldDuration
	fieldTestName
	fieldSamplers
	fieldHeaders
)

type Field struct {
	Label string
	Input textinput.Model
}

// Model collects what a run needs when it was started without a target.
type Model struct {
	Config runner.Config
	Params listener.Params

	Fields []Field
	Focus  int

	Submitted bool
	Cancelled bool

	Width  int
	Height int
}

func newInput(placeholder, value string, width int) textinput.Model {
	t := textinput.New()
	t.Placeholder = placeholder
	t.SetValue(value)
	t.Width = width
	return t
}

func NewModel(cfg runner.Config, params listener.Params) Model {
	m := Model{
		Config: cfg,
		Params: params,
		Fields: []Field{
			fieldURL:      {"Target URL", newInput("http://localhost:8080/fast", cfg.URL, 50)},
			fieldRate:     {"Target RPS", newInput("10", strconv.Itoa(cfg.TargetRPS), 10)},
			fieldUsers:    {"Users (empty = open loop)", newInput("0", positive(cfg.NumUsers), 10)},
			fieldDuration: {"Duration (s)", newInput("10", strconv.Itoa(cfg.SteadyDur), 10)},
			fieldTestName: {"Test name", newInput(listener.DefaultTestName, params.GetOr(listener.KeyTestName, ""), 30)},
			fieldSamplers: {"Samplers (;-separated, empty = all)", newInput("", params.GetOr(listener.KeySamplersList, ""), 50)},
			fieldHeaders:  {"Response headers (;-separated)", newInput("AzRef-PodName;AzRef-NodeIp", params.GetOr(listener.KeyResponseHeaders, ""), 50)},
		},
	}
	return m.focus(0)
}

func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func (m Model) focus(i int) Model {
	n := len(m.Fields)
	m.Focus = (i%n + n) % n
	for j := range m.Fields {
		if j == m.Focus {
			m.Fields[j].Input.Focus()
			m.Fields[j].Input.PromptStyle = styles.Active
			m.Fields[j].Input.TextStyle = styles.Active
		} else {
			m.Fields[j].Input.Blur()
			m.Fields[j].Input.PromptStyle = lipgloss.NewStyle()
			m.Fields[j].Input.TextStyle = lipgloss.NewStyle()
		}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.Cancelled = true
			return m, tea.Quit
		case "enter":
			if m.Focus == len(m.Fields)-1 {
				m.Submitted = true
				return m, tea.Quit
			}
			return m.focus(m.Focus + 1), nil
		case "tab", "down":
			return m.focus(m.Focus + 1), nil
		case "shift+tab", "up":
			return m.focus(m.Focus - 1), nil
		}
	}

	var cmd tea.Cmd
	m.Fields[m.Focus].Input, cmd = m.Fields[m.Focus].Input.Update(msg)
	return m, cmd
}

func (m Model) value(i int) string {
	return strings.TrimSpace(m.Fields[i].Input.Value())
}

// Result applies the form to the config and parameters it was built from.
// Numbers that do not parse keep their previous value.
func (m Model) Result() (runner.Config, listener.Params) {
	c := m.Config
	c.URL = m.value(fieldURL)
	if n, err := strconv.Atoi(m.value(fieldRate)); err == nil {
		c.TargetRPS = n
	}
	if n, err := strconv.Atoi(m.value(fieldDuration)); err == nil {
		c.SteadyDur = n
	}
	c.NumUsers, _ = strconv.Atoi(m.value(fieldUsers))
	c.Mode = runner.ModeRPS
	if c.NumUsers > 0 {
		c.Mode = runner.ModeUsers
	}

	params := append(listener.Params(nil), m.Params...)
	if v := m.value(fieldTestName); v != "" {
		params = params.Set(listener.KeyTestName, v)
	}
	params = params.Set(listener.KeySamplersList, m.value(fieldSamplers))
	if v := m.value(fieldHeaders); v != "" {
		params = params.Set(listener.KeyResponseHeaders, v)
	}
	return c, params
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(styles.Title.Render("Run setup"))
	s.WriteString("\n\n")
	for i := range m.Fields {
		s.WriteString(styles.Subtle.Render(m.Fields[i].Label))
		s.WriteString("\n")
		s.WriteString(m.Fields[i].Input.View())
		s.WriteString("\n\n")
	}
	s.WriteString(styles.RenderKey("tab", "next") + "  " + styles.RenderKey("esc", "cancel") + "\n")
	s.WriteString(styles.Active.Render(fmt.Sprintf("[Enter on %q] Start", m.Fields[len(m.Fields)-1].Label)))

	return styles.Box.Render(s.String())
}

// Run shows the form. ok is false when the user cancelled.
func Run(cfg runner.Config, params listener.Params) (runner.Config, listener.Params, bool, error) {
	final, err := tea.NewProgram(NewModel(cfg, params)).Run()
	if err != nil {
		return cfg, params, false, err
	}
	m, _ := final.(Model)
	if !m.Submitted {
		return cfg, params, false, nil
	}
	c, p := m.Result()
	return c, p, true, nil
}
