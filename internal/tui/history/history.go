package history

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"samplerelay/internal/storage"
	"samplerelay/internal/tui/styles"
)

// Model browses saved runs.
type Model struct {
	Items []storage.HistoryItem
	Table table.Model

	Width  int
	Height int
}

func NewModel(items []storage.HistoryItem) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Source", Width: 8},
		{Title: "Test", Width: 20},
		{Title: "Sink", Width: 8},
		{Title: "Samples", Width: 9},
		{Title: "Sent", Width: 9},
		{Title: "Filtered", Width: 9},
		{Title: "Failed", Width: 7},
		{Title: "P99 (ms)", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)
	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)
	t.SetStyles(s)

	m := Model{Items: items, Table: t}
	m.Table.SetRows(Rows(items))
	return m
}

// Rows renders items newest first, as stored.
func Rows(items []storage.HistoryItem) []table.Row {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		sum := item.Summary
		rows[i] = table.Row{
			item.Timestamp.Format("2006-01-02 15:04:05"),
			item.Source,
			item.TestName,
			item.Sink,
			fmt.Sprint(sum.Samples),
			fmt.Sprint(sum.Submitted),
			fmt.Sprint(sum.Filtered),
			fmt.Sprint(sum.Failed),
			fmt.Sprintf("%.2f", sum.P99Ms),
		}
	}
	return rows
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
		m.Table.SetHeight(max(msg.Height-8, 3))
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

// Selected returns the highlighted run.
func (m Model) Selected() (storage.HistoryItem, bool) {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return storage.HistoryItem{}, false
	}
	return m.Items[i], true
}

func (m Model) View() string {
	out := styles.Title.Render("Run history") + "\n" + styles.Box.Render(m.Table.View()) + "\n"
	if item, ok := m.Selected(); ok {
		sum := item.Summary
		out += styles.Subtle.Render(fmt.Sprintf("%s  duration %s  mean %.2f ms  p50 %.2f ms  row errors %d",
			item.ID, sum.Duration, sum.MeanMs, sum.P50Ms, sum.RowErrors)) + "\n"
	}
	return out + styles.RenderKey("↑/↓", "move") + "  " + styles.RenderKey("q", "quit")
}

// Run shows items until the user quits.
func Run(items []storage.HistoryItem) error {
	_, err := tea.NewProgram(NewModel(items)).Run()
	return err
}
