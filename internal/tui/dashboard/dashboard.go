package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"samplerelay/internal/stats"
	"samplerelay/internal/tui/components"
	"samplerelay/internal/tui/styles"
)

// DoneMsg tells the dashboard the run is over.
type DoneMsg struct{}

// Model shows what the relay is doing while a run is in progress.
type Model struct {
	Title    string
	Stats    stats.Snapshot
	Progress progress.Model

	RateLine    components.Sparkline
	LatencyLine components.Sparkline

	StartTime   time.Time
	Duration    time.Duration
	LastUpdate  time.Time
	LastSamples uint64

	Done     bool
	Quitting bool

	Width  int
	Height int
}

func NewModel(title string, totalDur time.Duration) Model {
	now := time.Now()
	return Model{
		Title:       title,
		Progress:    progress.New(progress.WithDefaultGradient()),
		RateLine:    components.NewSparkline(40, "Samples/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Elapsed P90 (ms)", styles.Warn),
		StartTime:   now,
		Duration:    totalDur,
		LastUpdate:  now,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stats.Snapshot:
		return m.applySnapshot(msg, time.Now())

	case DoneMsg:
		m.Done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.Quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = max(msg.Width-4, 10)
		half := max(msg.Width/2-4, 10)
		m.RateLine.Width = half
		m.LatencyLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Model) applySnapshot(snap stats.Snapshot, now time.Time) (Model, tea.Cmd) {
	dt := now.Sub(m.LastUpdate).Seconds()
	if dt < 0.01 {
		dt = 0.01
	}
	var delta uint64
	if snap.Samples > m.LastSamples {
		delta = snap.Samples - m.LastSamples
	}
	m.RateLine.Add(float64(delta) / dt)
	m.LatencyLine.Add(snap.P90Ms)

	m.Stats = snap
	m.LastSamples = snap.Samples
	m.LastUpdate = now

	if m.Duration <= 0 {
		return m, nil
	}
	pct := float64(now.Sub(m.StartTime)) / float64(m.Duration)
	return m, m.Progress.SetPercent(min(pct, 1.0))
}

func (m Model) View() string {
	var s strings.Builder

	if m.Title != "" {
		s.WriteString(styles.Title.Render(m.Title))
		s.WriteString("\n\n")
	}

	st := m.Stats
	samples := fmt.Sprintf("SAMPLES: %d\nINFLIGHT: %d", st.Samples, st.Inflight)
	engine := styles.ForRate(st.ErrorRate).Render(fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", st.ErrorRate, st.Fail))
	relay := fmt.Sprintf("SENT: %s\nFILTERED: %d  FAILED: %s",
		styles.Value.Render(fmt.Sprint(st.Submitted)),
		st.Filtered,
		failedStyle(st.Failed).Render(fmt.Sprint(st.Failed)),
	)

	lagStyle := styles.Active
	switch {
	case st.AvgQueueWaitMs > 10:
		lagStyle = styles.Error
	case st.AvgQueueWaitMs > 2:
		lagStyle = styles.Warn
	}
	lag := fmt.Sprintf("LAG: %s\nKB: %d", lagStyle.Render(fmt.Sprintf("%.2f ms", st.AvgQueueWaitMs)), st.Bytes/1024)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(samples),
		styles.Box.Render(engine),
		styles.Box.Render(relay),
		styles.Box.Render(lag),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RateLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	latencies := fmt.Sprintf("P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %d ms",
		st.P50Ms, st.P90Ms, st.P99Ms, st.MaxMs)
	box := styles.Box
	if m.Width > 4 {
		box = box.Width(m.Width - 4)
	}
	s.WriteString(box.Render(latencies))
	s.WriteString("\n\n")

	if m.Duration > 0 {
		s.WriteString(m.Progress.View())
		s.WriteString("\n")
	}
	s.WriteString(styles.RenderKey("q", "stop"))
	return s.String()
}

func failedStyle(n uint64) lipgloss.Style {
	if n > 0 {
		return styles.Error
	}
	return styles.Value
}

// Run shows the dashboard until done is closed or the user quits. Quitting
// cancels ctx through stop.
func Run(ctx context.Context, title string, totalDur time.Duration, updates <-chan stats.Snapshot, done <-chan struct{}, stop context.CancelFunc) error {
	p := tea.NewProgram(NewModel(title, totalDur), tea.WithContext(ctx), tea.WithAltScreen())

	go func() {
		for {
			select {
			case snap := <-updates:
				p.Send(snap)
			case <-done:
				p.Send(DoneMsg{})
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	final, err := p.Run()
	if m, ok := final.(Model); ok && m.Quitting && stop != nil {
		stop()
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
