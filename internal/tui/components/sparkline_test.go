package components

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparkline_ScrollsAndScales(t *testing.T) {
	t.Parallel()

	s := NewSparkline(4, "rate", lipgloss.NewStyle())
	for _, v := range []float64{1, 8, 2, 4, 8} {
		s.Add(v)
	}

	assert.Equal(t, []float64{8, 2, 4, 8}, s.Data)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, "█▂▄█", s.Graph())
}

func TestSparkline_PadsAndHandlesZero(t *testing.T) {
	t.Parallel()

	s := NewSparkline(3, "p90", lipgloss.NewStyle())
	s.Add(0)
	assert.Equal(t, "   ", s.Graph())

	s.Add(-5)
	assert.Equal(t, []float64{0, 0}, s.Data)
	assert.Empty(t, Sparkline{}.View())
}
