package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparklineEmptyRendersSpaces(t *testing.T) {
	s := NewSparkline(10)
	out := s.Render()
	assert.Equal(t, strings.Repeat(" ", 10), out)
}

func TestSparklineScalesToMax(t *testing.T) {
	s := NewSparkline(4)
	s.Add(1)
	s.Add(2)
	s.Add(4)

	out := []rune(s.Render())
	assert.Len(t, out, 4)
	assert.Equal(t, '█', out[2], "max sample renders the tallest bar")
	assert.Equal(t, ' ', out[3], "unfilled slots pad with spaces")
	assert.True(t, out[0] < out[2], "smaller samples render shorter bars")
}

func TestSparklineEvictsOldest(t *testing.T) {
	s := NewSparkline(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Add(v)
	}

	// Only 3, 4, 5 remain; 5 is the max and sits rightmost.
	out := []rune(s.Render())
	assert.Len(t, out, 3)
	assert.Equal(t, '█', out[2])
	assert.Equal(t, 5, s.Count())
}

func TestSparklineRenderWithWidthKeepsNewest(t *testing.T) {
	s := NewSparkline(6)
	for _, v := range []float64{1, 1, 1, 1, 1, 9} {
		s.Add(v)
	}

	out := []rune(s.RenderWithWidth(2))
	assert.Len(t, out, 2)
	assert.Equal(t, '█', out[1], "newest (and largest) sample stays rightmost")
}

func TestSparklineClear(t *testing.T) {
	s := NewSparkline(5)
	s.Add(3)
	s.Clear()

	assert.Zero(t, s.Count())
	assert.Equal(t, strings.Repeat(" ", 5), s.Render())
}
