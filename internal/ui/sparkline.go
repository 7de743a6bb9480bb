package ui

import "strings"

// sparkChars are the block characters for rendering, lowest to highest.
var sparkChars = [...]rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring buffer of throughput samples and renders them
// as Unicode block bars, newest on the right.
type Sparkline struct {
	samples []float64
	head    int
	count   int
	max     float64
}

// NewSparkline creates a sparkline holding capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
	if value > s.max {
		s.max = value
	}
	// The max can stale once old samples rotate out.
	if s.count%len(s.samples) == 0 {
		s.recalcMax()
	}
}

// Clear resets the sparkline.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns the number of samples added.
func (s *Sparkline) Count() int { return s.count }

// Render returns the sparkline at full capacity width.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(len(s.samples))
}

// RenderWithWidth renders the most recent width samples, padding with
// spaces when fewer samples exist.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > len(s.samples) {
		width = len(s.samples)
	}

	vals := s.ordered()
	if len(vals) > width {
		vals = vals[len(vals)-width:]
	}

	var b strings.Builder
	b.Grow(width * 3)
	for _, v := range vals {
		b.WriteRune(s.char(v))
	}
	for i := len(vals); i < width; i++ {
		b.WriteRune(' ')
	}
	return b.String()
}

// ordered returns the stored samples oldest to newest.
func (s *Sparkline) ordered() []float64 {
	n := min(s.count, len(s.samples))
	if n == 0 {
		return nil
	}
	out := make([]float64, 0, n)
	start := 0
	if s.count >= len(s.samples) {
		start = s.head
	}
	for i := 0; i < n; i++ {
		out = append(out, s.samples[(start+i)%len(s.samples)])
	}
	return out
}

// char maps a value to a block character scaled against the max.
func (s *Sparkline) char(value float64) rune {
	if s.max <= 0 {
		return sparkChars[0]
	}
	idx := int(value / s.max * float64(len(sparkChars)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sparkChars) {
		idx = len(sparkChars) - 1
	}
	return sparkChars[idx]
}

func (s *Sparkline) recalcMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}
