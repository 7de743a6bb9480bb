package index

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// splitter breaks oversized chunk content on natural boundaries:
// paragraphs first, sentences within an oversized paragraph, and a
// rune-safe hard cut only when a single sentence exceeds the limit.
// Sizes are measured in bytes.
type splitter struct {
	maxSize   int
	overlap   int
	tokenizer sentences.SentenceTokenizer
}

func newSplitter(maxSize, overlap int) (*splitter, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("sentence tokenizer: %w", err)
	}
	return &splitter{maxSize: maxSize, overlap: overlap, tokenizer: tok}, nil
}

// split returns text unchanged when it fits, otherwise pieces of at
// most maxSize bytes each, plus an overlap tail carried in from the
// preceding piece. With overlap the bound is maxSize+overlap.
func (s *splitter) split(text string) []string {
	if len(text) <= s.maxSize {
		return []string{text}
	}

	var units []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= s.maxSize {
			units = append(units, para)
			continue
		}
		units = append(units, s.splitParagraph(para)...)
	}

	return s.applyOverlap(pack(units, "\n\n", s.maxSize))
}

// splitParagraph packs a paragraph's sentences greedily, hard cutting
// any single sentence that alone exceeds the limit.
func (s *splitter) splitParagraph(para string) []string {
	var units []string
	for _, sent := range s.tokenizer.Tokenize(para) {
		t := strings.TrimSpace(sent.Text)
		if t == "" {
			continue
		}
		if len(t) <= s.maxSize {
			units = append(units, t)
			continue
		}
		units = append(units, hardSplit(t, s.maxSize)...)
	}
	if len(units) == 0 {
		return hardSplit(para, s.maxSize)
	}
	return pack(units, " ", s.maxSize)
}

// pack joins consecutive units with sep without letting any joined
// piece exceed limit. Callers guarantee each unit fits on its own.
func pack(units []string, sep string, limit int) []string {
	var out []string
	var cur strings.Builder
	for _, u := range units {
		switch {
		case cur.Len() == 0:
			cur.WriteString(u)
		case cur.Len()+len(sep)+len(u) <= limit:
			cur.WriteString(sep)
			cur.WriteString(u)
		default:
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(u)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// hardSplit cuts text into pieces of at most limit bytes, moving each
// cut back so it never lands inside a multi-byte rune.
func hardSplit(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// applyOverlap prefixes each piece after the first with the tail of
// its predecessor so content cut at a boundary stays searchable from
// both sides.
func (s *splitter) applyOverlap(raw []string) []string {
	if s.overlap <= 0 || len(raw) < 2 {
		return raw
	}
	out := make([]string, len(raw))
	out[0] = raw[0]
	for i := 1; i < len(raw); i++ {
		// Budget one byte under the overlap to leave room for the
		// joining space.
		tail := wordTail(raw[i-1], s.overlap-1)
		if tail == "" {
			out[i] = raw[i]
			continue
		}
		out[i] = tail + " " + raw[i]
	}
	return out
}

// wordTail returns at most budget bytes from the end of text, trimmed
// forward to the next word boundary so the tail never opens mid-word.
// Returns "" when no boundary falls inside the budget.
func wordTail(text string, budget int) string {
	if budget <= 0 || text == "" {
		return ""
	}
	if len(text) <= budget {
		return text
	}
	cut := len(text) - budget
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	tail := text[cut:]
	idx := strings.IndexAny(tail, " \t\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(tail[idx+1:])
}
