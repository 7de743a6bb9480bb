package llm

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts and truncates text by token count for prompt
// packing. It uses the cl100k_base encoding; when the encoding cannot
// be initialized it falls back to a four-characters-per-token estimate
// rather than failing prompt construction.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

var defaultCounter = &TokenCounter{}

// NewTokenCounter creates a counter. Encoding setup is lazy.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (t *TokenCounter) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("token encoding unavailable, using character estimate", "error", err)
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Count returns the token count for text.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := t.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Truncate cuts text down to at most maxTokens tokens. With the
// fallback estimate, truncation lands on a rune boundary near the
// estimated character budget.
func (t *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if enc := t.encoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return enc.Decode(tokens[:maxTokens])
	}

	budget := maxTokens * 4
	if len(text) <= budget {
		return text
	}
	runes := []rune(text)
	if budget > len(runes) {
		budget = len(runes)
	}
	return string(runes[:budget])
}

// CountTokens counts tokens with the shared default counter.
func CountTokens(text string) int {
	return defaultCounter.Count(text)
}

// TruncateTokens truncates with the shared default counter.
func TruncateTokens(text string, maxTokens int) string {
	return defaultCounter.Truncate(text, maxTokens)
}

// PackContext joins snippets into one context block, keeping whole
// snippets while the token budget lasts. Used to fill prompt context
// sections without overrunning the model window.
func PackContext(snippets []string, maxTokens int, separator string) string {
	if maxTokens <= 0 || len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	sepTokens := CountTokens(separator)
	for _, s := range snippets {
		n := CountTokens(s)
		cost := n
		if b.Len() > 0 {
			cost += sepTokens
		}
		if used+cost > maxTokens {
			break
		}
		if b.Len() > 0 {
			b.WriteString(separator)
		}
		b.WriteString(s)
		used += cost
	}
	return b.String()
}
