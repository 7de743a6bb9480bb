package checklist

import (
	"context"
	"fmt"
	"strings"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
)

// analysisContextTokens bounds how much retrieved evidence goes into
// the analysis prompt.
const analysisContextTokens = 8000

// AnalysisOutput is the analysis stage payload: the verbatim free-form
// review text the structuring stage works from.
type AnalysisOutput struct {
	RawAnalysis string `json:"raw_analysis"`
}

// analyzeEvidence has the model review every checklist item against the
// retrieved evidence in one pass.
func (r *Runner) analyzeEvidence(ctx context.Context, language string, parsed ParseOutput, retrieved RetrievalOutput) (AnalysisOutput, pipeline.Outcome, error) {
	var out AnalysisOutput

	prompt := fmt.Sprintf(analysisPrompt(language), itemsBlock(parsed.Items), evidenceBlock(retrieved))
	raw, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{Model: r.chatModel()})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}
	out.RawAnalysis = strings.TrimSpace(raw)
	if out.RawAnalysis == "" {
		return out, pipeline.Outcome{}, conerrors.Malformed("chat", fmt.Errorf("empty checklist analysis"))
	}

	outcome := pipeline.Outcome{
		Summary: map[string]any{
			"items":           len(parsed.Items),
			"evidence_chunks": len(retrieved.Chunks),
			"analysis_words":  len(strings.Fields(out.RawAnalysis)),
		},
		Samples: map[string]any{"analysis_opening": truncateRunes(out.RawAnalysis, 200)},
	}
	return out, outcome, nil
}

// itemsBlock renders the parsed checklist for a prompt.
func itemsBlock(items []ChecklistItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s %s", item.Number, item.Name)
		if item.Description != "" && item.Description != item.Name {
			fmt.Fprintf(&b, ": %s", item.Description)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "-"
	}
	return strings.TrimRight(b.String(), "\n")
}

// evidenceBlock packs retrieved chunks into a token-bounded excerpt
// block, each excerpt headed by its citation.
func evidenceBlock(retrieved RetrievalOutput) string {
	if len(retrieved.Chunks) == 0 {
		return "-"
	}
	snippets := make([]string, 0, len(retrieved.Chunks))
	for _, chunk := range retrieved.Chunks {
		snippets = append(snippets, fmt.Sprintf("[%s, %d]\n%s", chunk.Filename, chunk.PageNumber, chunk.Content))
	}
	return llm.PackContext(snippets, analysisContextTokens, "\n\n---\n\n")
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
