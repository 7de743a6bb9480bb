package checklist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// StructuringOutput is the structuring stage payload: one persisted
// finding per parsed checklist item.
type StructuringOutput struct {
	Results []store.ChecklistResult `json:"results"`
	// Fallback is true when the model output was unusable and every
	// record was synthesized.
	Fallback bool `json:"fallback,omitempty"`
}

// structuredFinding mirrors the JSON row the structuring prompt asks
// for.
type structuredFinding struct {
	Number      string             `json:"number"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Description string             `json:"description"`
	Confidence  float64            `json:"confidence"`
	Sources     []structuredSource `json:"sources"`
}

type structuredSource struct {
	DocumentName string `json:"document_name"`
	PageNumber   int    `json:"page_number"`
}

// structureFindings converts the free-form analysis into one
// ChecklistResult per item. Model failures degrade to synthesized
// pending records instead of failing the stage; only cancellation
// propagates.
func (r *Runner) structureFindings(ctx context.Context, runID, language string, parsed ParseOutput, retrieved RetrievalOutput, analysis AnalysisOutput) (StructuringOutput, pipeline.Outcome, error) {
	var out StructuringOutput

	findings, err := r.requestFindings(ctx, language, parsed, analysis)
	if err != nil {
		if conerrors.IsKind(err, conerrors.KindCancelled) {
			return out, pipeline.Outcome{}, err
		}
		slog.Warn("checklist_structuring_degraded", slog.String("error", err.Error()))
		findings = nil
		out.Fallback = true
	}

	results, matched, dropped := reconcile(runID, language, parsed.Items, findings, retrieved, time.Now().UTC())
	out.Results = results

	outcome := pipeline.Outcome{
		Summary: map[string]any{
			"results":          len(results),
			"matched":          matched,
			"fallback_records": len(results) - matched,
			"dropped_findings": dropped,
		},
	}
	return out, outcome, nil
}

// requestFindings asks for structured JSON and decodes it in two tiers:
// a strict decode of the requested shape, then a lenient decode with
// per-field cleaning.
func (r *Runner) requestFindings(ctx context.Context, language string, parsed ParseOutput, analysis AnalysisOutput) ([]structuredFinding, error) {
	prompt := fmt.Sprintf(structurePrompt(language), itemsBlock(parsed.Items), analysis.RawAnalysis)
	raw, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{
		Model:          r.chatModel(),
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	var strict struct {
		Results []structuredFinding `json:"results"`
	}
	if err := llm.ExtractJSONInto(raw, &strict); err == nil && len(strict.Results) > 0 {
		return strict.Results, nil
	}
	return cleanFindings(raw)
}

// cleanFindings is the lenient decode tier: locate the findings array
// anywhere in the payload and coerce each field individually.
func cleanFindings(raw string) ([]structuredFinding, error) {
	msg, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(msg, &payload); err != nil {
		return nil, conerrors.Malformed("chat", err)
	}
	rows := findingRows(payload)
	if len(rows) == 0 {
		return nil, conerrors.Malformed("chat", fmt.Errorf("no structured findings in response"))
	}
	findings := make([]structuredFinding, 0, len(rows))
	for _, row := range rows {
		findings = append(findings, cleanFinding(row))
	}
	return findings, nil
}

func findingRows(payload any) []map[string]any {
	switch v := payload.(type) {
	case []any:
		return mapRows(v)
	case map[string]any:
		for _, key := range []string{"results", "items", "findings"} {
			if list, ok := v[key].([]any); ok {
				return mapRows(list)
			}
		}
	}
	return nil
}

func mapRows(list []any) []map[string]any {
	rows := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	return rows
}

func cleanFinding(row map[string]any) structuredFinding {
	f := structuredFinding{
		Number:      asString(row["number"]),
		Name:        asString(row["name"]),
		Status:      asString(row["status"]),
		Description: asString(row["description"]),
		Confidence:  asFloat(row["confidence"]),
	}
	if f.Number == "" {
		f.Number = asString(row["item_number"])
	}
	if f.Name == "" {
		f.Name = asString(row["item_name"])
	}
	if list, ok := row["sources"].([]any); ok {
		for _, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				continue
			}
			f.Sources = append(f.Sources, structuredSource{
				DocumentName: asString(m["document_name"]),
				PageNumber:   int(asFloat(m["page_number"])),
			})
		}
	}
	return f
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == math.Trunc(s) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return 0
}

// reconcile maps model findings back onto the parsed items. Every item
// yields exactly one result, in checklist order; items the model left
// out become pending records with no sources, findings matching no item
// are dropped.
func reconcile(runID, language string, items []ChecklistItem, findings []structuredFinding, retrieved RetrievalOutput, now time.Time) ([]store.ChecklistResult, int, int) {
	used := make([]bool, len(findings))
	matched := 0

	results := make([]store.ChecklistResult, 0, len(items))
	for _, item := range items {
		res := store.ChecklistResult{
			ID:              uuid.NewString(),
			AnalysisRunID:   runID,
			ItemID:          item.Number,
			ItemName:        item.Name,
			ItemDescription: item.Description,
			Status:          store.ChecklistPendingClarification,
			DescriptionText: pendingFindingText(language),
			CreatedAt:       now,
		}
		if idx := matchFinding(item, findings, used); idx >= 0 {
			used[idx] = true
			matched++
			f := findings[idx]
			res.Status = normalizeStatus(f.Status)
			res.ConfidenceScore = normalizeConfidence(f.Confidence)
			if text := strings.TrimSpace(f.Description); text != "" {
				res.DescriptionText = text
			}
			res.Sources = resolveSources(f.Sources, retrieved.Chunks)
			res.PrimarySource = primarySource(res.Sources)
		}
		results = append(results, res)
	}

	dropped := 0
	for _, u := range used {
		if !u {
			dropped++
		}
	}
	return results, matched, dropped
}

// matchFinding pairs an item with an unused finding, by number first,
// then by name.
func matchFinding(item ChecklistItem, findings []structuredFinding, used []bool) int {
	number := matchKey(item.Number)
	for i, f := range findings {
		if !used[i] && number != "" && matchKey(f.Number) == number {
			return i
		}
	}
	name := matchKey(item.Name)
	for i, f := range findings {
		if !used[i] && name != "" && matchKey(f.Name) == name {
			return i
		}
	}
	return -1
}

func matchKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// excerptRunes bounds the evidence excerpt carried on a source ref.
const excerptRunes = 240

// resolveSources converts cited sources into refs, attaching chunk
// evidence and an excerpt when a retrieved chunk matches the cited
// document and page.
func resolveSources(sources []structuredSource, chunks []ChunkRef) []store.SourceRef {
	refs := make([]store.SourceRef, 0, len(sources))
	for _, src := range sources {
		if src.DocumentName == "" {
			continue
		}
		ref := store.SourceRef{DocumentName: src.DocumentName, PageNumber: src.PageNumber}
		for _, chunk := range chunks {
			if chunk.Filename == src.DocumentName && chunk.PageNumber == src.PageNumber {
				ref.ChunkID = chunk.ChunkID
				ref.Similarity = chunk.Similarity
				ref.Excerpt = excerpt(chunk.Content)
				break
			}
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

// primarySource picks the strongest reference: highest similarity, or
// the first citation when no source carries chunk evidence.
func primarySource(refs []store.SourceRef) *store.SourceRef {
	if len(refs) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(refs); i++ {
		if refs[i].Similarity > refs[best].Similarity {
			best = i
		}
	}
	ref := refs[best]
	return &ref
}

func excerpt(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= excerptRunes {
		return content
	}
	return string(runes[:excerptRunes]) + "…"
}

// normalizeStatus maps model status tokens, including Danish ones, onto
// the stored enum. Unknown tokens become pending.
func normalizeStatus(raw string) store.ChecklistStatus {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	switch s {
	case "found", "fundet", "dokumenteret":
		return store.ChecklistFound
	case "missing", "mangler", "not_found", "ikke_fundet":
		return store.ChecklistMissing
	case "risk", "risiko":
		return store.ChecklistRisk
	case "conditions_met", "conditions", "betinget", "betingelser_opfyldt":
		return store.ChecklistConditionsMet
	default:
		return store.ChecklistPendingClarification
	}
}

// normalizeConfidence clamps to [0, 1], reading values above 1 as
// percentages.
func normalizeConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 && v <= 100 {
		v /= 100
	}
	if v > 1 {
		return 1
	}
	return v
}
