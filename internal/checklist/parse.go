package checklist

import (
	"context"
	"fmt"
	"strings"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
)

// maxQueriesPerItem caps how many search queries the model may spend
// per checklist item.
const maxQueriesPerItem = 3

// ChecklistItem is one requirement parsed out of the raw checklist.
type ChecklistItem struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ParseOutput is the parsing stage payload: the itemized checklist and
// the flat query list used for evidence retrieval.
type ParseOutput struct {
	Items   []ChecklistItem `json:"items"`
	Queries []string        `json:"queries"`
}

// parseChecklist turns the raw checklist text into numbered items and
// search queries via a single chat call.
func (r *Runner) parseChecklist(ctx context.Context, language, rawChecklist string) (ParseOutput, pipeline.Outcome, error) {
	var out ParseOutput

	prompt := fmt.Sprintf(parsePrompt(language), rawChecklist)
	raw, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{
		Model:          r.chatModel(),
		ResponseFormat: "json_object",
	})
	if err != nil {
		return out, pipeline.Outcome{}, err
	}
	if err := llm.ExtractJSONInto(raw, &out); err != nil {
		return out, pipeline.Outcome{}, err
	}
	normalizeParse(&out)
	if len(out.Items) == 0 {
		return out, pipeline.Outcome{}, conerrors.Malformed("chat", fmt.Errorf("no checklist items parsed"))
	}

	names := make([]string, 0, len(out.Items))
	for _, item := range out.Items {
		names = append(names, item.Name)
	}
	outcome := pipeline.Outcome{
		Summary: map[string]any{
			"items":   len(out.Items),
			"queries": len(out.Queries),
		},
		Samples: map[string]any{"item_names": names},
	}
	return out, outcome, nil
}

// normalizeParse trims fields, drops empty entries, synthesizes missing
// item numbers and bounds the query list. Items without any queries
// fall back to searching on their names.
func normalizeParse(out *ParseOutput) {
	items := out.Items[:0]
	for _, item := range out.Items {
		item.Number = strings.TrimSpace(item.Number)
		item.Name = strings.TrimSpace(item.Name)
		item.Description = strings.TrimSpace(item.Description)
		if item.Name == "" && item.Description == "" {
			continue
		}
		if item.Name == "" {
			item.Name = item.Description
		}
		items = append(items, item)
	}
	for i := range items {
		if items[i].Number == "" {
			items[i].Number = fmt.Sprintf("%d", i+1)
		}
	}
	out.Items = items

	seen := make(map[string]bool, len(out.Queries))
	queries := out.Queries[:0]
	for _, q := range out.Queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		for _, item := range out.Items {
			queries = append(queries, item.Name)
		}
	}
	if max := maxQueriesPerItem * len(out.Items); len(queries) > max {
		queries = queries[:max]
	}
	out.Queries = queries
}
