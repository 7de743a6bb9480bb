package wiki

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// pageContextTokens budgets the retrieved excerpts packed into one
// page's generation prompt.
const pageContextTokens = 6000

// MarkdownOutput records the written pages.
type MarkdownOutput struct {
	Pages      []store.WikiPageMeta `json:"pages"`
	TotalBytes int                  `json:"total_bytes"`
}

// renderPages generates markdown for every planned page and writes it
// to the object store under the wiki run's prefix. Pages without
// retrieved content get a localized notice instead of a chat call, so
// every stored page is non-empty.
func (r *Runner) renderPages(ctx context.Context, wikiRunID, language string, structure StructureOutput, contents RetrievalOutput) (MarkdownOutput, pipeline.Outcome, error) {
	var out MarkdownOutput

	seenNames := make(map[string]bool)
	for i, page := range structure.Pages {
		order := i + 1
		content := contents.PageContents[page.ID]

		var markdown string
		if len(content.RetrievedChunks) == 0 {
			markdown = emptyPageMarkdown(language, page)
		} else {
			text, err := r.renderPage(ctx, language, page, content)
			if err != nil {
				return out, pipeline.Outcome{}, err
			}
			markdown = text
			if strings.TrimSpace(markdown) == "" {
				markdown = emptyPageMarkdown(language, page)
			}
		}

		key := objstore.WikiPageKey(wikiRunID, order)
		if err := r.objects.PutBytes(ctx, key, []byte(markdown), "text/markdown"); err != nil {
			return out, pipeline.Outcome{}, conerrors.Wrap(conerrors.ErrCodeStoreUnavailable, err)
		}

		filename := uniquePageFilename(page.Title, order, seenNames)
		chunkIDs := make([]string, len(content.RetrievedChunks))
		for ci, c := range content.RetrievedChunks {
			chunkIDs[ci] = c.ChunkID
		}
		out.Pages = append(out.Pages, store.WikiPageMeta{
			ID:             page.ID,
			Order:          order,
			Title:          page.Title,
			Description:    page.Description,
			Filename:       filename,
			StorageKey:     key,
			SourceChunkIDs: chunkIDs,
			Queries:        page.Queries,
		})
		out.TotalBytes += len(markdown)
	}

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"pages_written": len(out.Pages),
			"total_bytes":   out.TotalBytes,
		},
	}, nil
}

// renderPage asks the chat model for one page's markdown.
func (r *Runner) renderPage(ctx context.Context, language string, page PagePlan, content PageContent) (string, error) {
	snippets := make([]string, 0, len(content.RetrievedChunks))
	for _, c := range content.RetrievedChunks {
		snippets = append(snippets, fmt.Sprintf("[%s, %d]\n%s", c.Filename, c.PageNumber, c.Content))
	}
	sources := llm.PackContext(snippets, pageContextTokens, "\n\n")

	prompt := fmt.Sprintf(pagePrompt(language),
		page.Title, page.Description, strings.Join(content.SourceDocuments, ", "), sources)
	text, err := r.chat.Chat(ctx, prompt, llm.ChatOptions{Model: r.chatModel()})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// emptyPageMarkdown is the stored page when retrieval found nothing.
func emptyPageMarkdown(language string, page PagePlan) string {
	var b strings.Builder
	b.WriteString("# " + page.Title + "\n\n")
	if page.Description != "" {
		b.WriteString(page.Description + "\n\n")
	}
	if language == search.LanguageDanish {
		b.WriteString("Der blev ikke fundet relevant indhold i det indekserede materiale til denne side.\n")
	} else {
		b.WriteString("No relevant content was found in the indexed material for this page.\n")
	}
	return b.String()
}

// uniquePageFilename derives a lowercase kebab-case filename from the
// page title, disambiguating collisions with the page order.
func uniquePageFilename(title string, order int, seen map[string]bool) string {
	name := kebab(title)
	if name == "" {
		name = fmt.Sprintf("page-%d", order)
	}
	if seen[name] {
		name = fmt.Sprintf("%s-%d", name, order)
	}
	seen[name] = true
	return name + ".md"
}

// kebab lowercases and replaces every non-alphanumeric run with a
// single hyphen. Unicode letters survive, so Danish titles keep æøå.
func kebab(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
