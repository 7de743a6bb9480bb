package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// enrichmentSettings is the resolved captioning configuration. It
// feeds the stage fingerprint, so overrides and defaults are applied
// before hashing.
type enrichmentSettings struct {
	Model              string `json:"model"`
	Language           string `json:"language"`
	MaxContextLength   int    `json:"max_context_length"`
	MaxContextSnippets int    `json:"max_context_snippets"`
}

func (r *Runner) enrichmentSettings() enrichmentSettings {
	e := r.cfg.Indexing.Enrichment
	s := enrichmentSettings{
		Model:              e.VLMModel,
		Language:           e.CaptionLanguage,
		MaxContextLength:   e.MaxTextContextLength,
		MaxContextSnippets: e.MaxPageTextElements,
	}
	if s.Model == "" {
		s.Model = r.cfg.Services.LLM.Model
	}
	if s.Language == "" {
		s.Language = r.cfg.Defaults.Language
	}
	return s
}

const tablePromptTemplate = `Describe this table from a construction document so the description can stand in for the table in a text search index.
Include:
1. A complete transcription of every cell: headers, values and units.
2. The table structure: rows, columns and any groupings.
3. Labels, notes or references surrounding the table.
4. Technical details exactly as written: dimensions, material grades, load values, tolerances.
Write the description in %s.`

const pagePromptTemplate = `This image is a full page from a construction document. Text extraction was skipped for this page, so this image is the PRIMARY source of everything written on it.
Transcribe all visible text verbatim: titles, labels, dimensions, notes, legends and annotations. Then describe the drawings or diagrams and how the labels relate to them.
Write in %s.`

func tableCaptionPrompt(language, pageContext string) string {
	p := fmt.Sprintf(tablePromptTemplate, languageName(language))
	if pageContext != "" {
		p += "\n\nText near the table on the same page:\n" + pageContext
	}
	return p
}

func pageTranscriptionPrompt(language, pageContext string) string {
	p := fmt.Sprintf(pagePromptTemplate, languageName(language))
	if pageContext != "" {
		p += "\n\nText extracted elsewhere on this page:\n" + pageContext
	}
	return p
}

func languageName(lang string) string {
	switch strings.ToLower(lang) {
	case "danish", "da":
		return "Danish"
	case "english", "en":
		return "English"
	case "":
		return "Danish"
	default:
		return lang
	}
}

// pageContext joins the page's text snippets into a prompt context
// block, bounded by the configured snippet and character limits.
func pageContext(elements []AnnotatedElement, page int, settings enrichmentSettings) string {
	var snippets []string
	for _, el := range elements {
		if el.Element.PageNumber != page || el.Metadata.ContentType != ContentTypeText {
			continue
		}
		text := strings.TrimSpace(el.Element.Text)
		if text == "" {
			continue
		}
		snippets = append(snippets, text)
		if settings.MaxContextSnippets > 0 && len(snippets) >= settings.MaxContextSnippets {
			break
		}
	}
	joined := strings.Join(snippets, "\n")
	if settings.MaxContextLength > 0 {
		runes := []rune(joined)
		if len(runes) > settings.MaxContextLength {
			joined = string(runes[:settings.MaxContextLength])
		}
	}
	return joined
}

// enrichDocument captions table and page visuals through the VLM.
// Captioning failures annotate the element and the stage continues;
// only cancellation stops it.
func (r *Runner) enrichDocument(ctx context.Context, runID string, doc *store.Document, meta MetadataOutput) (EnrichmentOutput, pipeline.Outcome, error) {
	settings := r.enrichmentSettings()
	opts := llm.CaptionOptions{Model: settings.Model, Language: settings.Language}

	var out EnrichmentOutput
	var firstCaption string
	for _, el := range meta.Elements {
		if err := ctx.Err(); err != nil {
			return EnrichmentOutput{}, pipeline.Outcome{}, conerrors.Cancelled(err)
		}

		enriched := EnrichedElement{Element: el.Element, Metadata: el.Metadata}
		switch el.Element.Category {
		case store.CategoryTable:
			em, err := r.captionTable(ctx, el, meta.Elements, settings, opts)
			if err != nil {
				return EnrichmentOutput{}, pipeline.Outcome{}, err
			}
			enriched.Enrichment = em
			if em.VLMProcessed {
				out.Stats.TablesCaptioned++
			} else {
				out.Stats.TableFailures++
			}
			if firstCaption == "" {
				firstCaption = em.TableCaption
			}
		case store.CategoryExtractedPage:
			em, err := r.captionPage(ctx, el, meta.Elements, settings, opts)
			if err != nil {
				return EnrichmentOutput{}, pipeline.Outcome{}, err
			}
			enriched.Enrichment = em
			if em.VLMProcessed {
				out.Stats.PagesCaptioned++
			} else {
				out.Stats.PageFailures++
			}
			if firstCaption == "" {
				firstCaption = em.PageImageCaption
			}
		}
		out.Elements = append(out.Elements, enriched)
	}

	slog.Info("enrichment_complete",
		slog.String("document_id", doc.ID),
		slog.Int("tables_captioned", out.Stats.TablesCaptioned),
		slog.Int("table_failures", out.Stats.TableFailures),
		slog.Int("pages_captioned", out.Stats.PagesCaptioned),
		slog.Int("page_failures", out.Stats.PageFailures))

	oc := pipeline.Outcome{
		Summary: map[string]any{
			"vlm_model":        settings.Model,
			"caption_language": settings.Language,
			"tables_captioned": out.Stats.TablesCaptioned,
			"table_failures":   out.Stats.TableFailures,
			"pages_captioned":  out.Stats.PagesCaptioned,
			"page_failures":    out.Stats.PageFailures,
		},
	}
	if firstCaption != "" {
		oc.Samples = map[string]any{"first_caption": sample(firstCaption, 200)}
	}
	return out, oc, nil
}

// captionTable runs the two table calls: one over the rendered image,
// one over the HTML markup. A failed call leaves the element marked
// unprocessed but keeps whichever caption succeeded.
func (r *Runner) captionTable(ctx context.Context, el AnnotatedElement, elements []AnnotatedElement, settings enrichmentSettings, opts llm.CaptionOptions) (*store.EnrichmentMetadata, error) {
	em := &store.EnrichmentMetadata{Model: settings.Model}
	prompt := tableCaptionPrompt(settings.Language, pageContext(elements, el.Element.PageNumber, settings))
	start := time.Now()
	var failures []string

	if el.Element.ImageKey != "" {
		png, err := r.objects.GetBytes(ctx, el.Element.ImageKey)
		if err != nil {
			if conerrors.IsKind(err, conerrors.KindCancelled) {
				return nil, err
			}
			failures = append(failures, fmt.Sprintf("image fetch: %v", err))
		} else {
			res, err := r.vlm.CaptionImage(ctx, png, prompt, opts)
			if err != nil {
				if conerrors.IsKind(err, conerrors.KindCancelled) {
					return nil, err
				}
				failures = append(failures, fmt.Sprintf("image caption: %v", err))
			} else {
				em.TableCaption = res.Text
			}
		}
	}

	if el.Element.HTML != "" {
		res, err := r.vlm.CaptionHTML(ctx, el.Element.HTML, prompt, opts)
		if err != nil {
			if conerrors.IsKind(err, conerrors.KindCancelled) {
				return nil, err
			}
			failures = append(failures, fmt.Sprintf("html caption: %v", err))
		} else {
			em.TableHTMLCaption = res.Text
		}
	}

	if el.Element.ImageKey == "" && el.Element.HTML == "" {
		failures = append(failures, "table has no image or markup to caption")
	}

	em.CaptionWordCount = len(strings.Fields(em.TableCaption)) + len(strings.Fields(em.TableHTMLCaption))
	em.ProcessingSeconds = time.Since(start).Seconds()
	em.VLMProcessed = len(failures) == 0
	if len(failures) > 0 {
		em.VLMProcessingError = strings.Join(failures, "; ")
		slog.Warn("table_caption_failed",
			slog.String("table_id", el.Element.ID),
			slog.String("error", em.VLMProcessingError))
	}
	return em, nil
}

// captionPage runs the single verbatim-transcription call over a
// full-page render.
func (r *Runner) captionPage(ctx context.Context, el AnnotatedElement, elements []AnnotatedElement, settings enrichmentSettings, opts llm.CaptionOptions) (*store.EnrichmentMetadata, error) {
	em := &store.EnrichmentMetadata{Model: settings.Model}
	prompt := pageTranscriptionPrompt(settings.Language, pageContext(elements, el.Element.PageNumber, settings))
	start := time.Now()

	png, err := r.objects.GetBytes(ctx, el.Element.ImageKey)
	if err != nil {
		if conerrors.IsKind(err, conerrors.KindCancelled) {
			return nil, err
		}
		em.ProcessingSeconds = time.Since(start).Seconds()
		em.VLMProcessingError = fmt.Sprintf("image fetch: %v", err)
		slog.Warn("page_caption_failed",
			slog.Int("page", el.Element.PageNumber),
			slog.String("error", em.VLMProcessingError))
		return em, nil
	}

	res, err := r.vlm.CaptionImage(ctx, png, prompt, opts)
	em.ProcessingSeconds = time.Since(start).Seconds()
	if err != nil {
		if conerrors.IsKind(err, conerrors.KindCancelled) {
			return nil, err
		}
		em.VLMProcessingError = fmt.Sprintf("page caption: %v", err)
		slog.Warn("page_caption_failed",
			slog.Int("page", el.Element.PageNumber),
			slog.String("error", em.VLMProcessingError))
		return em, nil
	}

	em.PageImageCaption = res.Text
	em.CaptionWordCount = res.WordCount
	em.VLMProcessed = true
	return em, nil
}
