// Package answer synthesizes cited answers from retrieved chunks. The
// service retrieves the best chunks for a question, packs them into a
// token budget and asks the chat model for a grounded reply that cites
// its sources as [filename, page_number].
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/llm"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

// Retriever is the slice of the search engine the answer service uses.
type Retriever interface {
	Search(ctx context.Context, query string, opts search.Options) ([]*search.Result, error)
}

var _ Retriever = (*search.Engine)(nil)

// Source is one retrieved chunk the answer was grounded on.
type Source struct {
	Number     int         `json:"number"`
	ChunkID    string      `json:"chunk_id"`
	DocumentID string      `json:"document_id"`
	Filename   string      `json:"filename"`
	PageNumber int         `json:"page_number"`
	Similarity float64     `json:"similarity"`
	Band       search.Band `json:"band"`
}

// Answer is a synthesized reply with the sources that grounded it.
// Sources is empty when retrieval found nothing above the threshold;
// Text then carries a fixed reply in the requested language.
type Answer struct {
	Query    string        `json:"query"`
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Sources  []Source      `json:"sources,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Config controls retrieval depth and context size.
type Config struct {
	TopK             int    `yaml:"top_k" json:"top_k"`
	MaxContextTokens int    `yaml:"max_context_tokens" json:"max_context_tokens"`
	Language         string `yaml:"language" json:"language"`
}

// DefaultConfig returns the default answer settings.
func DefaultConfig() Config {
	return Config{
		TopK:             5,
		MaxContextTokens: 8000,
		Language:         search.LanguageDanish,
	}
}

// Service answers questions against one indexing run.
type Service struct {
	retriever Retriever
	chat      llm.ChatClient
	config    Config
}

// NewService creates an answer service. Both dependencies are
// required.
func NewService(retriever Retriever, chat llm.ChatClient, cfg Config) (*Service, error) {
	if retriever == nil {
		return nil, conerrors.Internal("answer service requires a retriever", nil)
	}
	if chat == nil {
		return nil, conerrors.Internal("answer service requires a chat client", nil)
	}
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = def.MaxContextTokens
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	return &Service{retriever: retriever, chat: chat, config: cfg}, nil
}

const danishAnswerPrompt = `Du er en byggefaglig assistent, der besvarer spørgsmål om et konkret byggeprojekt ud fra uddrag af projektmaterialet.

Regler:
- Brug kun oplysningerne i kilderne nedenfor.
- Citér kilden som [filnavn, sidetal] efter hvert væsentligt udsagn, fx [K07_fundamentsplan.pdf, 3].
- Gengiv mål, mængder og krav ordret fra materialet.
- Hvis kilderne ikke dækker spørgsmålet fuldt ud, så skriv præcist hvad der mangler.

Spørgsmål: %s

Kilder:
%s

Svar på dansk.`

const englishAnswerPrompt = `You are a construction assistant answering questions about a specific project from excerpts of its documents.

Rules:
- Use only the information in the sources below.
- Cite sources as [filename, page_number] after every substantive statement, e.g. [K07_foundation_plan.pdf, 3].
- Quote measurements, quantities and requirements verbatim.
- If the sources do not fully cover the question, state exactly what is missing.

Question: %s

Sources:
%s

Answer in English.`

// Fixed replies when retrieval finds nothing above the threshold.
const (
	noContextDanish  = "Jeg kunne ikke finde relevant indhold i det indekserede materiale til at besvare spørgsmålet."
	noContextEnglish = "I could not find relevant content in the indexed material to answer the question."
)

// Answer retrieves chunks for the query and synthesizes a cited reply.
// Retrieval options default from the service configuration; the
// indexing run id in opts is required.
func (s *Service) Answer(ctx context.Context, query string, opts search.Options) (*Answer, error) {
	start := time.Now()

	if opts.TopK <= 0 {
		opts.TopK = s.config.TopK
	}
	if opts.Language == "" {
		opts.Language = s.config.Language
	}

	results, err := s.retriever.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		slog.Info("answer without context",
			"run_id", opts.IndexingRunID, "language", opts.Language)
		return &Answer{
			Query:    query,
			Text:     noContextReply(opts.Language),
			Language: opts.Language,
			Duration: time.Since(start),
		}, nil
	}

	contextBlock, sources := buildContext(results, opts.Language, s.config.MaxContextTokens)
	prompt := fmt.Sprintf(answerPrompt(opts.Language), query, contextBlock)

	text, err := s.chat.Chat(ctx, prompt, llm.ChatOptions{})
	if err != nil {
		return nil, err
	}

	slog.Info("answer synthesized",
		"run_id", opts.IndexingRunID,
		"sources", len(sources),
		"duration", time.Since(start).Round(time.Millisecond))

	return &Answer{
		Query:    query,
		Text:     strings.TrimSpace(text),
		Language: opts.Language,
		Sources:  sources,
		Duration: time.Since(start),
	}, nil
}

func answerPrompt(language string) string {
	if language == search.LanguageDanish {
		return danishAnswerPrompt
	}
	return englishAnswerPrompt
}

func noContextReply(language string) string {
	if language == search.LanguageDanish {
		return noContextDanish
	}
	return noContextEnglish
}

func sourceHeader(language string, number int, filename string, page int) string {
	if language == search.LanguageDanish {
		return fmt.Sprintf("Kilde %d: %s, side %d", number, filename, page)
	}
	return fmt.Sprintf("Source %d: %s, page %d", number, filename, page)
}

// buildContext numbers the retrieved chunks and packs whole chunks
// into the token budget in score order. When even the first chunk
// exceeds the budget it is truncated rather than dropped.
func buildContext(results []*search.Result, language string, maxTokens int) (string, []Source) {
	const separator = "\n\n"
	sepTokens := llm.CountTokens(separator)

	var blocks []string
	var sources []Source
	remaining := maxTokens
	for _, r := range results {
		meta := r.Chunk.Metadata
		src := Source{
			Number:     len(sources) + 1,
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Filename:   meta.SourceFilename,
			PageNumber: meta.PageNumber,
			Similarity: r.Similarity,
			Band:       r.Band,
		}
		block := sourceHeader(language, src.Number, src.Filename, src.PageNumber) +
			"\n" + r.Chunk.Content

		cost := llm.CountTokens(block)
		if len(blocks) > 0 {
			cost += sepTokens
		}
		if cost > remaining {
			if len(blocks) == 0 {
				blocks = append(blocks, llm.TruncateTokens(block, remaining))
				sources = append(sources, src)
			}
			break
		}
		remaining -= cost
		blocks = append(blocks, block)
		sources = append(sources, src)
	}
	return strings.Join(blocks, separator), sources
}
