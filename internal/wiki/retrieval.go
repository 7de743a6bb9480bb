package wiki

import (
	"context"

	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/search"
)

// ChunkRef is one retrieved chunk carried into markdown generation.
type ChunkRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// PageContent is the evidence retrieved for one planned page.
type PageContent struct {
	RetrievedChunks []ChunkRef `json:"retrieved_chunks"`
	SourceDocuments []string   `json:"source_documents"`
}

// RetrievalOutput maps page ids to their retrieved evidence.
type RetrievalOutput struct {
	PageContents map[string]PageContent `json:"page_contents"`
}

// retrievePages runs each planned page's queries against the corpus
// and keeps the best chunks of the deduplicated union. Pages whose
// queries retrieve nothing get an empty entry; markdown generation
// writes a localized notice for them.
func (r *Runner) retrievePages(ctx context.Context, indexingRunID, language string, structure StructureOutput) (RetrievalOutput, pipeline.Outcome, error) {
	out := RetrievalOutput{PageContents: make(map[string]PageContent, len(structure.Pages))}

	var totalChunks, pagesWithContent int
	for _, page := range structure.Pages {
		batch, err := r.retriever.BatchSearch(ctx, page.Queries, search.Options{
			IndexingRunID: indexingRunID,
			Language:      language,
			TopK:          pageChunkLimit,
		})
		if err != nil {
			return out, pipeline.Outcome{}, err
		}

		union := batch.Union
		if len(union) > pageChunkLimit {
			union = union[:pageChunkLimit]
		}

		content := PageContent{}
		seenDocs := make(map[string]bool)
		for _, res := range union {
			meta := res.Chunk.Metadata
			content.RetrievedChunks = append(content.RetrievedChunks, ChunkRef{
				ChunkID:    res.Chunk.ID,
				DocumentID: res.Chunk.DocumentID,
				Filename:   meta.SourceFilename,
				PageNumber: meta.PageNumber,
				Content:    res.Chunk.Content,
				Similarity: res.Similarity,
			})
			if meta.SourceFilename != "" && !seenDocs[meta.SourceFilename] {
				seenDocs[meta.SourceFilename] = true
				content.SourceDocuments = append(content.SourceDocuments, meta.SourceFilename)
			}
		}
		out.PageContents[page.ID] = content

		totalChunks += len(content.RetrievedChunks)
		if len(content.RetrievedChunks) > 0 {
			pagesWithContent++
		}
	}

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"pages":              len(structure.Pages),
			"pages_with_content": pagesWithContent,
			"retrieved_chunks":   totalChunks,
		},
	}, nil
}
