package index

import (
	"context"
	"log/slog"
	"sort"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// partitionDocument downloads the source PDF, runs it through the
// partition service and moves the returned renders into the object
// store. An unreadable PDF fails the document; a failed image upload
// degrades that page or table to text-only and the stage continues.
func (r *Runner) partitionDocument(ctx context.Context, runID string, doc *store.Document) (PartitionOutput, pipeline.Outcome, error) {
	var out PartitionOutput

	pdf, err := r.objects.GetBytes(ctx, objstore.SourcePDFKey(runID, doc.ID))
	if err != nil {
		return out, pipeline.Outcome{}, err
	}

	res, err := r.parts.Analyze(ctx, pdf, doc.Filename, r.cfg.Indexing.Partition)
	if err != nil {
		return out, pipeline.Outcome{}, err
	}

	visual := make(map[int]bool)
	for _, p := range res.VisualPages() {
		visual[p] = true
	}

	var uploadFailures int
	for i, el := range res.Elements {
		e := Element{
			ID:         el.ID,
			Category:   el.Category,
			Text:       el.Text,
			PageNumber: el.PageNumber,
			Position:   i,
			HTML:       el.HTML,
		}
		if el.Category != store.CategoryTable {
			out.TextElements = append(out.TextElements, e)
			continue
		}
		if len(el.ImagePNG) > 0 {
			key := objstore.TableImageKey(runID, doc.ID, el.ID)
			if err := r.objects.PutBytes(ctx, key, el.ImagePNG, "image/png"); err != nil {
				if conerrors.IsKind(err, conerrors.KindCancelled) {
					return out, pipeline.Outcome{}, err
				}
				uploadFailures++
				slog.Warn("table_image_upload_failed",
					slog.String("document_id", doc.ID),
					slog.String("table_id", el.ID),
					slog.String("error", err.Error()))
			} else {
				e.ImageKey = key
			}
		}
		out.TableElements = append(out.TableElements, e)
	}

	for _, img := range res.PageImages {
		if !visual[img.PageNumber] {
			// The service contract ties full-page renders to pages its
			// analysis flagged; a render outside that set is suspect
			// but still worth captioning.
			slog.Warn("page_image_outside_analysis",
				slog.String("document_id", doc.ID),
				slog.Int("page", img.PageNumber))
		}
		key := objstore.PageImageKey(runID, doc.ID, img.PageNumber)
		if err := r.objects.PutBytes(ctx, key, img.PNG, "image/png"); err != nil {
			if conerrors.IsKind(err, conerrors.KindCancelled) {
				return out, pipeline.Outcome{}, err
			}
			uploadFailures++
			slog.Warn("page_image_upload_failed, page degrades to text only",
				slog.String("document_id", doc.ID),
				slog.Int("page", img.PageNumber),
				slog.String("error", err.Error()))
			continue
		}
		out.ExtractedPages = append(out.ExtractedPages, PageRef{PageNumber: img.PageNumber, ImageKey: key})
	}
	sort.Slice(out.ExtractedPages, func(i, j int) bool {
		return out.ExtractedPages[i].PageNumber < out.ExtractedPages[j].PageNumber
	})

	rendered := make(map[int]bool, len(out.ExtractedPages))
	for _, ref := range out.ExtractedPages {
		rendered[ref.PageNumber] = true
	}
	for _, p := range res.VisualPages() {
		if !rendered[p] {
			slog.Warn("visual_page_missing_render, page degrades to text only",
				slog.String("document_id", doc.ID),
				slog.Int("page", p))
		}
	}

	out.Document = DocumentInfo{
		Filename:  doc.Filename,
		PageCount: res.PageCount,
		SizeBytes: doc.FileSize,
	}

	if err := r.store.UpdateDocumentPages(ctx, doc.ID, res.PageCount); err != nil {
		slog.Warn("failed to record document page count",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
	}

	oc := pipeline.Outcome{
		Summary: map[string]any{
			"page_count":            res.PageCount,
			"text_elements":         len(out.TextElements),
			"table_elements":        len(out.TableElements),
			"extracted_pages":       len(out.ExtractedPages),
			"image_upload_failures": uploadFailures,
		},
	}
	if len(out.TextElements) > 0 {
		oc.Samples = map[string]any{"first_text_element": sample(out.TextElements[0].Text, 200)}
	}
	return out, oc, nil
}
