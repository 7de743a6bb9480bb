package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jepras/ConstructionRAG-sub001/internal/config"
	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
	"github.com/jepras/ConstructionRAG-sub001/internal/objstore"
	"github.com/jepras/ConstructionRAG-sub001/internal/scanner"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// IngestResult reports what an ingest registered.
type IngestResult struct {
	RunID string
	// Documents are the run's documents in discovery order.
	Documents []*store.Document
	// Reused counts documents matched to an earlier upload by checksum.
	Reused int
}

// Ingestor discovers PDFs, uploads them to the object store and
// registers the indexing run. It does no pipeline work; the Runner
// picks up the pending run it creates.
type Ingestor struct {
	store   store.MetadataStore
	objects objstore.Store
	scanner *scanner.Scanner
	cfg     *config.Config
}

// NewIngestor creates an Ingestor.
func NewIngestor(st store.MetadataStore, objects objstore.Store, cfg *config.Config) (*Ingestor, error) {
	if st == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &Ingestor{store: st, objects: objects, scanner: scanner.New(), cfg: cfg}, nil
}

// Ingest discovers PDFs at the given paths (directories are walked with
// the configured include and exclude globs, files are taken as-is),
// uploads each under the new run's prefix and creates the IndexingRun
// in pending state with the effective config snapshot attached.
func (ing *Ingestor) Ingest(ctx context.Context, inputs []string, kind store.UploadKind, uploadID string) (*IngestResult, error) {
	files, err := ing.discover(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, conerrors.InvalidInput("no PDF documents found in the given inputs")
	}

	if err := ing.objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	snapshot, err := ing.cfg.Snapshot()
	if err != nil {
		return nil, conerrors.ConfigError("failed to snapshot config", err)
	}

	runID := uuid.NewString()
	run := &store.IndexingRun{
		ID:             runID,
		UploadKind:     kind,
		UploadID:       uploadID,
		Status:         store.RunStatusPending,
		AccessLevel:    accessForKind(kind),
		ConfigSnapshot: snapshot,
		StartedAt:      time.Now(),
	}
	if err := ing.store.CreateIndexingRun(ctx, run); err != nil {
		return nil, err
	}

	result := &IngestResult{RunID: runID}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, conerrors.Cancelled(err)
		}
		doc, reused, err := ing.ingestFile(ctx, runID, f)
		if err != nil {
			return nil, err
		}
		if reused {
			result.Reused++
		}
		result.Documents = append(result.Documents, doc)
	}

	slog.Info("ingest_complete",
		slog.String("run_id", runID),
		slog.Int("documents", len(result.Documents)),
		slog.Int("reused", result.Reused))
	return result, nil
}

// discover expands the input paths into FileInfos. Directories stream
// through the scanner; explicit files bypass the include globs but not
// the PDF extension check.
func (ing *Ingestor) discover(ctx context.Context, inputs []string) ([]*scanner.FileInfo, error) {
	maxSize := int64(ing.cfg.Ingest.MaxFileSizeMB) << 20
	var files []*scanner.FileInfo
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, conerrors.InvalidInput(fmt.Sprintf("cannot access %s: %v", input, err))
		}
		if !info.IsDir() {
			f, err := ing.scanner.Stat(input)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		ch, err := ing.scanner.Scan(ctx, scanner.Options{
			Root:        input,
			Include:     ing.cfg.Ingest.Include,
			Exclude:     ing.cfg.Ingest.Exclude,
			MaxFileSize: maxSize,
		})
		if err != nil {
			return nil, err
		}
		found, err := scanner.Collect(ch)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

// ingestFile uploads one PDF under the run prefix and registers its
// Document row, reusing an existing row when the checksum matches an
// earlier upload. The upload happens for reused documents too: object
// keys are per run, so deleting one run never strands another.
func (ing *Ingestor) ingestFile(ctx context.Context, runID string, f *scanner.FileInfo) (*store.Document, bool, error) {
	pdf, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, false, conerrors.InvalidInput(fmt.Sprintf("cannot read %s: %v", f.Path, err))
	}
	sum := sha256.Sum256(pdf)
	checksum := hex.EncodeToString(sum[:])

	doc, err := ing.store.FindDocumentByChecksum(ctx, checksum)
	if err != nil {
		return nil, false, err
	}
	reused := doc != nil
	if doc == nil {
		doc = &store.Document{
			ID:       uuid.NewString(),
			Filename: f.Path,
			FileSize: f.Size,
			Checksum: checksum,
		}
		doc.FilePath = objstore.SourcePDFKey(runID, doc.ID)
		if err := ing.store.SaveDocument(ctx, doc); err != nil {
			return nil, false, err
		}
	}

	key := objstore.SourcePDFKey(runID, doc.ID)
	if err := ing.objects.PutBytes(ctx, key, pdf, "application/pdf"); err != nil {
		return nil, false, err
	}
	if err := ing.store.LinkDocument(ctx, runID, doc.ID); err != nil {
		return nil, false, err
	}

	slog.Info("document_ingested",
		slog.String("run_id", runID),
		slog.String("document_id", doc.ID),
		slog.String("filename", doc.Filename),
		slog.Int64("size_bytes", f.Size),
		slog.Bool("reused", reused))
	return doc, reused, nil
}

// accessForKind applies the visibility rule: anonymous email uploads
// produce public artifacts, project uploads stay private.
func accessForKind(kind store.UploadKind) store.AccessLevel {
	if kind == store.UploadKindEmail {
		return store.AccessPublic
	}
	return store.AccessPrivate
}
