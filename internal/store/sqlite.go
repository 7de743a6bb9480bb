package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

// SQLiteStore implements MetadataStore on a single SQLite database file.
// The connection pool is capped at one writer; WAL mode keeps readers
// from blocking behind writes.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the metadata database at path.
// An empty path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writes through a single connection. SQLite handles one
	// writer at a time; more connections just produce SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexing_runs (
		id              TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL DEFAULT '',
		upload_kind     TEXT NOT NULL,
		upload_id       TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		access_level    TEXT NOT NULL,
		config_snapshot TEXT NOT NULL DEFAULT '{}',
		error_message   TEXT NOT NULL DEFAULT '',
		started_at      INTEGER NOT NULL,
		completed_at    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON indexing_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		filename   TEXT NOT NULL,
		file_path  TEXT NOT NULL,
		file_size  INTEGER NOT NULL DEFAULT 0,
		page_count INTEGER NOT NULL DEFAULT 0,
		checksum   TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_checksum ON documents(checksum);

	CREATE TABLE IF NOT EXISTS indexing_run_documents (
		indexing_run_id TEXT NOT NULL,
		document_id     TEXT NOT NULL,
		PRIMARY KEY (indexing_run_id, document_id),
		FOREIGN KEY (indexing_run_id) REFERENCES indexing_runs(id) ON DELETE CASCADE,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id              TEXT PRIMARY KEY,
		document_id     TEXT NOT NULL,
		indexing_run_id TEXT NOT NULL,
		ordinal         INTEGER NOT NULL,
		content         TEXT NOT NULL,
		metadata        TEXT NOT NULL DEFAULT '{}',
		embedding       BLOB,
		created_at      INTEGER NOT NULL,
		FOREIGN KEY (indexing_run_id) REFERENCES indexing_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_run ON document_chunks(indexing_run_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_ordinal ON document_chunks(indexing_run_id, document_id, ordinal);

	CREATE TABLE IF NOT EXISTS stage_results (
		run_id             TEXT NOT NULL,
		document_id        TEXT NOT NULL DEFAULT '',
		stage_name         TEXT NOT NULL,
		status             TEXT NOT NULL,
		started_at         INTEGER NOT NULL,
		completed_at       INTEGER,
		duration_seconds   REAL NOT NULL DEFAULT 0,
		summary            TEXT NOT NULL DEFAULT '{}',
		sample_outputs     TEXT NOT NULL DEFAULT '{}',
		data               TEXT,
		error_message      TEXT NOT NULL DEFAULT '',
		config_fingerprint TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, document_id, stage_name)
	);

	CREATE TABLE IF NOT EXISTS wiki_generation_runs (
		id              TEXT PRIMARY KEY,
		indexing_run_id TEXT NOT NULL,
		status          TEXT NOT NULL,
		language        TEXT NOT NULL DEFAULT '',
		model           TEXT NOT NULL DEFAULT '',
		pages           TEXT NOT NULL DEFAULT '[]',
		error_message   TEXT NOT NULL DEFAULT '',
		started_at      INTEGER NOT NULL,
		completed_at    INTEGER,
		FOREIGN KEY (indexing_run_id) REFERENCES indexing_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_wiki_runs ON wiki_generation_runs(indexing_run_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS checklist_analysis_runs (
		id              TEXT PRIMARY KEY,
		indexing_run_id TEXT NOT NULL,
		checklist_name  TEXT NOT NULL DEFAULT '',
		model_name      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		progress_done   INTEGER NOT NULL DEFAULT 0,
		progress_total  INTEGER NOT NULL DEFAULT 0,
		raw_analysis    TEXT NOT NULL DEFAULT '',
		error_message   TEXT NOT NULL DEFAULT '',
		started_at      INTEGER NOT NULL,
		completed_at    INTEGER,
		FOREIGN KEY (indexing_run_id) REFERENCES indexing_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS checklist_results (
		id               TEXT PRIMARY KEY,
		analysis_run_id  TEXT NOT NULL,
		item_id          TEXT NOT NULL,
		item_name        TEXT NOT NULL,
		item_description TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		confidence_score REAL NOT NULL DEFAULT 0,
		description      TEXT NOT NULL DEFAULT '',
		primary_source   TEXT NOT NULL DEFAULT '',
		sources          TEXT NOT NULL DEFAULT '[]',
		created_at       INTEGER NOT NULL,
		FOREIGN KEY (analysis_run_id) REFERENCES checklist_analysis_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_checklist_results ON checklist_results(analysis_run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- indexing runs ---

func (s *SQLiteStore) CreateIndexingRun(ctx context.Context, run *IndexingRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	if run.AccessLevel == "" {
		run.AccessLevel = AccessPrivate
	}
	snapshot := string(run.ConfigSnapshot)
	if snapshot == "" {
		snapshot = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_runs (id, project_id, upload_kind, upload_id, status, access_level, config_snapshot, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID, string(run.UploadKind), run.UploadID, string(run.Status),
		string(run.AccessLevel), snapshot, run.ErrorMessage, run.StartedAt.Unix(), unixOrNil(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert indexing run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIndexingRun(ctx context.Context, id string) (*IndexingRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, upload_kind, upload_id, status, access_level, config_snapshot, error_message, started_at, completed_at
		FROM indexing_runs WHERE id = ?`, id)
	run, err := scanIndexingRun(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexing run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) LatestIndexingRun(ctx context.Context) (*IndexingRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, upload_kind, upload_id, status, access_level, config_snapshot, error_message, started_at, completed_at
		FROM indexing_runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanIndexingRun(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", "latest")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest indexing run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListIndexingRuns(ctx context.Context, limit int) ([]*IndexingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, upload_kind, upload_id, status, access_level, config_snapshot, error_message, started_at, completed_at
		FROM indexing_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexing runs: %w", err)
	}
	defer rows.Close()

	var runs []*IndexingRun
	for rows.Next() {
		run, err := scanIndexingRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indexing run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) UpdateIndexingRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error {
	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE indexing_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), errorMessage, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update indexing run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", id)
	}
	return nil
}

// DeleteIndexingRun removes the run and everything derived from it:
// stage results (wiki and checklist stages key by their own run IDs),
// chunk rows, run-document links, derived wiki and checklist runs, and
// any document no remaining run references. The schema's ON DELETE
// CASCADE clauses are inert without the foreign_keys pragma, so every
// child is deleted explicitly.
func (s *SQLiteStore) DeleteIndexingRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM stage_results WHERE run_id = ?
			OR run_id IN (SELECT id FROM wiki_generation_runs WHERE indexing_run_id = ?)
			OR run_id IN (SELECT id FROM checklist_analysis_runs WHERE indexing_run_id = ?)`,
		id, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete stage results: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM checklist_results WHERE analysis_run_id IN
			(SELECT id FROM checklist_analysis_runs WHERE indexing_run_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete checklist results: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM checklist_analysis_runs WHERE indexing_run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete checklist runs: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM wiki_generation_runs WHERE indexing_run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete wiki runs: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE indexing_run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM indexing_run_documents WHERE indexing_run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run documents: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM indexing_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexing run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", id)
	}

	// Documents linked to no remaining run are orphans.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM documents WHERE id NOT IN (SELECT document_id FROM indexing_run_documents)`)
	if err != nil {
		return fmt.Errorf("failed to delete orphaned documents: %w", err)
	}

	return tx.Commit()
}

// --- documents ---

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_path, file_size, page_count, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			page_count = excluded.page_count,
			checksum = excluded.checksum`,
		doc.ID, doc.Filename, doc.FilePath, doc.FileSize, doc.PageCount, doc.Checksum, doc.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_path, file_size, page_count, checksum, created_at
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeDocumentNotFound, "document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) FindDocumentByChecksum(ctx context.Context, checksum string) (*Document, error) {
	if checksum == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_path, file_size, page_count, checksum, created_at
		FROM documents WHERE checksum = ? ORDER BY created_at DESC LIMIT 1`, checksum)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by checksum: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) LinkDocument(ctx context.Context, runID, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO indexing_run_documents (indexing_run_id, document_id) VALUES (?, ?)`,
		runID, documentID)
	if err != nil {
		return fmt.Errorf("failed to link document to run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRunDocuments(ctx context.Context, runID string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.filename, d.file_path, d.file_size, d.page_count, d.checksum, d.created_at
		FROM documents d
		JOIN indexing_run_documents rd ON rd.document_id = d.id
		WHERE rd.indexing_run_id = ?
		ORDER BY d.filename`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) UpdateDocumentPages(ctx context.Context, id string, pageCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET page_count = ? WHERE id = ?`, pageCount, id)
	if err != nil {
		return fmt.Errorf("failed to update document pages: %w", err)
	}
	return nil
}

// --- chunks ---

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A retried document pipeline regenerates chunk IDs, so the ordinal
	// key catches the replay and replaces the stale row.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, indexing_run_id, ordinal, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding
		ON CONFLICT(indexing_run_id, document_id, ordinal) DO UPDATE SET
			id = excluded.id,
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}
		var emb any
		if len(c.Embedding) > 0 {
			emb = encodeEmbedding(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.IndexingRunID, c.Ordinal,
			c.Content, string(meta), emb, c.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, indexing_run_id, ordinal, content, metadata, embedding, created_at
		FROM document_chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeChunkNotFound, "chunk", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, document_id, indexing_run_id, ordinal, content, metadata, embedding, created_at
		FROM document_chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve caller order, dropping IDs that no longer exist.
	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (s *SQLiteStore) ListRunChunks(ctx context.Context, runID string, embeddedOnly bool) ([]*Chunk, error) {
	query := `
		SELECT id, document_id, indexing_run_id, ordinal, content, metadata, embedding, created_at
		FROM document_chunks WHERE indexing_run_id = ?`
	if embeddedOnly {
		query += ` AND embedding IS NOT NULL`
	}
	query += ` ORDER BY document_id, ordinal`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) SaveChunkEmbeddings(ctx context.Context, ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return fmt.Errorf("ids and embeddings length mismatch: %d vs %d", len(ids), len(embeddings))
	}
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE document_chunks SET embedding = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare embedding update: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if len(embeddings[i]) != EmbeddingDimensions {
			return &ErrDimensionMismatch{Expected: EmbeddingDimensions, Got: len(embeddings[i])}
		}
		if _, err := stmt.ExecContext(ctx, encodeEmbedding(embeddings[i]), id); err != nil {
			return fmt.Errorf("failed to store embedding for chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ChunkStats(ctx context.Context, runID string) (total, embedded int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(embedding) FROM document_chunks WHERE indexing_run_id = ?`, runID)
	if err := row.Scan(&total, &embedded); err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, embedded, nil
}

func (s *SQLiteStore) DeleteDocumentChunks(ctx context.Context, runID, documentID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM document_chunks WHERE indexing_run_id = ? AND document_id = ?`, runID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list document chunks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM document_chunks WHERE indexing_run_id = ? AND document_id = ?`, runID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return ids, tx.Commit()
}

// --- stage results ---

func (s *SQLiteStore) SaveStageResult(ctx context.Context, sr *StageResult) error {
	summary, err := marshalOrEmpty(sr.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal stage summary: %w", err)
	}
	samples, err := marshalOrEmpty(sr.SampleOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal stage samples: %w", err)
	}
	var data any
	if len(sr.Data) > 0 {
		data = string(sr.Data)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stage_results (run_id, document_id, stage_name, status, started_at, completed_at,
			duration_seconds, summary, sample_outputs, data, error_message, config_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, document_id, stage_name) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_seconds = excluded.duration_seconds,
			summary = excluded.summary,
			sample_outputs = excluded.sample_outputs,
			data = excluded.data,
			error_message = excluded.error_message,
			config_fingerprint = excluded.config_fingerprint`,
		sr.RunID, sr.DocumentID, sr.StageName, string(sr.Status), sr.StartedAt.Unix(),
		unixOrNil(sr.CompletedAt), sr.DurationSeconds, summary, samples, data,
		sr.ErrorMessage, sr.ConfigFingerprint)
	if err != nil {
		return fmt.Errorf("failed to save stage result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetStageResult(ctx context.Context, runID, documentID, stageName string) (*StageResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, document_id, stage_name, status, started_at, completed_at,
			duration_seconds, summary, sample_outputs, data, error_message, config_fingerprint
		FROM stage_results WHERE run_id = ? AND document_id = ? AND stage_name = ?`,
		runID, documentID, stageName)
	sr, err := scanStageResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage result: %w", err)
	}
	return sr, nil
}

func (s *SQLiteStore) ListStageResults(ctx context.Context, runID string) ([]*StageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, document_id, stage_name, status, started_at, completed_at,
			duration_seconds, summary, sample_outputs, data, error_message, config_fingerprint
		FROM stage_results WHERE run_id = ? ORDER BY started_at, document_id, stage_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage results: %w", err)
	}
	defer rows.Close()

	var results []*StageResult
	for rows.Next() {
		sr, err := scanStageResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

// --- wiki runs ---

func (s *SQLiteStore) CreateWikiRun(ctx context.Context, run *WikiRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	pages, err := json.Marshal(run.Pages)
	if err != nil {
		return fmt.Errorf("failed to marshal wiki pages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wiki_generation_runs (id, indexing_run_id, status, language, model, pages, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.IndexingRunID, string(run.Status), run.Language, run.Model,
		string(pages), run.ErrorMessage, run.StartedAt.Unix(), unixOrNil(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert wiki run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWikiRun(ctx context.Context, id string) (*WikiRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, indexing_run_id, status, language, model, pages, error_message, started_at, completed_at
		FROM wiki_generation_runs WHERE id = ?`, id)
	run, err := scanWikiRun(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "wiki run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wiki run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) LatestWikiRun(ctx context.Context, indexingRunID string) (*WikiRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, indexing_run_id, status, language, model, pages, error_message, started_at, completed_at
		FROM wiki_generation_runs WHERE indexing_run_id = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`, indexingRunID)
	run, err := scanWikiRun(row)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "wiki run", indexingRunID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest wiki run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListWikiRuns(ctx context.Context, indexingRunID string) ([]*WikiRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, indexing_run_id, status, language, model, pages, error_message, started_at, completed_at
		FROM wiki_generation_runs WHERE indexing_run_id = ? ORDER BY started_at DESC, id DESC`, indexingRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wiki runs: %w", err)
	}
	defer rows.Close()

	var runs []*WikiRun
	for rows.Next() {
		run, err := scanWikiRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wiki run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) UpdateWikiRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error {
	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE wiki_generation_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), errorMessage, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update wiki run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conerrors.NotFound(conerrors.ErrCodeRunNotFound, "wiki run", id)
	}
	return nil
}

func (s *SQLiteStore) SetWikiRunPages(ctx context.Context, id string, language string, pages []WikiPageMeta) error {
	data, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("failed to marshal wiki pages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE wiki_generation_runs SET language = ?, pages = ? WHERE id = ?`,
		language, string(data), id)
	if err != nil {
		return fmt.Errorf("failed to set wiki pages: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conerrors.NotFound(conerrors.ErrCodeRunNotFound, "wiki run", id)
	}
	return nil
}

// --- checklist runs ---

func (s *SQLiteStore) CreateChecklistRun(ctx context.Context, run *ChecklistRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checklist_analysis_runs (id, indexing_run_id, checklist_name, model_name, status,
			progress_done, progress_total, raw_analysis, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.IndexingRunID, run.ChecklistName, run.ModelName, string(run.Status),
		run.ProgressDone, run.ProgressTotal, run.RawAnalysis, run.ErrorMessage,
		run.StartedAt.Unix(), unixOrNil(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert checklist run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChecklistRun(ctx context.Context, id string) (*ChecklistRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, indexing_run_id, checklist_name, model_name, status, progress_done, progress_total,
			raw_analysis, error_message, started_at, completed_at
		FROM checklist_analysis_runs WHERE id = ?`, id)

	var run ChecklistRun
	var status string
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&run.ID, &run.IndexingRunID, &run.ChecklistName, &run.ModelName, &status,
		&run.ProgressDone, &run.ProgressTotal, &run.RawAnalysis, &run.ErrorMessage, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, conerrors.NotFound(conerrors.ErrCodeRunNotFound, "checklist run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checklist run: %w", err)
	}
	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	run.CompletedAt = timeOrNil(completedAt)
	return &run, nil
}

func (s *SQLiteStore) UpdateChecklistRunStatus(ctx context.Context, id string, status RunStatus, errorMessage string) error {
	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE checklist_analysis_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), errorMessage, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update checklist run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conerrors.NotFound(conerrors.ErrCodeRunNotFound, "checklist run", id)
	}
	return nil
}

func (s *SQLiteStore) UpdateChecklistProgress(ctx context.Context, id string, done, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checklist_analysis_runs SET progress_done = ?, progress_total = ? WHERE id = ?`,
		done, total, id)
	if err != nil {
		return fmt.Errorf("failed to update checklist progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetChecklistResults(ctx context.Context, id string, rawAnalysis string, results []ChecklistResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE checklist_analysis_runs SET raw_analysis = ? WHERE id = ?`, rawAnalysis, id); err != nil {
		return fmt.Errorf("failed to store raw analysis: %w", err)
	}

	// Replace any previous results for this run.
	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_results WHERE analysis_run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear checklist results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO checklist_results (id, analysis_run_id, item_id, item_name, item_description,
			status, confidence_score, description, primary_source, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range results {
		r := &results[i]
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		sources, err := json.Marshal(r.Sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources: %w", err)
		}
		var primary string
		if r.PrimarySource != nil {
			raw, err := json.Marshal(r.PrimarySource)
			if err != nil {
				return fmt.Errorf("failed to marshal primary source: %w", err)
			}
			primary = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, id, r.ItemID, r.ItemName, r.ItemDescription,
			string(r.Status), r.ConfidenceScore, r.DescriptionText, primary, string(sources), r.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert checklist result %s: %w", r.ItemID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListChecklistResults(ctx context.Context, analysisRunID string) ([]ChecklistResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_run_id, item_id, item_name, item_description, status,
			confidence_score, description, primary_source, sources, created_at
		FROM checklist_results WHERE analysis_run_id = ? ORDER BY item_id`, analysisRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checklist results: %w", err)
	}
	defer rows.Close()

	var results []ChecklistResult
	for rows.Next() {
		var r ChecklistResult
		var status, primary, sources string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.AnalysisRunID, &r.ItemID, &r.ItemName, &r.ItemDescription,
			&status, &r.ConfidenceScore, &r.DescriptionText, &primary, &sources, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan checklist result: %w", err)
		}
		r.Status = ChecklistStatus(status)
		r.CreatedAt = time.Unix(createdAt, 0)
		if primary != "" {
			r.PrimarySource = &SourceRef{}
			if err := json.Unmarshal([]byte(primary), r.PrimarySource); err != nil {
				return nil, fmt.Errorf("failed to unmarshal primary source: %w", err)
			}
		}
		if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- row scanning and encoding helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndexingRun(row rowScanner) (*IndexingRun, error) {
	var run IndexingRun
	var uploadKind, status, accessLevel, snapshot string
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&run.ID, &run.ProjectID, &uploadKind, &run.UploadID, &status,
		&accessLevel, &snapshot, &run.ErrorMessage, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.UploadKind = UploadKind(uploadKind)
	run.Status = RunStatus(status)
	run.AccessLevel = AccessLevel(accessLevel)
	run.ConfigSnapshot = json.RawMessage(snapshot)
	run.StartedAt = time.Unix(startedAt, 0)
	run.CompletedAt = timeOrNil(completedAt)
	return &run, nil
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var createdAt int64
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.FileSize, &doc.PageCount,
		&doc.Checksum, &createdAt)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(createdAt, 0)
	return &doc, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var meta string
	var emb []byte
	var createdAt int64
	err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.IndexingRunID, &chunk.Ordinal,
		&chunk.Content, &meta, &emb, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &chunk.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk metadata: %w", err)
	}
	if len(emb) > 0 {
		chunk.Embedding = decodeEmbedding(emb)
	}
	chunk.CreatedAt = time.Unix(createdAt, 0)
	return &chunk, nil
}

func scanStageResult(row rowScanner) (*StageResult, error) {
	var sr StageResult
	var status, summary, samples string
	var data sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&sr.RunID, &sr.DocumentID, &sr.StageName, &status, &startedAt, &completedAt,
		&sr.DurationSeconds, &summary, &samples, &data, &sr.ErrorMessage, &sr.ConfigFingerprint)
	if err != nil {
		return nil, err
	}
	sr.Status = StageStatus(status)
	sr.StartedAt = time.Unix(startedAt, 0)
	sr.CompletedAt = timeOrNil(completedAt)
	if err := json.Unmarshal([]byte(summary), &sr.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage summary: %w", err)
	}
	if err := json.Unmarshal([]byte(samples), &sr.SampleOutputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage samples: %w", err)
	}
	if data.Valid {
		sr.Data = json.RawMessage(data.String)
	}
	return &sr, nil
}

func scanWikiRun(row rowScanner) (*WikiRun, error) {
	var run WikiRun
	var status, pages string
	var startedAt int64
	var completedAt sql.NullInt64
	err := row.Scan(&run.ID, &run.IndexingRunID, &status, &run.Language, &run.Model,
		&pages, &run.ErrorMessage, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	run.CompletedAt = timeOrNil(completedAt)
	if err := json.Unmarshal([]byte(pages), &run.Pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wiki pages: %w", err)
	}
	return &run, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func marshalOrEmpty(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// encodeEmbedding packs a float32 vector into little-endian bytes for
// BLOB storage.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

var _ MetadataStore = (*SQLiteStore)(nil)
