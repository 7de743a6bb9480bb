package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// SQLiteKeywordIndex implements KeywordIndex on an FTS5 virtual table,
// sharing the metadata database so keyword search needs no extra files.
type SQLiteKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	stopWords map[string]struct{}
	closed    bool
}

// NewSQLiteKeywordIndex creates the FTS5 table on db if needed. The
// caller retains ownership of db; Close here does not close it.
func NewSQLiteKeywordIndex(db *sql.DB, config KeywordConfig) (*SQLiteKeywordIndex, error) {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
		chunk_id UNINDEXED,
		run_id UNINDEXED,
		content,
		tokenize = 'unicode61 remove_diacritics 2'
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create FTS5 table: %w", err)
	}
	return &SQLiteKeywordIndex{
		db:        db,
		stopWords: BuildStopWordMap(config.StopWords),
	}, nil
}

// Index adds chunks to the keyword index. FTS5 has no upsert, so rows
// are deleted and reinserted inside one transaction.
func (k *SQLiteKeywordIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM chunk_fts WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO chunk_fts (chunk_id, run_id, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer ins.Close()

	for _, c := range chunks {
		if _, err := del.ExecContext(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", c.ID, err)
		}
		if _, err := ins.ExecContext(ctx, c.ID, c.IndexingRunID, c.Content); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Search runs a BM25-ranked keyword query scoped to one run. FTS5 rank
// is negative-better; scores are negated so higher is better.
func (k *SQLiteKeywordIndex) Search(ctx context.Context, runID, query string, limit int) ([]*KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	match := k.buildMatchQuery(query)
	if match == "" {
		return []*KeywordResult{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := k.db.QueryContext(ctx, `
		SELECT chunk_id, rank FROM chunk_fts
		WHERE chunk_fts MATCH ? AND run_id = ?
		ORDER BY rank LIMIT ?`, match, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	terms := FilterStopWords(TokenizeText(query), k.stopWords)
	var results []*KeywordResult
	for rows.Next() {
		var r KeywordResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan keyword result: %w", err)
		}
		r.Score = -rank
		r.MatchedTerms = terms
		results = append(results, &r)
	}
	return results, rows.Err()
}

// buildMatchQuery tokenizes free text into an FTS5 OR query. Quoting
// each token keeps FTS5 operators in user input from being parsed.
func (k *SQLiteKeywordIndex) buildMatchQuery(query string) string {
	tokens := FilterStopWords(TokenizeText(query), k.stopWords)
	if len(tokens) == 0 {
		// A query of pure stop words still deserves results.
		tokens = TokenizeText(query)
	}
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// Delete removes chunks from the index.
func (k *SQLiteKeywordIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunk_fts WHERE chunk_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range chunkIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close marks the index closed. The shared database handle is left open.
func (k *SQLiteKeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

var _ KeywordIndex = (*SQLiteKeywordIndex)(nil)
