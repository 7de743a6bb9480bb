// Package telemetry collects local query metrics for retrieval tuning.
// Aggregates live in memory and flush to the shared SQLite database so
// counters survive across CLI sessions. Nothing leaves the machine.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies how a query was answered.
type QueryType string

const (
	// QueryTypeSemantic marks vector retrieval queries.
	QueryTypeSemantic QueryType = "semantic"
	// QueryTypeLexical marks keyword index lookups.
	QueryTypeLexical QueryType = "lexical"
	// QueryTypeMixed marks flows that combined both.
	QueryTypeMixed QueryType = "mixed"
)

// LatencyBucket is a histogram bucket label.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket maps a query duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one retrieval query as seen by the engine.
type QueryEvent struct {
	Query       string
	QueryType   QueryType
	Language    string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query came back empty.
func (e QueryEvent) IsZeroResult() bool { return e.ResultCount == 0 }

// CircularBuffer is a fixed-capacity FIFO that evicts the oldest entry
// once full. Safe for concurrent use.
type CircularBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity)}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Items returns the buffered entries, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, b.size)
	if b.size < len(b.items) {
		return append(out, b.items[:b.size]...)
	}
	out = append(out, b.items[b.head:]...)
	return append(out, b.items[:b.head]...)
}

// Size returns the number of buffered entries.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear drops all entries.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.size = 0, 0
}

// ExtractTerms pulls index-worthy terms from a query: lowercased,
// stripped of edge punctuation, at least three runes. Interior
// punctuation survives so designations like "c30/37" and "ds/en 206"
// stay whole.
func ExtractTerms(query string) []string {
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		field = strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if utf8.RuneCountInString(field) >= 3 {
			terms = append(terms, field)
		}
	}
	return terms
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryMetricsSnapshot is a point-in-time copy of the collected
// metrics.
type QueryMetricsSnapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	LanguageCounts      map[string]int64        `json:"language_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`

	ExactRepeatCount  int64   `json:"exact_repeat_count"`
	ExactRepeatRate   float64 `json:"exact_repeat_rate"`
	SimilarQueryCount int64   `json:"similar_query_count"`
	SimilarQueryRate  float64 `json:"similar_query_rate"`
	UniqueQueryCount  int64   `json:"unique_query_count"`
}

// ZeroResultPercentage returns the share of queries that found
// nothing, in percent.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// QueryMetricsStore persists flushed metrics.
type QueryMetricsStore interface {
	SaveQueryTypeCounts(date string, counts map[QueryType]int64) error
	GetQueryTypeCounts(from, to string) (map[QueryType]int64, error)

	SaveLanguageCounts(date string, counts map[string]int64) error
	GetLanguageCounts(from, to string) (map[string]int64, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

// QueryMetricsConfig sizes the in-memory aggregates.
type QueryMetricsConfig struct {
	TopTermsCapacity    int
	ZeroResultsCapacity int

	// FlushInterval is how often deltas are written to the store. Zero
	// disables the background flush; Flush and Close still write.
	FlushInterval time.Duration

	// Repetition sampling. A high repeat rate is the signal to grow
	// the embedding cache.
	RecentQueriesCapacity    int
	RecentEmbeddingsCapacity int
	SimilarityThreshold      float64
}

// DefaultQueryMetricsConfig returns the default sizing.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		FlushInterval:            time.Minute,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	}
}

type zeroResult struct {
	query string
	at    time.Time
}

// flushBatch holds the deltas accumulated since the previous flush.
type flushBatch struct {
	types     map[QueryType]int64
	languages map[string]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []zeroResult
}

func newFlushBatch() flushBatch {
	return flushBatch{
		types:     make(map[QueryType]int64),
		languages: make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
	}
}

// QueryMetrics aggregates query events in memory and periodically
// flushes deltas to a QueryMetricsStore. Safe for concurrent use. A
// nil store keeps everything in memory.
type QueryMetrics struct {
	mu sync.Mutex

	queryTypes      map[QueryType]int64
	languages       map[string]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	recentQueries     *lru.Cache[string, struct{}]
	exactRepeatCount  int64
	recentEmbeddings  *CircularBuffer[[]float32]
	similarQueryCount int64

	store   QueryMetricsStore
	config  QueryMetricsConfig
	pending flushBatch
	ticker  *time.Ticker
	stopCh  chan struct{}
	closed  bool
}

// NewQueryMetrics creates a collector with default configuration.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector. Non-positive sizes
// fall back to the defaults.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if cfg.RecentEmbeddingsCapacity <= 0 {
		cfg.RecentEmbeddingsCapacity = def.RecentEmbeddingsCapacity
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		queryTypes:       make(map[QueryType]int64),
		languages:        make(map[string]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		recentEmbeddings: NewCircularBuffer[[]float32](cfg.RecentEmbeddingsCapacity),
		store:            store,
		config:           cfg,
		pending:          newFlushBatch(),
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one query event. Nothing is written to the store
// until the next flush.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.queryTypes[event.QueryType]++
	m.totalQueries++
	if event.Language != "" {
		m.languages[event.Language]++
	}

	terms := ExtractTerms(event.Query)
	for _, term := range terms {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
	}

	hash := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(hash); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(hash, struct{}{})

	if m.store == nil {
		return
	}
	m.pending.types[event.QueryType]++
	if event.Language != "" {
		m.pending.languages[event.Language]++
	}
	m.pending.latencies[bucket]++
	for _, term := range terms {
		m.pending.terms[term]++
	}
	if event.IsZeroResult() {
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.pending.zero = append(m.pending.zero, zeroResult{query: event.Query, at: at})
	}
}

// hashQuery normalizes case and whitespace so trivially repeated
// queries hash alike.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// RecordQueryEmbedding samples a query embedding for similarity
// tracking. Optional; callers that skip it only lose the
// similar-query rate.
func (m *QueryMetrics) RecordQueryEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	for _, prev := range m.recentEmbeddings.Items() {
		if cosineSimilarity(embedding, prev) > m.config.SimilarityThreshold {
			m.similarQueryCount++
			break
		}
	}
	clone := make([]float32, len(embedding))
	copy(clone, embedding)
	m.recentEmbeddings.Add(clone)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Snapshot copies the current aggregates for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &QueryMetricsSnapshot{
		QueryTypeCounts:     make(map[QueryType]int64, len(m.queryTypes)),
		LanguageCounts:      make(map[string]int64, len(m.languages)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(m.latencies)),
		ZeroResultQueries:   m.zeroResults.Items(),
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
		ExactRepeatCount:    m.exactRepeatCount,
		SimilarQueryCount:   m.similarQueryCount,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
	}
	for k, v := range m.queryTypes {
		s.QueryTypeCounts[k] = v
	}
	for k, v := range m.languages {
		s.LanguageCounts[k] = v
	}
	for k, v := range m.latencies {
		s.LatencyDistribution[k] = v
	}

	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})

	if m.totalQueries > 0 {
		s.ExactRepeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
		s.SimilarQueryRate = float64(m.similarQueryCount) / float64(m.totalQueries)
	}
	return s
}

// Flush writes the deltas accumulated since the previous flush. A
// failed write drops that interval's deltas.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	batch := m.pending
	m.pending = newFlushBatch()
	m.mu.Unlock()
	return m.write(batch)
}

func (m *QueryMetrics) write(batch flushBatch) error {
	date := time.Now().Format("2006-01-02")
	if len(batch.types) > 0 {
		if err := m.store.SaveQueryTypeCounts(date, batch.types); err != nil {
			return err
		}
	}
	if len(batch.languages) > 0 {
		if err := m.store.SaveLanguageCounts(date, batch.languages); err != nil {
			return err
		}
	}
	if len(batch.terms) > 0 {
		if err := m.store.UpsertTermCounts(batch.terms); err != nil {
			return err
		}
	}
	if len(batch.latencies) > 0 {
		if err := m.store.SaveLatencyCounts(date, batch.latencies); err != nil {
			return err
		}
	}
	for _, z := range batch.zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the background flush and writes any remaining deltas.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	batch := m.pending
	m.pending = newFlushBatch()
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	if m.store == nil {
		return nil
	}
	return m.write(batch)
}
