package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore captures every flush so tests can check what was
// written and how often.
type recordingStore struct {
	mu        sync.Mutex
	typeSaves []map[QueryType]int64
	langSaves []map[string]int64
	termSaves []map[string]int64
	latSaves  []map[LatencyBucket]int64
	zero      []string
}

func (r *recordingStore) SaveQueryTypeCounts(date string, counts map[QueryType]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeSaves = append(r.typeSaves, counts)
	return nil
}

func (r *recordingStore) GetQueryTypeCounts(from, to string) (map[QueryType]int64, error) {
	return nil, nil
}

func (r *recordingStore) SaveLanguageCounts(date string, counts map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langSaves = append(r.langSaves, counts)
	return nil
}

func (r *recordingStore) GetLanguageCounts(from, to string) (map[string]int64, error) {
	return nil, nil
}

func (r *recordingStore) UpsertTermCounts(terms map[string]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.termSaves = append(r.termSaves, terms)
	return nil
}

func (r *recordingStore) GetTopTerms(limit int) ([]TermCount, error) { return nil, nil }

func (r *recordingStore) AddZeroResultQuery(query string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zero = append(r.zero, query)
	return nil
}

func (r *recordingStore) GetZeroResultQueries(limit int) ([]string, error) { return nil, nil }

func (r *recordingStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latSaves = append(r.latSaves, counts)
	return nil
}

func (r *recordingStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	return nil, nil
}

func (r *recordingStore) Close() error { return nil }

// newTestMetrics disables the background flush so tests control every
// write.
func newTestMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, QueryMetricsConfig{FlushInterval: 0})
}

func semanticEvent(query string, results int) QueryEvent {
	return QueryEvent{
		Query:       query,
		QueryType:   QueryTypeSemantic,
		Language:    "danish",
		ResultCount: results,
		Latency:     25 * time.Millisecond,
		Timestamp:   time.Now(),
	}
}

func TestRecordAggregatesTypesAndLanguages(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	m.Record(semanticEvent("betonkvalitet fundament", 5))
	m.Record(semanticEvent("brandkrav til døre", 3))
	m.Record(QueryEvent{
		Query: "fire rating", QueryType: QueryTypeLexical,
		Language: "english", ResultCount: 2, Latency: 3 * time.Millisecond,
	})

	s := m.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.QueryTypeCounts[QueryTypeSemantic])
	assert.Equal(t, int64(1), s.QueryTypeCounts[QueryTypeLexical])
	assert.Equal(t, int64(2), s.LanguageCounts["danish"])
	assert.Equal(t, int64(1), s.LanguageCounts["english"])
	assert.Equal(t, int64(2), s.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP10])
}

func TestRecordTracksZeroResultQueries(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	m.Record(semanticEvent("betonkvalitet", 4))
	m.Record(semanticEvent("kviksølvdeponi under kælderen", 0))

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Contains(t, s.ZeroResultQueries, "kviksølvdeponi under kælderen")
	assert.InDelta(t, 50.0, s.ZeroResultPercentage(), 0.001)
}

func TestExtractTerms(t *testing.T) {
	terms := ExtractTerms("Hvad er kravene til beton C30/37 på fundamentet?")
	assert.Equal(t, []string{"hvad", "kravene", "til", "beton", "c30/37", "fundamentet"}, terms)

	// Length is counted in runes, so two-letter Danish words drop out
	// even though they are more than three bytes.
	assert.NotContains(t, ExtractTerms("krav på døre"), "på")

	assert.Nil(t, ExtractTerms(""))
	assert.Nil(t, ExtractTerms("  er på ok  "))
}

func TestLatencyToBucket(t *testing.T) {
	cases := []struct {
		latency time.Duration
		bucket  LatencyBucket
	}{
		{3 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{72 * time.Millisecond, BucketP100},
		{480 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.bucket, LatencyToBucket(tc.latency), "latency %s", tc.latency)
	}
}

func TestCircularBufferEvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []int{3, 4, 5}, buf.Items())

	buf.Clear()
	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Items())
}

func TestExactRepeatDetectionNormalizesCase(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	m.Record(semanticEvent("Betonkvalitet fundament", 5))
	m.Record(semanticEvent("  betonkvalitet fundament  ", 5))
	m.Record(semanticEvent("brandkrav", 5))

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.ExactRepeatCount)
	assert.Equal(t, int64(2), s.UniqueQueryCount)
	assert.InDelta(t, 1.0/3.0, s.ExactRepeatRate, 0.001)
}

func TestSimilarQuerySampling(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	a := []float32{1, 0, 0, 0}
	b := []float32{0.99, 0.14, 0, 0}
	orthogonal := []float32{0, 1, 0, 0}

	m.RecordQueryEmbedding(a)
	m.RecordQueryEmbedding(b)
	m.RecordQueryEmbedding(orthogonal)

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.SimilarQueryCount)
}

func TestSnapshotTopTermsSortedByCount(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	m.Record(semanticEvent("beton fundament", 1))
	m.Record(semanticEvent("beton dæklag", 1))
	m.Record(semanticEvent("beton", 1))

	s := m.Snapshot()
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, "beton", s.TopTerms[0].Term)
	assert.Equal(t, int64(3), s.TopTerms[0].Count)
}

func TestFlushWritesOnlyDeltas(t *testing.T) {
	store := &recordingStore{}
	m := newTestMetrics(store)
	defer m.Close()

	m.Record(semanticEvent("betonkvalitet", 5))
	m.Record(semanticEvent("brandkrav", 0))
	require.NoError(t, m.Flush())

	require.Len(t, store.typeSaves, 1)
	assert.Equal(t, int64(2), store.typeSaves[0][QueryTypeSemantic])
	assert.Equal(t, []string{"brandkrav"}, store.zero)

	// Nothing new recorded: a second flush writes nothing.
	require.NoError(t, m.Flush())
	assert.Len(t, store.typeSaves, 1)
	assert.Len(t, store.zero, 1)

	// One more query reaches the store as a delta of one.
	m.Record(semanticEvent("membran", 2))
	require.NoError(t, m.Flush())
	require.Len(t, store.typeSaves, 2)
	assert.Equal(t, int64(1), store.typeSaves[1][QueryTypeSemantic])
}

func TestFlushWithoutStore(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	m.Record(semanticEvent("betonkvalitet", 5))
	assert.NoError(t, m.Flush())
}

func TestCloseFlushesPendingAndStopsRecording(t *testing.T) {
	store := &recordingStore{}
	m := newTestMetrics(store)

	m.Record(semanticEvent("betonkvalitet", 5))
	require.NoError(t, m.Close())
	require.Len(t, store.typeSaves, 1)

	// Closed collectors ignore further events and close cleanly again.
	m.Record(semanticEvent("brandkrav", 5))
	assert.Equal(t, int64(1), m.Snapshot().TotalQueries)
	assert.NoError(t, m.Close())
	assert.Len(t, store.typeSaves, 1)
}

func TestConcurrentRecording(t *testing.T) {
	m := newTestMetrics(nil)
	defer m.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.Record(semanticEvent(fmt.Sprintf("query %d-%d", w, i), i%3))
				m.RecordQueryEmbedding([]float32{float32(w), float32(i), 1})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(400), m.Snapshot().TotalQueries)
}
