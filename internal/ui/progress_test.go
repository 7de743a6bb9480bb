package ui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerStartsAtIngest(t *testing.T) {
	tr := NewProgressTracker()
	stats := tr.Stats()

	assert.Equal(t, StageIngest, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Progress)
}

func TestTrackerProgressFraction(t *testing.T) {
	tr := NewProgressTracker()
	tr.SetStage(StagePartition, 48)

	tr.Update(12, "doc-a.pdf")
	stats := tr.Stats()
	assert.Equal(t, 12, stats.Current)
	assert.Equal(t, 48, stats.Total)
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)
	assert.Equal(t, "doc-a.pdf", stats.CurrentDocument)

	// Over-counting clamps rather than overflowing the bar.
	tr.Update(60, "")
	assert.InDelta(t, 1.0, tr.Stats().Progress, 1e-9)
	assert.Equal(t, "doc-a.pdf", tr.Stats().CurrentDocument, "empty doc must not clear the last one")
}

func TestTrackerSetStageResetsCounters(t *testing.T) {
	tr := NewProgressTracker()
	tr.SetStage(StageChunking, 48)
	tr.Update(48, "last.pdf")

	tr.SetStage(StageEmbedding, 15)
	stats := tr.Stats()
	assert.Equal(t, StageEmbedding, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Equal(t, 15, stats.Total)
	assert.Empty(t, stats.CurrentDocument)
}

func TestTrackerErrorsAndWarnings(t *testing.T) {
	tr := NewProgressTracker()

	tr.AddError(ErrorEvent{Document: "a.pdf", Err: errors.New("boom")})
	tr.AddError(ErrorEvent{Document: "b.pdf", Err: errors.New("page 3"), IsWarn: true})
	tr.AddError(ErrorEvent{Document: "c.pdf", Err: errors.New("page 5"), IsWarn: true})

	stats := tr.Stats()
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 2, stats.WarnCount)

	assert.Len(t, tr.Errors(), 1)
	assert.Len(t, tr.Warnings(), 2)
	assert.Equal(t, "b.pdf", tr.Warnings()[0].Document)
}

func TestTrackerETAZeroWithoutProgress(t *testing.T) {
	tr := NewProgressTracker()
	assert.Zero(t, tr.Stats().ETA)

	tr.SetStage(StageEmbedding, 10)
	assert.Zero(t, tr.Stats().ETA, "no ETA before the first unit completes")
}

func TestTrackerSparklineRenderWidth(t *testing.T) {
	tr := NewProgressTracker()
	spark := tr.RenderSparkline(20)
	assert.Len(t, []rune(spark), 20)
}
