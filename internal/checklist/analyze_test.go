package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemsBlockRendering(t *testing.T) {
	items := []ChecklistItem{
		{Number: "1", Name: "Kloak", Description: "Fald og ringstivhed"},
		{Number: "2", Name: "Brand", Description: "Brand"},
	}

	block := itemsBlock(items)
	assert.Equal(t, "- 1 Kloak: Fald og ringstivhed\n- 2 Brand", block)
}

func TestItemsBlockEmpty(t *testing.T) {
	assert.Equal(t, "-", itemsBlock(nil))
}

func TestEvidenceBlockFormatsCitations(t *testing.T) {
	retrieved := RetrievalOutput{Chunks: []ChunkRef{
		{Filename: "plan.pdf", PageNumber: 3, Content: "Kloakledninger udføres i PVC."},
	}}

	block := evidenceBlock(retrieved)
	assert.Contains(t, block, "[plan.pdf, 3]")
	assert.Contains(t, block, "Kloakledninger udføres i PVC.")
}

func TestEvidenceBlockEmpty(t *testing.T) {
	assert.Equal(t, "-", evidenceBlock(RetrievalOutput{}))
}
