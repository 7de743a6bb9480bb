package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguageDanish(t *testing.T) {
	sample := []ChunkSample{
		{Content: "Kloakledninger udføres i PVC og lægges med fald."},
		{Content: "Tagspær monteres på murremme med beslag."},
	}
	assert.Equal(t, "danish", detectLanguage(sample))
}

func TestDetectLanguageEnglish(t *testing.T) {
	sample := []ChunkSample{
		{Content: "Sewer pipes are installed in PVC with a constant gradient."},
		{Content: "Roof trusses are mounted on wall plates with brackets."},
	}
	assert.Equal(t, "english", detectLanguage(sample))
}

func TestDetectLanguageEmptySample(t *testing.T) {
	assert.Equal(t, "", detectLanguage(nil))
}

func TestTopSectionsOrdersByCount(t *testing.T) {
	headers := map[string]int{
		"2. Betonarbejde":  5,
		"3. Murerarbejde":  2,
		"1. Generelt":      5,
		"4. Tagarbejde":    1,
	}
	got := topSections(headers, 3)
	assert.Equal(t, []string{"1. Generelt", "2. Betonarbejde", "3. Murerarbejde"}, got)
}

func TestTopSectionsEmpty(t *testing.T) {
	assert.Empty(t, topSections(nil, 5))
}

func TestTruncateRunesKeepsWholeRunes(t *testing.T) {
	assert.Equal(t, "æøåæø", truncateRunes("æøåæøåæøå", 5))
	assert.Equal(t, "kort", truncateRunes("kort", 10))
}
