package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jepras/ConstructionRAG-sub001/internal/pipeline"
	"github.com/jepras/ConstructionRAG-sub001/internal/store"
)

// pagePosition orders synthesized page elements after every partition
// element on their page.
const pagePosition = 1 << 30

// annotateElements attaches structural metadata to the partition
// output. The sweep runs in reading order: a Title element opens a new
// section, and everything after it inherits that section until the
// next Title. Pages flagged for visual captioning gain a synthesized
// ExtractedPage element placed after the page's own elements.
func annotateElements(filename string, part PartitionOutput) (MetadataOutput, pipeline.Outcome) {
	merged := make([]Element, 0, len(part.TextElements)+len(part.TableElements))
	merged = append(merged, part.TextElements...)
	merged = append(merged, part.TableElements...)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].PageNumber != merged[j].PageNumber {
			return merged[i].PageNumber < merged[j].PageNumber
		}
		return merged[i].Position < merged[j].Position
	})

	out := MetadataOutput{PageSections: make(map[int]string)}
	section := ""
	titles := 0
	for _, el := range merged {
		if el.Category == store.CategoryTitle && strings.TrimSpace(el.Text) != "" {
			section = strings.TrimSpace(el.Text)
			titles++
		}
		if _, seen := out.PageSections[el.PageNumber]; !seen {
			out.PageSections[el.PageNumber] = section
		}
		out.Elements = append(out.Elements, AnnotatedElement{
			Element: el,
			Metadata: StructuralMetadata{
				SourceFilename:  filename,
				PageNumber:      el.PageNumber,
				ContentType:     contentTypeFor(el.Category),
				ElementCategory: el.Category,
				ElementID:       el.ID,
				HasNumbers:      hasNumbers(el.Text),
				TextComplexity:  textComplexity(el.Text),
				SectionTitle:    section,
			},
		})
	}

	for _, ref := range part.ExtractedPages {
		el := Element{
			ID:         fmt.Sprintf("page_%d", ref.PageNumber),
			Category:   store.CategoryExtractedPage,
			PageNumber: ref.PageNumber,
			Position:   pagePosition,
			ImageKey:   ref.ImageKey,
		}
		pageSection := sectionForPage(out.PageSections, ref.PageNumber)
		if _, seen := out.PageSections[ref.PageNumber]; !seen {
			out.PageSections[ref.PageNumber] = pageSection
		}
		out.Elements = append(out.Elements, AnnotatedElement{
			Element: el,
			Metadata: StructuralMetadata{
				SourceFilename:  filename,
				PageNumber:      ref.PageNumber,
				ContentType:     ContentTypePage,
				ElementCategory: store.CategoryExtractedPage,
				ElementID:       el.ID,
				TextComplexity:  "simple",
				SectionTitle:    pageSection,
			},
		})
	}

	sort.SliceStable(out.Elements, func(i, j int) bool {
		a, b := out.Elements[i].Element, out.Elements[j].Element
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		return a.Position < b.Position
	})

	return out, pipeline.Outcome{
		Summary: map[string]any{
			"elements":    len(out.Elements),
			"titles_seen": titles,
			"pages":       len(out.PageSections),
		},
	}
}

// sectionForPage resolves the section in force on a page. A page with
// no text elements inherits from the nearest preceding page.
func sectionForPage(pageSections map[int]string, page int) string {
	if s, ok := pageSections[page]; ok {
		return s
	}
	best := 0
	section := ""
	for p, s := range pageSections {
		if p < page && p > best {
			best = p
			section = s
		}
	}
	return section
}

func contentTypeFor(cat store.ElementCategory) string {
	switch cat {
	case store.CategoryTable:
		return ContentTypeTable
	case store.CategoryExtractedPage:
		return ContentTypePage
	default:
		return ContentTypeText
	}
}

func hasNumbers(text string) bool {
	return strings.ContainsAny(text, "0123456789")
}

// textComplexity classifies prose by average sentence length. Long
// sentences dominate in specification clauses; short fragments in
// drawing labels and lists.
func textComplexity(text string) string {
	words := len(strings.Fields(text))
	if words == 0 {
		return "simple"
	}
	terminators := strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?")
	if terminators == 0 {
		terminators = 1
	}
	if words/terminators > 20 {
		return "complex"
	}
	return "simple"
}

// sample truncates text for stage sample outputs.
func sample(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
