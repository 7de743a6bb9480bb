package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKebab(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"Projektoversigt", "projektoversigt"},
		{"Kloak- og afløbsarbejde", "kloak-og-afløbsarbejde"},
		{"El & VVS (installationer)", "el-vvs-installationer"},
		{"  Tag  ", "tag"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.out, kebab(tc.in), tc.in)
	}
}

func TestUniquePageFilename(t *testing.T) {
	seen := make(map[string]bool)
	assert.Equal(t, "kloakarbejde.md", uniquePageFilename("Kloakarbejde", 1, seen))
	assert.Equal(t, "kloakarbejde-2.md", uniquePageFilename("Kloakarbejde", 2, seen))
	assert.Equal(t, "page-3.md", uniquePageFilename("!!!", 3, seen))
}

func TestEmptyPageMarkdownLocalized(t *testing.T) {
	page := PagePlan{Title: "Kloakarbejde", Description: "Afløb og brønde."}

	danish := emptyPageMarkdown("danish", page)
	assert.Contains(t, danish, "# Kloakarbejde")
	assert.Contains(t, danish, "Afløb og brønde.")
	assert.Contains(t, danish, "Der blev ikke fundet relevant indhold")

	english := emptyPageMarkdown("english", page)
	assert.Contains(t, english, "No relevant content was found")
}
