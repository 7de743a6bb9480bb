package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches unicode letter/digit runs. Danish letters and
// drawing references like "K07-2" both survive as searchable tokens.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// TokenizeText splits document text into lowercase search tokens.
// Single-character tokens are dropped.
func TokenizeText(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if len([]rune(lower)) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap merges the built-in Danish and English stop word sets
// with any extras from configuration.
func BuildStopWordMap(extra []string) map[string]struct{} {
	m := make(map[string]struct{}, len(danishStopWords)+len(englishStopWords)+len(extra))
	for _, w := range danishStopWords {
		m[w] = struct{}{}
	}
	for _, w := range englishStopWords {
		m[w] = struct{}{}
	}
	for _, w := range extra {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// danishStopWords covers the high-frequency function words in Danish
// construction documents.
var danishStopWords = []string{
	"af", "alle", "anden", "at", "blev", "blive", "bliver", "da", "de",
	"dem", "den", "denne", "der", "deres", "det", "dette", "dig", "din",
	"dog", "du", "efter", "eller", "en", "end", "er", "et", "for", "fra",
	"ham", "han", "hans", "har", "havde", "have", "hende", "hendes", "her",
	"hos", "hun", "hvad", "hvis", "hvor", "ikke", "ind", "jeg", "jer",
	"jo", "kan", "kom", "kunne", "man", "mange", "med", "meget", "men",
	"mig", "min", "mine", "mit", "mod", "ned", "noget", "nogle", "nu",
	"når", "og", "også", "om", "op", "os", "over", "på", "selv", "sig",
	"sin", "sine", "sit", "skal", "skulle", "som", "sådan", "thi", "til",
	"ud", "under", "var", "ved", "vi", "vil", "ville", "vor", "være",
	"været",
}

var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if",
	"in", "into", "is", "it", "no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these", "they", "this",
	"to", "was", "will", "with",
}
