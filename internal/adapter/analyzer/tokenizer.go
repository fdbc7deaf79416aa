package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer lowercases text, splits it on non-word runes and drops stopwords
// and single-rune terms.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a Tokenizer. keepStopwords disables stopword removal.
func NewTokenizer(keepStopwords bool) *Tokenizer {
	t := &Tokenizer{minLen: 2}
	if !keepStopwords {
		t.stopwords = defaultStopwords()
	}
	return t
}

// Tokenize splits text into normalized terms.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < t.minLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// splitWords splits text on anything that is not a letter, digit or underscore.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// defaultStopwords returns a set of common English stopwords.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
		"me", "my", "i", "about", "there", "then", "them", "these", "those",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
