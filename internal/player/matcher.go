package player

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// shortUtteranceWords bounds the utterances that are fuzzy matched. Longer
// transcripts only match on an exact substring.
const shortUtteranceWords = 3

// Matcher decides whether a transcript is an interrupt command.
type Matcher struct {
	words      []string
	similarity float64
}

func NewMatcher(words []string, similarity float64) *Matcher {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if n := normalize(w); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Matcher{words: normalized, similarity: similarity}
}

// Match returns the interrupt word found in text.
func (m *Matcher) Match(text string) (string, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, w := range m.words {
		if strings.Contains(norm, w) {
			return w, true
		}
	}
	tokens := strings.Fields(norm)
	if len(tokens) > shortUtteranceWords {
		return "", false
	}
	for _, w := range m.words {
		if Similarity(norm, w) >= m.similarity {
			return w, true
		}
		for _, tok := range tokens {
			if Similarity(tok, w) >= m.similarity {
				return w, true
			}
		}
	}
	return "", false
}

// Similarity is 1 minus the edit distance normalized by the longer string.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
