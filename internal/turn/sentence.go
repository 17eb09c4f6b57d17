package turn

import (
	"strings"
	"unicode"
)

// Splitter accumulates streamed tokens and cuts complete sentences at
// terminal punctuation. A mark ends a sentence when it closes the buffer or
// is followed by whitespace.
type Splitter struct {
	buf strings.Builder
}

func isTerminal(r byte) bool {
	switch r {
	case '.', '!', '?', ':':
		return true
	}
	return false
}

func isSpace(r byte) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// Push appends a token and returns any sentences it completed, in order.
func (s *Splitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buf.WriteString(token)
	text := s.buf.String()

	var (
		out   []string
		start int
	)
	for i := 0; i < len(text); i++ {
		if !isTerminal(text[i]) {
			continue
		}
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(text[start : i+1]); hasWords(sentence) {
			out = append(out, sentence)
		}
		start = i + 1
	}
	if start > 0 {
		rest := text[start:]
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
	return out
}

// Flush returns the unterminated remainder and clears the buffer.
func (s *Splitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if !hasWords(rest) {
		return ""
	}
	return rest
}

// hasWords reports whether text has anything to say aloud.
func hasWords(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}
