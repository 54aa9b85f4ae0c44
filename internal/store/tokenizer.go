package store

import (
	"strings"
	"unicode"
)

// isHan reports whether r is a CJK ideograph.
func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// TokenizeText splits disclosure text into search terms.
// Latin letters and digits form lowercase words; runs of Han characters
// become overlapping bigrams, or a single rune for one-character runs.
// The same rules back the FTS5 index and the static embedder.
func TokenizeText(text string) []string {
	var tokens []string
	var word strings.Builder
	var han []rune

	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToLower(word.String()))
			word.Reset()
		}
	}
	flushHan := func() {
		switch len(han) {
		case 0:
		case 1:
			tokens = append(tokens, string(han))
		default:
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case isHan(r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()

	return tokens
}

// FilterStopWords removes stop words from a token list.
// Han bigrams are dropped when they consist only of stop characters.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; isStop {
			continue
		}
		if allStopRunes(token, stopWords) {
			continue
		}
		result = append(result, token)
	}
	return result
}

func allStopRunes(token string, stopWords map[string]struct{}) bool {
	n := 0
	for _, r := range token {
		if !isHan(r) {
			return false
		}
		if _, ok := stopWords[string(r)]; !ok {
			return false
		}
		n++
	}
	return n > 0
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
