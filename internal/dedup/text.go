package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are dropped before shingling and before TF-IDF weighting.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"come": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "so": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"us": {}, "we": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

type runeClass int

const (
	classSeparator runeClass = iota
	classLetter
	classDigit
)

func classify(r rune) runeClass {
	switch {
	case unicode.IsDigit(r):
		return classDigit
	case unicode.IsLetter(r):
		return classLetter
	}
	return classSeparator
}

// Tokenize lowercases, folds accents, strips punctuation and splits on whitespace and on
// letter/digit boundaries, so "4pm-7pm" and "4-7 pm" yield the same tokens. Stopwords are removed.
func Tokenize(text string) []string {
	folded := removeAccents(strings.ToLower(text))

	var tokens []string
	var cur strings.Builder
	prev := classSeparator
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if _, stop := stopwords[tok]; !stop {
			tokens = append(tokens, tok)
		}
	}

	for _, r := range folded {
		class := classify(r)
		if class != prev {
			flush()
		}
		if class != classSeparator {
			cur.WriteRune(r)
		}
		prev = class
	}
	flush()
	return tokens
}

// Shingles returns the set of size-k character substrings taken within each token.
// Tokens shorter than k contribute themselves.
func Shingles(text string, k int) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	set := make(map[string]struct{})
	for _, tok := range tokens {
		rs := []rune(tok)
		if len(rs) < k {
			set[tok] = struct{}{}
			continue
		}
		for i := 0; i <= len(rs)-k; i++ {
			set[string(rs[i:i+k])] = struct{}{}
		}
	}
	return set
}
