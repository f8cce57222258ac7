package matcher

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixTokens are dropped before comparing names so "Apple Inc." and
// "Apple" compare as the same entity.
var legalSuffixTokens = map[string]struct{}{
	"inc": {}, "incorporated": {}, "corp": {}, "corporation": {},
	"ltd": {}, "limited": {}, "plc": {}, "llc": {}, "lp": {}, "llp": {},
	"co": {}, "company": {}, "group": {}, "holdings": {},
	"gmbh": {}, "ag": {}, "sa": {}, "sas": {}, "spa": {}, "bv": {}, "nv": {},
	"pty": {}, "se": {}, "ab": {}, "oy": {}, "as": {}, "kk": {},
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, strips diacritics and punctuation, and drops
// legal-form suffix tokens, returning the comparable core of a company name.
func NormalizeName(name string) string {
	if flat, _, err := transform.String(deaccent, name); err == nil {
		name = flat
	}
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(b.String())
	kept := words
	// Suffix tokens only drop from the tail; "co" in "co operative" stays.
	for len(kept) > 1 {
		if _, ok := legalSuffixTokens[kept[len(kept)-1]]; !ok {
			break
		}
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, " ")
}

// NameSimilarity scores two company names in [0,1]. It takes the better of
// Jaccard word-set overlap and normalized Levenshtein similarity so both
// reordered words and small spelling drift score well.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	j := jaccard(na, nb)
	l := levenshtein.Similarity(na, nb, levenshtein.NewParams())
	if j > l {
		return j
	}
	return l
}

// jaccard computes word-set overlap between two normalized names.
func jaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
