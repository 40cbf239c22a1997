package textutil

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const minTokenRunes = 3

// Fingerprint is a weighted term vector for one text.
type Fingerprint struct {
	terms map[string]float64
	norm  float64
}

// NewFingerprint builds a term-frequency fingerprint. It returns nil when the
// text has no usable tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newWeighted(counts)
}

func newWeighted(terms map[string]float64) *Fingerprint {
	var sum float64
	for _, w := range terms {
		sum += w * w
	}
	if sum == 0 {
		return nil
	}
	return &Fingerprint{terms: terms, norm: math.Sqrt(sum)}
}

// Tokenize folds text to lowercase without diacritics and splits it on
// anything that is not a letter or digit.
func Tokenize(text string) []string {
	folded := fold(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) < minTokenRunes {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// Terms reports the number of distinct terms.
func (f *Fingerprint) Terms() int {
	if f == nil {
		return 0
	}
	return len(f.terms)
}

// weighted returns a copy with each term scaled by idf. Terms missing from
// idf keep their weight; terms weighted to zero are dropped.
func (f *Fingerprint) weighted(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	terms := make(map[string]float64, len(f.terms))
	for term, count := range f.terms {
		w := count
		if scale, ok := idf[term]; ok {
			w *= scale
		}
		if w != 0 {
			terms[term] = w
		}
	}
	return newWeighted(terms)
}

// Similarity is the cosine of the angle between two fingerprints, in [0, 1].
func Similarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil {
		return 0
	}
	if len(b.terms) < len(a.terms) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a.terms {
		dot += w * b.terms[term]
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}
