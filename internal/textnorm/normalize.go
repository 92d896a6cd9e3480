// Package textnorm canonicalizes free-text material descriptions so the
// similarity scorer compares like with like. All functions are pure.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalized is the canonical form of one material description.
type Normalized struct {
	Clean    string
	Tokens   []string
	Keywords map[string]struct{}
}

// punctClass is the fixed set of punctuation removed during cleaning. Both
// full-width and half-width forms are listed; width folding happens first,
// so most full-width forms collapse into their half-width entry anyway.
const punctClass = "，。、；：“”‘’（）()[]【】《》-_/\\,.;:\"'"

// stopwords are generic construction terms that carry no discriminating
// power between catalogue entries.
var stopwords = map[string]struct{}{
	"材料": {},
	"建筑": {},
	"工程": {},
	"普通": {},
	"国标": {},
	"标准": {},
	"专用": {},
	"优质": {},
}

var cleaner = transform.Chain(norm.NFKC, width.Fold)

// Normalize produces the canonical form of a material description:
// NFKC + width folding, lowercasing, punctuation removal, whitespace
// collapse, mixed-script tokenization, and keyword extraction.
func Normalize(s string) Normalized {
	clean := Clean(s)
	tokens := Tokenize(clean)
	return Normalized{
		Clean:    clean,
		Tokens:   tokens,
		Keywords: Keywords(tokens),
	}
}

// Clean applies steps 1-4: NFKC, width folding, lowercasing, punctuation
// removal and whitespace collapse.
func Clean(s string) string {
	folded, _, err := transform.String(cleaner, s)
	if err != nil {
		// Malformed UTF-8; fall back to the raw input.
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if strings.ContainsRune(punctClass, r) || unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize splits a cleaned string by the mixed-script rule: contiguous Han
// runs are segmented into bigrams, Latin/digit runs (including unit-shaped
// suffixes such as "12mm" or "c30") are kept whole.
func Tokenize(clean string) []string {
	var tokens []string
	var han, latin []rune

	flushHan := func() {
		if len(han) == 0 {
			return
		}
		if len(han) == 1 {
			tokens = append(tokens, string(han))
		}
		for i := 0; i+1 < len(han); i++ {
			tokens = append(tokens, string(han[i:i+2]))
		}
		han = han[:0]
	}
	flushLatin := func() {
		if len(latin) > 0 {
			tokens = append(tokens, string(latin))
			latin = latin[:0]
		}
	}

	for _, r := range clean {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin = append(latin, r)
		default:
			flushHan()
			flushLatin()
		}
	}
	flushHan()
	flushLatin()

	return tokens
}

// Keywords filters tokens down to the keyword set: length >= 2 runes,
// minus the stop list.
func Keywords(tokens []string) map[string]struct{} {
	kw := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if len([]rune(t)) < 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		kw[t] = struct{}{}
	}
	return kw
}
