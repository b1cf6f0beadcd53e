package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Comment text and catalog codes go through the same normalization so that
// "sku-101", "SKU101!" and "ＳＫＵ-101" all meet on the same token.

// Tokenize folds case, applies NFKC and strips punctuation and symbols from
// every whitespace separated token. Empty tokens are dropped.
func Tokenize(text string) []string {
	// cases.Caser is stateful, so one per call.
	folded := cases.Fold().String(norm.NFKC.String(text))
	fields := strings.Fields(folded)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				return -1
			}
			return r
		}, f)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Normalize returns the normalized form of a comment text.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// Key is the lookup key of a catalog code. Codes are single tokens, so any
// inner whitespace is squeezed out as well.
func Key(code string) string {
	return strings.Join(Tokenize(code), "")
}
