// Package tokenindex tokenizes entity names and keeps the reverse index
// used by candidate discovery.
//
// Tokens are split on any character that is not a letter or digit. A period
// flanked by alphanumerics on both sides is kept inside the token, so
// "J.C.E." survives as a single token. Normalization lowercases, folds
// diacritics and strips periods ("J.C.E." -> "jce").
package tokenindex

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits a name into its original-cased tokens.
// A token that kept internal periods gets the trailing period back when
// the name had one right after it ("EE.UU." -> "EE.UU.").
func Tokenize(name string) []string {
	rs := []rune(name)
	out := make([]string, 0, 4)
	cur := make([]rune, 0, len(rs))
	internal := false

	flush := func(next int) {
		if len(cur) == 0 {
			return
		}
		tok := string(cur)
		if internal && next < len(rs) && rs[next] == '.' {
			tok += "."
		}
		out = append(out, tok)
		cur = cur[:0]
		internal = false
	}

	for i, r := range rs {
		if isAlnum(r) {
			cur = append(cur, r)
			continue
		}
		if r == '.' && i > 0 && i+1 < len(rs) && isAlnum(rs[i-1]) && isAlnum(rs[i+1]) {
			cur = append(cur, r)
			internal = true
			continue
		}
		flush(i)
	}
	flush(len(rs))

	return out
}

// Normalize lowercases, strips diacritics and removes periods.
func Normalize(token string) string {
	// Transformers are stateful; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, token)
	if err != nil {
		folded = token
	}
	return strings.ReplaceAll(strings.ToLower(folded), ".", "")
}

// NormalizeName normalizes a whole name, collapsing separators to single
// spaces. Used for shingling and text scanning.
func NormalizeName(name string) string {
	toks := Tokenize(name)
	parts := make([]string, 0, len(toks))
	for _, tok := range toks {
		if n := Normalize(tok); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

// isAllUpper reports whether every letter of s is uppercase. Strings without
// letters are not considered uppercase.
func isAllUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return letters > 0
}

func stripPeriods(s string) string {
	return strings.ReplaceAll(s, ".", "")
}
