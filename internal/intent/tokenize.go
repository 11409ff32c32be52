package intent

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
)

// hanRunRe matches contiguous runs of Han characters. Spaceless scripts are
// kept whole for core-keyword purposes; only the fallback matcher may split
// them further.
var hanRunRe = regexp.MustCompile(`\p{Han}+`)

// tokenize splits a query into word tokens. Han runs are emitted as single
// tokens; everything else goes through Unicode word segmentation. Original
// casing is preserved.
func tokenize(s string) []string {
	var tokens []string

	// Lift out Han runs first so they survive as whole keywords.
	rest := hanRunRe.ReplaceAllStringFunc(s, func(run string) string {
		tokens = append(tokens, run)
		return " "
	})

	seg := words.FromString(rest)
	for seg.Next() {
		tok := strings.TrimSpace(seg.Value())
		if tok == "" {
			continue
		}
		if !hasWordRune(tok) {
			continue
		}
		tokens = append(tokens, strings.Trim(tok, "?!.,;:\"'()[]{}"))
	}

	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Bigrams returns the overlapping two-character bigrams of a Han run, used
// only for fallback substring matching, never as core keywords.
func Bigrams(run string) []string {
	rs := []rune(run)
	if len(rs) <= 2 {
		return []string{string(rs)}
	}
	out := make([]string, 0, len(rs)-1)
	for i := 0; i+1 < len(rs); i++ {
		out = append(out, string(rs[i:i+2]))
	}
	return out
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
