// Package passphrase canonicalises spoken and enrolled phrases so they can be
// compared for exact equality.
package passphrase

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// contractions are applied in order: irregular forms first, then the generic
// suffix rules.
var contractions = []struct{ from, to string }{
	{"i'm", "i am"},
	{"can't", "cannot"},
	{"won't", "will not"},
	{"n't", " not"},
	{"'re", " are"},
	{"'s", " is"},
	{"'d", " would"},
	{"'ll", " will"},
	{"'ve", " have"},
	{"'m", " am"},
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Normalize lower-cases text, expands English contractions, drops everything
// except ASCII letters, digits and spaces, and trims the result.
func Normalize(text string) string {
	s := apostrophes.Replace(norm.NFKC.String(text))
	s = strings.ToLower(s)
	for _, c := range contractions {
		s = strings.ReplaceAll(s, c.from, c.to)
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Match reports whether spoken is the expected phrase after normalisation.
func Match(expected, spoken string) bool {
	return Normalize(expected) == Normalize(spoken)
}
