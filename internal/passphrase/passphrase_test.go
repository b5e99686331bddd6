package passphrase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"irregular before generic", "I'm can't won't", "i am cannot will not"},
		{"generic suffixes", "They're here, it's fine, we'd go, you'll see, I've been, don't", "they are here it is fine we would go you will see i have been do not"},
		{"punctuation and case", "  Hello, Emora!  ", "hello emora"},
		{"digits kept", "Code 42.", "code 42"},
		{"typographic apostrophe", "I’m here", "i am here"},
		{"fullwidth folded", "Ｈｅｌｌｏ", "hello"},
		{"non ascii dropped", "café", "caf"},
		{"empty", "", ""},
		{"only punctuation", "?!...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"I'm can't won't",
		"  Hello,   World!! ",
		"She'd've said it's OK",
		"ÉTÉ 123 'm 's",
		"tab\tseparated\nlines",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), in)
	}
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("Hello", "hello"))
	assert.True(t, Match("Hello Emora", "hello, emora."))
	assert.False(t, Match("Hello", "goodbye"))
	assert.False(t, Match("Hello Emora", "hello emma"))
}
