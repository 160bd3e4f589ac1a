package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSubstantive(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "empty string", text: "", want: false},
		{name: "removed sentinel", text: "[removed]", want: false},
		{name: "deleted sentinel", text: "[deleted]", want: false},
		{name: "single word", text: "ok", want: false},
		{name: "two words", text: "not enough", want: false},
		{name: "four words", text: "still not quite enough", want: false},
		{name: "exactly five words", text: "this has exactly five words", want: true},
		{name: "six words", text: "this sentence has six whole words", want: true},
		{name: "extra whitespace between tokens", text: "  spaced   out   but   five   words  ", want: true},
		{name: "four tokens with newlines", text: "one\ntwo\nthree\nfour", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSubstantive(tt.text))
		})
	}
}
