package reply

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestSplitChunk(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantChunk string
		limit     int
	}{
		{
			name:      "fits",
			in:        "short",
			limit:     10,
			wantChunk: "short",
		},
		{
			name:      "paragraph break preferred",
			in:        "aaaa bbbb\n\ncc\ndd eeeeeeee",
			limit:     18,
			wantChunk: "aaaa bbbb\n\n",
		},
		{
			name:      "newline before space",
			in:        "aaaa bbb\ncc dd eeeeeeeee",
			limit:     14,
			wantChunk: "aaaa bbb\n",
		},
		{
			name:      "space",
			in:        "aaaaaa bbbbbbbbbb",
			limit:     10,
			wantChunk: "aaaaaa ",
		},
		{
			name:      "break in first half ignored",
			in:        "a bbbbbbbbbbbbbbbbbb",
			limit:     10,
			wantChunk: "a bbbbbbbb",
		},
		{
			name:      "hard cut on rune boundary",
			in:        "ééééééééééééé",
			limit:     5,
			wantChunk: "ééééé",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, rest := splitChunk(tt.in, tt.limit)
			assert.Equal(t, tt.wantChunk, chunk)
			assert.Equal(t, tt.in, chunk+rest)
		})
	}
}

func TestSplitChunkProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("chunks are non-empty, bounded and lossless", prop.ForAll(
		func(s string, limit int) bool {
			var rebuilt strings.Builder
			for rest := s; rest != ""; {
				var chunk string
				chunk, rest = splitChunk(rest, limit)
				if chunk == "" || utf8.RuneCountInString(chunk) > limit {
					return false
				}
				rebuilt.WriteString(chunk)
			}
			return rebuilt.String() == s
		},
		gen.AnyString(),
		gen.IntRange(2, 40),
	))

	properties.TestingRun(t)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 3))
	assert.Equal(t, "ab…", clip("abcd", 3))
	assert.Equal(t, "çé…", clip("çéàü", 3))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, fingerprint("tool (done)"), fingerprint("tool (done)"))
	assert.NotEqual(t, fingerprint("tool (done)"), fingerprint("tool (failed)"))
}
