package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	tests := []struct {
		name                  string
		size, overlap         int
		wantSize, wantOverlap int
	}{
		{"defaults", 0, 0, DefaultSize, 0},
		{"negative overlap", 100, -5, 100, 0},
		{"overlap equal to size", 100, 100, 100, 99},
		{"overlap above size", 10, 50, 10, 9},
		{"valid", 1000, 200, 1000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, overlap := Params(tt.size, tt.overlap)
			assert.Equal(t, tt.wantSize, size)
			assert.Equal(t, tt.wantOverlap, overlap)
		})
	}
}

func TestSplitRoundTripNoOverlap(t *testing.T) {
	texts := []string{
		"a",
		strings.Repeat("lorem ipsum dolor sit amet ", 200),
		"Ünïcödé téxt with 日本語 and emoji 🚀 " + strings.Repeat("x", 37),
		"  leading and trailing whitespace survive  \n\n",
	}
	for _, text := range texts {
		for _, size := range []int{1, 7, 100, 1000} {
			windows := Split(text, size, 0)
			var b strings.Builder
			for i, w := range windows {
				assert.Equal(t, i, w.Ordinal)
				b.WriteString(w.Text)
			}
			assert.Equal(t, text, b.String(), "size=%d", size)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	text := "abcdefghij"
	windows := Split(text, 4, 2)
	require.Len(t, windows, 4)
	assert.Equal(t, "abcd", windows[0].Text)
	assert.Equal(t, "cdef", windows[1].Text)
	assert.Equal(t, "efgh", windows[2].Text)
	assert.Equal(t, "ghij", windows[3].Text)
	assert.Equal(t, 2, windows[1].Offset)

	assert.Equal(t, text, Join(windows, 2))
}

func TestSplitWindowsRespectSize(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 300)
	for _, w := range Split(text, DefaultSize, DefaultOverlap) {
		assert.LessOrEqual(t, len([]rune(w.Text)), DefaultSize)
	}
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split("", 10, 2))
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("deterministic ", 150)
	assert.Equal(t, Split(text, 300, 50), Split(text, 300, 50))
}

func TestSplitPages(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: strings.Repeat("a", 15)},
		{Number: 2, Text: "   "},
		{Number: 3, Text: "bbbbb"},
	}
	windows := SplitPages(pages, 10, 0)
	require.Len(t, windows, 3)

	assert.Equal(t, 0, windows[0].Ordinal)
	assert.Equal(t, 1, windows[0].Page)
	assert.Equal(t, 0, windows[0].Offset)

	assert.Equal(t, 1, windows[1].Ordinal)
	assert.Equal(t, 1, windows[1].Page)
	assert.Equal(t, 10, windows[1].Offset)

	assert.Equal(t, 2, windows[2].Ordinal)
	assert.Equal(t, 3, windows[2].Page)
	assert.Equal(t, "bbbbb", windows[2].Text)
}
