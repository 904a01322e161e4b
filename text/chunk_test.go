package text

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"neopilot/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDoc(n int) []string {
	doc := make([]string, n)
	for i := range doc {
		doc[i] = fmt.Sprintf("line %d", i+1)
	}
	return doc
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name       string
		numLines   int
		cursor     int
		maxLines   int
		start, end int
	}{
		{"small document fits", 10, 5, 200, 1, 10},
		{"centered", 1000, 500, 200, 400, 599},
		{"clamped at top", 1000, 3, 100, 1, 100},
		{"clamped at bottom", 1000, 1000, 100, 901, 1000},
		{"cursor past end", 50, 80, 10, 41, 50},
		{"single line", 1, 1, 10, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Chunker{MaxContextLines: tt.maxLines}
			start, end := c.Window(tt.numLines, tt.cursor)
			assert.Equal(t, tt.start, start, "start")
			assert.Equal(t, tt.end, end, "end")
		})
	}
}

func TestChunksSplitsWindow(t *testing.T) {
	c := Chunker{MaxContextLines: 10, ChunkSize: 4}
	chunks, err := c.Chunks(makeDoc(100), 50)
	require.NoError(t, err)

	var got []string
	for chunk := range chunks {
		got = append(got, chunk)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "line 45\nline 46\nline 47\nline 48", got[0])
	assert.Equal(t, "line 53\nline 54", got[2])
}

func TestChunksRecomputedPerRange(t *testing.T) {
	c := Chunker{MaxContextLines: 6, ChunkSize: 3}
	chunks, err := c.Chunks(makeDoc(6), 1)
	require.NoError(t, err)

	count := func() int {
		n := 0
		for range chunks {
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())
}

func TestChunksStopEarly(t *testing.T) {
	c := Chunker{MaxContextLines: 100, ChunkSize: 1}
	chunks, err := c.Chunks(makeDoc(100), 1)
	require.NoError(t, err)

	seen := 0
	for range chunks {
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}

func TestBuildJoinsWithBlankLine(t *testing.T) {
	c := Chunker{MaxContextLines: 4, ChunkSize: 2, LineFormat: NumberedLine}
	out, err := c.Build([]string{"a", "b", "c", "d"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "1: a\n2: b\n\n3: c\n4: d", out)
}

func TestEmptyDocumentIsInvalidInput(t *testing.T) {
	_, err := Chunker{}.Build(nil, 1)
	assert.True(t, errors.Is(err, types.ErrInvalidInput))
}

func TestCursorOutsideDocumentIsProcessingError(t *testing.T) {
	_, err := Chunker{}.Build([]string{"a"}, 5)
	assert.True(t, errors.Is(err, types.ErrProcessing))
}

func TestNonPositiveLimitsUseDefaults(t *testing.T) {
	c := Chunker{MaxContextLines: -1, ChunkSize: 0}
	out, err := c.Build(makeDoc(500), 250)
	require.NoError(t, err)

	chunks := strings.Split(out, "\n\n")
	assert.Len(t, chunks, DefaultMaxContextLines/DefaultChunkSize)
	assert.Equal(t, DefaultMaxContextLines, strings.Count(out, "line "))
}

func TestNextWord(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello world", "hello"},
		{" world()", " world"},
		{"(x)", "("},
		{"single", "single"},
		{"   ", "   "},
		{"", ""},
		{"foo.bar", "foo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextWord(tt.in), "NextWord(%q)", tt.in)
	}
}
