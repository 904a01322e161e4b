package buffer

import (
	"testing"

	"neopilot/render"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtmarksEmptyOverlay(t *testing.T) {
	assert.Nil(t, Extmarks(nil))
	assert.Nil(t, Extmarks(&render.Overlay{}))
}

func TestExtmarksInlineText(t *testing.T) {
	marks := Extmarks(&render.Overlay{
		Inline: []render.InlineText{{Row: 3, Col: 7, Text: "ln(x)"}},
	})

	require.Len(t, marks, 1)
	assert.Equal(t, 2, marks[0].Line, "rows become 0-indexed lines")
	assert.Equal(t, 7, marks[0].Col)
	assert.Equal(t, "inline", marks[0].Opts["virt_text_pos"])
	assert.Equal(t, [][]any{{"ln(x)", HLSuggestion}}, marks[0].Opts["virt_text"])
}

func TestExtmarksBlockBelowAnchor(t *testing.T) {
	marks := Extmarks(&render.Overlay{
		Blocks: []render.Block{{Row: 1, Lines: []string{"a", "b"}}},
	})

	require.Len(t, marks, 1)
	assert.Equal(t, 0, marks[0].Line)
	assert.Equal(t, [][][]any{
		{{"a", HLSuggestion}},
		{{"b", HLSuggestion}},
	}, marks[0].Opts["virt_lines"])
}

func TestExtmarksHighlightEveryReplacedRow(t *testing.T) {
	marks := Extmarks(&render.Overlay{
		Replaced: []render.Span{{StartRow: 2, EndRow: 4}},
		Blocks:   []render.Block{{Row: 4, Lines: []string{"new"}}},
	})

	require.Len(t, marks, 4)
	for i, line := range []int{1, 2, 3} {
		assert.Equal(t, line, marks[i].Line)
		assert.Equal(t, HLReplaced, marks[i].Opts["line_hl_group"])
	}
	assert.Equal(t, 3, marks[3].Line)
	assert.Contains(t, marks[3].Opts, "virt_lines")
}

func TestClientRequired(t *testing.T) {
	b := New(Config{NsID: 1})

	_, err := b.Snapshot(1)
	assert.Error(t, err)
	assert.Error(t, b.SetLines(1, 0, 1, []string{"x"}))
	assert.Error(t, b.FeedKeys("<Tab>"))
	assert.NoError(t, b.RegisterEventHandler(func(string, int) {}), "handlers are kept until a client attaches")
	assert.Contains(t, b.handlers, MethodEvent)
}
