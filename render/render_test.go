package render

import (
	"testing"

	"neopilot/types"

	"github.com/stretchr/testify/assert"
)

func setOf(items ...*types.SuggestionItem) *types.SuggestionSet {
	return &types.SuggestionSet{Items: items}
}

func TestRenderEmptySet(t *testing.T) {
	o := Render(nil, []string{"a"}, types.Position{Row: 1})
	assert.True(t, o.Empty())
}

func TestCursorLineTypedPrefixShowsRemainderOnly(t *testing.T) {
	lines := []string{"func add(a, b int) int {", "\treturn a"}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 2, Content: "\treturn a + b"}

	o := Render(setOf(item), lines, types.Position{Row: 2, Col: 9})

	assert.Equal(t, []InlineText{{Row: 2, Col: 9, Text: " + b"}}, o.Inline)
	assert.Empty(t, o.Blocks)
	assert.Empty(t, o.Replaced)
}

func TestCursorLineInsertOnlyDiffRendersInline(t *testing.T) {
	lines := []string{"fmt.Println()"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 1, Content: `fmt.Println("hi")`}

	o := Render(setOf(item), lines, types.Position{Row: 1, Col: 12})

	assert.Equal(t, []InlineText{{Row: 1, Col: 12, Text: `"hi"`}}, o.Inline)
	assert.Empty(t, o.Blocks)
}

func TestCursorLineWithDeletionRendersBlock(t *testing.T) {
	lines := []string{"x = 0"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 1, Content: "y = 1"}

	o := Render(setOf(item), lines, types.Position{Row: 1, Col: 5})

	assert.Empty(t, o.Inline)
	assert.Equal(t, []Span{{StartRow: 1, EndRow: 1}}, o.Replaced)
	assert.Equal(t, []Block{{Row: 1, Lines: []string{"y = 1"}}}, o.Blocks)
}

func TestMultiLineExtendingAnchorRow(t *testing.T) {
	lines := []string{"def fib(n):", "    pass"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 2, Content: "def fib(n):  # recursive\n    if n < 2:\n        return n"}

	o := Render(setOf(item), lines, types.Position{Row: 1, Col: 11})

	assert.Equal(t, []InlineText{{Row: 1, Col: 11, Text: "  # recursive"}}, o.Inline)
	assert.Equal(t, []Span{{StartRow: 2, EndRow: 2}}, o.Replaced)
	assert.Equal(t, []Block{{Row: 2, Lines: []string{"    if n < 2:", "        return n"}}}, o.Blocks)
}

func TestMultiLineHighlightsOnlyChangedRows(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 4, Content: "A\nb\nc\nD"}

	o := Render(setOf(item), lines, types.Position{Row: 3})

	assert.Equal(t, []Span{{StartRow: 1, EndRow: 1}, {StartRow: 4, EndRow: 4}}, o.Replaced)
	assert.Equal(t, []Block{{Row: 4, Lines: []string{"A", "b", "c", "D"}}}, o.Blocks)
}

func TestDeletionOnlyRowsAreHighlighted(t *testing.T) {
	lines := []string{"keep", "drop1", "drop2"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 3, Content: "keep!"}

	o := Render(setOf(item), lines, types.Position{Row: 5})

	assert.Equal(t, []InlineText{{Row: 1, Col: 4, Text: "!"}}, o.Inline)
	assert.Equal(t, []Span{{StartRow: 2, EndRow: 3}}, o.Replaced)
	assert.Empty(t, o.Blocks)
}

func TestItemPastEndOfBuffer(t *testing.T) {
	lines := []string{"last line"}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 2, Content: "appended"}

	o := Render(setOf(item), lines, types.Position{Row: 1})

	assert.Empty(t, o.Replaced)
	assert.Equal(t, []Block{{Row: 1, Lines: []string{"appended"}}}, o.Blocks)
}

func TestRenderDoesNotMutateLines(t *testing.T) {
	lines := []string{"a", "b"}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 2, Content: "x\ny"}

	Render(setOf(item), lines, types.Position{Row: 1})
	assert.Equal(t, []string{"a", "b"}, lines)
}
