package apply

import (
	"errors"
	"testing"

	"neopilot/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setLinesCall struct {
	start, end int
	lines      []string
}

// mockBuffer applies edits to an in-memory document and records the calls
type mockBuffer struct {
	lines       []string
	calls       []setLinesCall
	cursor      types.Position
	cleared     int
	insertMode  bool
	clearedLast bool // overlay cleared before the first edit
}

func (b *mockBuffer) ClearOverlay() error {
	b.cleared++
	if len(b.calls) == 0 {
		b.clearedLast = true
	}
	return nil
}

func (b *mockBuffer) SetLines(start, end int, lines []string) error {
	if start < 0 || end < start || end > len(b.lines) {
		return errors.New("index out of bounds")
	}
	b.calls = append(b.calls, setLinesCall{start, end, lines})
	out := append([]string{}, b.lines[:start]...)
	out = append(out, lines...)
	b.lines = append(out, b.lines[end:]...)
	return nil
}

func (b *mockBuffer) SetCursor(row, col int) error {
	b.cursor = types.Position{Row: row, Col: col}
	return nil
}

func (b *mockBuffer) StartInsert() error {
	b.insertMode = true
	return nil
}

func TestAcceptReplacesRange(t *testing.T) {
	buf := &mockBuffer{lines: []string{"a", "b", "c"}}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 2, Content: "B1\nB2\nB3"}

	res, err := Accept(item, buf, len(buf.lines), types.Position{Row: 2}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "B1", "B2", "B3", "c"}, buf.lines)
	assert.Equal(t, 2, res.Delta)
	assert.Equal(t, types.Position{Row: 4, Col: 2}, buf.cursor, "cursor at end of inserted text")
	assert.True(t, buf.insertMode)
	assert.True(t, buf.clearedLast, "overlay cleared before editing")
	assert.Len(t, buf.calls, 1)
}

func TestAcceptFewerLinesDeletesSurplusFirst(t *testing.T) {
	buf := &mockBuffer{lines: []string{"a", "b", "c", "d", "e"}}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 4, Content: "X"}

	res, err := Accept(item, buf, len(buf.lines), types.Position{Row: 2}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "X", "e"}, buf.lines)
	assert.Equal(t, -2, res.Delta)
	require.Len(t, buf.calls, 2)
	assert.Equal(t, setLinesCall{start: 2, end: 4, lines: nil}, buf.calls[0], "surplus rows deleted first")
	assert.Equal(t, setLinesCall{start: 1, end: 2, lines: []string{"X"}}, buf.calls[1])
}

func TestAcceptBelowCursorMovesToNextItem(t *testing.T) {
	buf := &mockBuffer{lines: []string{"a", "b", "c", "d", "e", "f"}}
	item := &types.SuggestionItem{StartRow: 3, EndRow: 3, Content: "C"}

	_, err := Accept(item, buf, len(buf.lines), types.Position{Row: 1}, Options{NextRow: 6})
	require.NoError(t, err)
	assert.Equal(t, types.Position{Row: 6, Col: 0}, buf.cursor)
}

func TestAcceptAtCursorIgnoresNextRow(t *testing.T) {
	buf := &mockBuffer{lines: []string{"a", "b"}}
	item := &types.SuggestionItem{StartRow: 1, EndRow: 1, Content: "abc"}

	_, err := Accept(item, buf, len(buf.lines), types.Position{Row: 1, Col: 1}, Options{NextRow: 2})
	require.NoError(t, err)
	assert.Equal(t, types.Position{Row: 1, Col: 3}, buf.cursor)
}

func TestAcceptPastEndAppends(t *testing.T) {
	buf := &mockBuffer{lines: []string{"a"}}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 2, Content: "b"}

	_, err := Accept(item, buf, len(buf.lines), types.Position{Row: 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, buf.lines)
}

func TestAcceptNilItem(t *testing.T) {
	_, err := Accept(nil, &mockBuffer{}, 0, types.Position{}, Options{})
	assert.True(t, errors.Is(err, types.ErrInvalidInput))
}

func TestLinesMatchesAccept(t *testing.T) {
	doc := []string{"a", "b", "c", "d"}
	item := &types.SuggestionItem{StartRow: 2, EndRow: 3, Content: "x\ny\nz"}

	buf := &mockBuffer{lines: append([]string{}, doc...)}
	_, err := Accept(item, buf, len(doc), types.Position{Row: 2}, Options{})
	require.NoError(t, err)

	assert.Equal(t, buf.lines, Lines(doc, item))
	assert.Equal(t, []string{"a", "b", "c", "d"}, doc, "input not modified")
}

func TestInsertText(t *testing.T) {
	buf := &mockBuffer{lines: []string{"foo", "ret"}}

	updated, err := InsertText(buf, 2, "ret", 3, "urn")
	require.NoError(t, err)

	assert.Equal(t, "return", updated)
	assert.Equal(t, []string{"foo", "return"}, buf.lines)
	assert.Equal(t, types.Position{Row: 2, Col: 6}, buf.cursor)
}
