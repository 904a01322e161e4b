// Package render projects a suggestion set onto a buffer snapshot as overlay
// instructions. It never touches the buffer; an editor turns the overlay into
// virtual text.
package render

import (
	"strings"

	"neopilot/types"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// InlineText is ghost text drawn inside an existing line at a byte column
type InlineText struct {
	Row  int
	Col  int
	Text string
}

// Block is a run of virtual lines drawn below Row
type Block struct {
	Row   int
	Lines []string
}

// Span marks rows [StartRow, EndRow] as about to be replaced
type Span struct {
	StartRow int
	EndRow   int
}

// Overlay is everything needed to draw one suggestion set
type Overlay struct {
	Inline   []InlineText
	Blocks   []Block
	Replaced []Span
}

// Empty reports whether there is nothing to draw
func (o *Overlay) Empty() bool {
	return o == nil || (len(o.Inline) == 0 && len(o.Blocks) == 0 && len(o.Replaced) == 0)
}

// Render computes the overlay for set against lines with the cursor at cursor
func Render(set *types.SuggestionSet, lines []string, cursor types.Position) *Overlay {
	o := &Overlay{}
	if set.Empty() {
		return o
	}
	for _, item := range set.Items {
		renderItem(o, item, lines, cursor)
	}
	return o
}

func renderItem(o *Overlay, item *types.SuggestionItem, lines []string, cursor types.Position) {
	content := item.Lines()
	existing, hasRow := row(lines, item.StartRow)

	if hasRow && len(content) == 1 && item.StartRow == item.EndRow && item.StartRow == cursor.Row {
		renderCursorLine(o, item.StartRow, existing, content[0])
		return
	}

	rest := content
	firstReplaced := item.StartRow
	if hasRow && strings.HasPrefix(content[0], existing) {
		if remainder := content[0][len(existing):]; remainder != "" {
			o.Inline = append(o.Inline, InlineText{Row: item.StartRow, Col: len(existing), Text: remainder})
		}
		rest = content[1:]
		firstReplaced++
	}

	o.Replaced = append(o.Replaced, changedSpans(rows(lines, firstReplaced, item.EndRow), rest, firstReplaced)...)
	if len(rest) > 0 {
		o.Blocks = append(o.Blocks, Block{Row: anchorRow(item.EndRow, len(lines)), Lines: rest})
	}
}

// renderCursorLine shows a one-line proposal for the line being typed on. Text the user
// already typed is never repeated: pure insertions are drawn inline where they go,
// anything that deletes characters is drawn as a full line below the highlighted row.
func renderCursorLine(o *Overlay, rowNum int, existing, proposed string) {
	if strings.HasPrefix(proposed, existing) {
		if remainder := proposed[len(existing):]; remainder != "" {
			o.Inline = append(o.Inline, InlineText{Row: rowNum, Col: len(existing), Text: remainder})
		}
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(existing, proposed, false))

	var inserts []InlineText
	col := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			col += len(d.Text)
		case diffmatchpatch.DiffInsert:
			inserts = append(inserts, InlineText{Row: rowNum, Col: col, Text: d.Text})
		case diffmatchpatch.DiffDelete:
			o.Replaced = append(o.Replaced, Span{StartRow: rowNum, EndRow: rowNum})
			o.Blocks = append(o.Blocks, Block{Row: rowNum, Lines: []string{proposed}})
			return
		}
	}
	o.Inline = append(o.Inline, inserts...)
}

// changedSpans aligns the replaced rows with their replacement lines and returns the
// runs of old rows that are actually rewritten or deleted. firstRow is the row of old[0].
func changedSpans(old, replacement []string, firstRow int) []Span {
	if len(old) == 0 {
		return nil
	}
	if len(replacement) == 0 {
		return []Span{{StartRow: firstRow, EndRow: firstRow + len(old) - 1}}
	}
	var spans []Span
	m := difflib.NewMatcher(old, replacement)
	for _, op := range m.GetOpCodes() {
		if op.Tag != 'r' && op.Tag != 'd' {
			continue
		}
		span := Span{StartRow: firstRow + op.I1, EndRow: firstRow + op.I2 - 1}
		if n := len(spans); n > 0 && spans[n-1].EndRow+1 == span.StartRow {
			spans[n-1].EndRow = span.EndRow
			continue
		}
		spans = append(spans, span)
	}
	return spans
}

func row(lines []string, r int) (string, bool) {
	if r < 1 || r > len(lines) {
		return "", false
	}
	return lines[r-1], true
}

// rows returns lines [from, to] (1-indexed, inclusive) clipped to the document
func rows(lines []string, from, to int) []string {
	from = max(from, 1)
	to = min(to, len(lines))
	if from > to {
		return nil
	}
	return lines[from-1 : to]
}

func anchorRow(r, numLines int) int {
	return max(min(r, numLines), 1)
}
