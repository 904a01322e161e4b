// Package apply commits suggestion items into the real buffer. It is the only
// code path that changes document content.
package apply

import (
	"fmt"
	"strings"

	"neopilot/logger"
	"neopilot/types"
)

// Buffer is the slice of the editor the applier needs, bound to one buffer.
// Rows passed to SetLines are 0-indexed and end-exclusive, like nvim_buf_set_lines.
type Buffer interface {
	ClearOverlay() error
	SetLines(start, end int, lines []string) error
	SetCursor(row, col int) error
	StartInsert() error
}

// Options adjust cursor placement after an accept
type Options struct {
	// NextRow is the start row of the next remaining item after row shifting, or 0
	NextRow int
}

// Result describes what an accept did
type Result struct {
	Delta  int
	Cursor types.Position
}

// Accept writes item into buf. lineCount is the buffer's current number of lines and
// cursor the cursor position before the edit.
func Accept(item *types.SuggestionItem, buf Buffer, lineCount int, cursor types.Position, opts Options) (Result, error) {
	if item == nil {
		return Result{}, types.NewError(types.KindInvalidInput, "apply", "no item")
	}
	if err := buf.ClearOverlay(); err != nil {
		return Result{}, fmt.Errorf("clear overlay: %w", err)
	}

	newLines := item.Lines()
	start, end := span(item, lineCount)
	replaced := end - start

	if len(newLines) < replaced {
		// drop the surplus rows first so the replacement range is never negative
		if err := buf.SetLines(start+len(newLines), end, nil); err != nil {
			return Result{}, fmt.Errorf("delete rows %d-%d: %w", start+len(newLines)+1, end, err)
		}
		end = start + len(newLines)
	}
	if err := buf.SetLines(start, end, newLines); err != nil {
		return Result{}, fmt.Errorf("replace rows %d-%d: %w", start+1, end, err)
	}

	last := newLines[len(newLines)-1]
	pos := types.Position{Row: start + len(newLines), Col: len(last)}
	if opts.NextRow > 0 && item.StartRow > cursor.Row {
		pos = types.Position{Row: opts.NextRow, Col: 0}
	}
	if err := buf.SetCursor(pos.Row, pos.Col); err != nil {
		return Result{}, fmt.Errorf("set cursor: %w", err)
	}
	if err := buf.StartInsert(); err != nil {
		logger.Warn("apply: could not return to insert mode: %v", err)
	}

	logger.Debug("apply: rows %d-%d replaced by %d lines, cursor %d:%d", item.StartRow, item.EndRow, len(newLines), pos.Row, pos.Col)
	return Result{Delta: len(newLines) - replaced, Cursor: pos}, nil
}

// InsertText inserts text into row at col and leaves the cursor after it.
// line is the current content of row.
func InsertText(buf Buffer, row int, line string, col int, text string) (string, error) {
	col = min(max(col, 0), len(line))
	updated := line[:col] + text + line[col:]
	if err := buf.ClearOverlay(); err != nil {
		return "", fmt.Errorf("clear overlay: %w", err)
	}
	if err := buf.SetLines(row-1, row, []string{updated}); err != nil {
		return "", fmt.Errorf("insert text: %w", err)
	}
	if err := buf.SetCursor(row, col+len(text)); err != nil {
		return "", fmt.Errorf("set cursor: %w", err)
	}
	return updated, nil
}

// Lines returns the document that results from applying item to lines, without
// touching any editor
func Lines(lines []string, item *types.SuggestionItem) []string {
	start, end := span(item, len(lines))
	out := make([]string, 0, len(lines)-(end-start)+strings.Count(item.Content, "\n")+1)
	out = append(out, lines[:start]...)
	out = append(out, item.Lines()...)
	out = append(out, lines[end:]...)
	return out
}

// span converts the item's rows into a 0-indexed, end-exclusive range clipped to the
// document. Rows past the end turn into an append.
func span(item *types.SuggestionItem, lineCount int) (start, end int) {
	start = min(max(item.StartRow-1, 0), lineCount)
	end = min(max(item.EndRow, start), lineCount)
	return start, end
}
