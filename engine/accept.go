package engine

import (
	"slices"
	"strings"

	"neopilot/apply"
	"neopilot/logger"
	"neopilot/parser"
	"neopilot/text"
	"neopilot/types"
)

// bufferHandle binds the editor to one buffer for the applier
type bufferHandle struct {
	editor Editor
	buf    int
}

func (h bufferHandle) ClearOverlay() error { return h.editor.ClearOverlay(h.buf) }

func (h bufferHandle) SetLines(start, end int, lines []string) error {
	return h.editor.SetLines(h.buf, start, end, lines)
}

func (h bufferHandle) SetCursor(row, col int) error { return h.editor.SetCursor(h.buf, row, col) }

func (h bufferHandle) StartInsert() error { return h.editor.StartInsert(h.buf) }

// accept applies the item nearest to the cursor. Remaining items are shifted and
// redrawn; when none are left the buffer goes back to Idle.
func (e *Engine) accept(bs *bufState) {
	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	item := bs.sugg.Nearest(snap.Cursor.Row)
	if item == nil {
		e.acceptFallback()
		return
	}

	opts := apply.Options{}
	for _, other := range bs.sugg.Current().Items {
		if other != item && other.StartRow > item.StartRow {
			opts.NextRow = other.StartRow + item.Delta()
			break
		}
	}

	res, err := apply.Accept(item, bufferHandle{editor: e.editor, buf: bs.id}, len(snap.Lines), snap.Cursor, opts)
	if err != nil {
		e.reportError(types.WrapError(types.KindProcessing, "accept", err))
		e.dismiss(bs)
		return
	}
	updated := apply.Lines(snap.Lines, item)
	bs.sugg.Remove(item)
	e.metrics.TrackAccepted("item", len(item.Lines()))
	logger.Debug("buffer %d: accepted item %s (delta %d)", bs.id, item.ID, res.Delta)

	e.afterEdit(bs, updated, res.Cursor)
}

// acceptWord inserts the next word of the item on the cursor line when that item
// extends the line. Anything else is a full accept.
func (e *Engine) acceptWord(bs *bufState) {
	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	row := snap.Cursor.Row
	item := bs.sugg.Nearest(row)
	if item == nil {
		e.acceptFallback()
		return
	}
	if item.StartRow != row || row < 1 || row > len(snap.Lines) {
		e.accept(bs)
		return
	}
	line := snap.Lines[row-1]
	first := item.Lines()[0]
	if !strings.HasPrefix(first, line) || len(first) == len(line) {
		e.accept(bs)
		return
	}

	word := text.NextWord(first[len(line):])
	updatedLine, err := apply.InsertText(bufferHandle{editor: e.editor, buf: bs.id}, row, line, len(line), word)
	if err != nil {
		e.reportError(types.WrapError(types.KindProcessing, "accept word", err))
		e.dismiss(bs)
		return
	}
	e.metrics.TrackAccepted("word", 0)

	updated := slices.Clone(snap.Lines)
	updated[row-1] = updatedLine
	if !parser.TrimItem(item, updated) {
		removeItem(bs, item)
	}
	e.afterEdit(bs, updated, types.Position{Row: row, Col: len(updatedLine)})
}

// afterEdit redraws what is left of the selected set against the edited document
func (e *Engine) afterEdit(bs *bufState, lines []string, cursor types.Position) {
	if bs.sugg.Current().Empty() {
		if err := e.editor.ClearOverlay(bs.id); err != nil {
			logger.Warn("clear overlay buffer %d: %v", bs.id, err)
		}
		bs.sugg.Reset()
		bs.shown = nil
		bs.state = stateIdle
		bs.trigger.Track(cursor)
		return
	}
	bs.sugg.Previous = lines
	if !e.draw(bs, lines, cursor) {
		e.dismiss(bs)
	}
}

// acceptFallback hands the accept key back to the editor when it doubles as the
// native completion key
func (e *Engine) acceptFallback() {
	key := e.config.AcceptKey
	if key == "" || key != e.config.NativeCompletionKey {
		return
	}
	if err := e.editor.FeedKeys(key); err != nil {
		logger.Warn("feed keys %q: %v", key, err)
	}
}

// handleTypingWhileReady keeps the suggestion on screen while the user types text it
// already contains, and dismisses it otherwise.
func (e *Engine) handleTypingWhileReady(bs *bufState) {
	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	set := bs.sugg.Current()
	prev := bs.sugg.Previous

	if !typedAlong(set, prev, snap.Lines) {
		logger.Debug("buffer %d: edit diverges from suggestion", bs.id)
		e.dismiss(bs)
		if insertMode(snap.Mode) {
			bs.trigger.OnEditSignal(snap.Cursor)
		}
		return
	}

	for _, item := range slices.Clone(set.Items) {
		if !parser.TrimItem(item, snap.Lines) {
			removeItem(bs, item)
		}
	}
	e.afterEdit(bs, snap.Lines, snap.Cursor)
}

// typedAlong reports whether every row that differs between prev and cur is a prefix
// of the suggested content for that row. Line insertions and deletions never qualify.
func typedAlong(set *types.SuggestionSet, prev, cur []string) bool {
	if set.Empty() || len(prev) != len(cur) {
		return false
	}
	for i := range cur {
		if cur[i] == prev[i] {
			continue
		}
		row := i + 1
		ok := false
		for _, item := range set.Items {
			if row < item.StartRow || row > item.EndRow {
				continue
			}
			content := item.Lines()
			idx := row - item.StartRow
			if idx < len(content) && strings.HasPrefix(content[idx], cur[i]) {
				ok = true
			}
			break
		}
		if !ok {
			return false
		}
	}
	return true
}

// removeItem drops an item whose content is already in the buffer. No rows move.
func removeItem(bs *bufState, item *types.SuggestionItem) {
	set := bs.sugg.Current()
	if set == nil {
		return
	}
	set.Items = slices.DeleteFunc(set.Items, func(it *types.SuggestionItem) bool { return it == item })
}
