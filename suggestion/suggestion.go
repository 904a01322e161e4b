// Package suggestion holds per-buffer suggestion sets and the row bookkeeping
// that keeps them valid while items are applied one at a time.
package suggestion

import (
	"slices"

	"neopilot/types"
)

// Context is the suggestion state of one buffer
type Context struct {
	BufferID int
	Sets     []*types.SuggestionSet
	Index    int      // selected set, 0-based
	Previous []string // document snapshot the sets were computed against
}

// SetSets replaces the candidate sets and selects the first one
func (c *Context) SetSets(sets []*types.SuggestionSet, snapshot []string) {
	c.Sets = sets
	c.Index = 0
	c.Previous = snapshot
}

// Reset discards all sets
func (c *Context) Reset() {
	c.Sets = nil
	c.Index = 0
	c.Previous = nil
}

// Current returns the selected set, or nil when there are none
func (c *Context) Current() *types.SuggestionSet {
	if len(c.Sets) == 0 {
		return nil
	}
	return c.Sets[c.Index]
}

// Next selects the following set, wrapping around
func (c *Context) Next() {
	if len(c.Sets) == 0 {
		return
	}
	c.Index = (c.Index + 1) % len(c.Sets)
}

// Prev selects the preceding set, wrapping around
func (c *Context) Prev() {
	if len(c.Sets) == 0 {
		return
	}
	c.Index = (c.Index - 1 + len(c.Sets)) % len(c.Sets)
}

// Nearest returns the item of the selected set the cursor row belongs to: the item whose
// original range contains row, else the one with the smallest row distance.
func (c *Context) Nearest(row int) *types.SuggestionItem {
	set := c.Current()
	if set.Empty() {
		return nil
	}
	var best *types.SuggestionItem
	bestDist := -1
	for _, item := range set.Items {
		d := distance(item, row)
		if d == 0 {
			return item
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = item, d
		}
	}
	return best
}

func distance(item *types.SuggestionItem, row int) int {
	switch {
	case row < item.OriginalStartRow:
		return item.OriginalStartRow - row
	case row > item.EndRow:
		return row - item.EndRow
	default:
		return 0
	}
}

// Remove takes item out of the selected set and shifts every later item by the net
// line delta of applying it. Other sets were computed against the pre-edit document
// and are dropped. It returns the delta.
func (c *Context) Remove(item *types.SuggestionItem) int {
	set := c.Current()
	if set == nil {
		return 0
	}
	i := slices.Index(set.Items, item)
	if i < 0 {
		return 0
	}
	delta := item.Delta()
	set.Items = slices.Delete(set.Items, i, i+1)
	for _, other := range set.Items {
		if other.StartRow > item.StartRow {
			other.Shift(delta)
		}
	}

	c.Sets = []*types.SuggestionSet{set}
	c.Index = 0
	return delta
}

// Registry maps buffer ids to their contexts. It is owned by one engine and only
// touched from its event loop.
type Registry struct {
	contexts map[int]*Context
}

func NewRegistry() *Registry {
	return &Registry{contexts: make(map[int]*Context)}
}

// Get returns the buffer's context or nil
func (r *Registry) Get(buf int) *Context {
	return r.contexts[buf]
}

// Ensure returns the buffer's context, creating it on first use
func (r *Registry) Ensure(buf int) *Context {
	ctx, ok := r.contexts[buf]
	if !ok {
		ctx = &Context{BufferID: buf}
		r.contexts[buf] = ctx
	}
	return ctx
}

// Delete forgets the buffer
func (r *Registry) Delete(buf int) {
	delete(r.contexts, buf)
}

// Len returns the number of tracked buffers
func (r *Registry) Len() int {
	return len(r.contexts)
}
