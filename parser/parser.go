// Package parser turns raw model output into validated suggestion sets.
//
// Models wrap their answer in reasoning tags, markdown fences and prose, and
// repeat lines that already exist in the buffer. Parse strips the wrapping with
// targeted trimming, decodes the JSON array, drops invalid items and elides
// repeated lines so only the real edit remains.
package parser

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"neopilot/logger"
	"neopilot/types"

	"github.com/google/uuid"
)

var (
	reasoningTags = regexp.MustCompile(`(?s)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning)>`)
	fenceLine     = regexp.MustCompile("(?m)^\\s*```[\\w-]*\\s*$")
	lineNumber    = regexp.MustCompile(`^L?\d+:\s?`)
)

// Parse decodes raw into suggestion sets, trimming items against lines (the current
// buffer). An empty decoded array yields no sets and no error.
func Parse(raw string, lines []string) ([]*types.SuggestionSet, error) {
	defer logger.Trace("parser.Parse")()

	decoded, body, err := decodeArray(strip(raw))
	if err != nil {
		if body == "" {
			body = raw
		}
		return nil, &types.Error{Kind: types.KindResponseDecode, Op: "parse", Text: body, Err: err}
	}
	if len(decoded) == 0 {
		logger.Info("parser: no suggestions")
		return nil, nil
	}

	// one set written as a flat array of items
	if _, ok := decoded[0].(map[string]any); ok {
		decoded = []any{decoded}
	}

	var sets []*types.SuggestionSet
	for i, rawSet := range decoded {
		rawItems, ok := rawSet.([]any)
		if !ok {
			logger.Debug("parser: set %d is %T, not an array; skipping", i, rawSet)
			continue
		}
		set := buildSet(i, rawItems, lines)
		if set.Empty() {
			logger.Debug("parser: set %d has no usable items", i)
			continue
		}
		sets = append(sets, set)
	}
	return sets, nil
}

var errNoArray = errors.New("no JSON array found in response")

// maxArrayStarts bounds how many '[' positions are tried when prose around the
// array contains brackets
const maxArrayStarts = 8

// strip removes reasoning blocks, code fences and a <suggestions> wrapper
func strip(raw string) string {
	s := reasoningTags.ReplaceAllString(raw, "")
	// an unterminated reasoning block swallows everything before its close tag
	for _, tag := range []string{"</think>", "</thinking>", "</reasoning>"} {
		if i := strings.LastIndex(s, tag); i >= 0 {
			s = s[i+len(tag):]
		}
	}
	s = fenceLine.ReplaceAllString(s, "")
	if start := strings.Index(s, "<suggestions>"); start >= 0 {
		s = s[start+len("<suggestions>"):]
		if end := strings.LastIndex(s, "</suggestions>"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// decodeArray decodes the first JSON array that looks like suggestions: empty, or
// holding sets or items. Each '[' is decoded up to the end of its own value, so
// brackets in prose before or after the array are skipped.
func decodeArray(s string) ([]any, string, error) {
	first := strings.Index(s, "[")
	if first < 0 {
		return nil, "", errNoArray
	}

	var firstErr error
	start := first
	for attempt := 0; attempt < maxArrayStarts && start >= 0; attempt++ {
		var decoded []any
		dec := json.NewDecoder(strings.NewReader(s[start:]))
		err := dec.Decode(&decoded)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case suggestionShaped(decoded):
			return decoded, s[start : start+int(dec.InputOffset())], nil
		default:
			logger.Debug("parser: skipping array of %T at offset %d", decoded[0], start)
			if firstErr == nil {
				firstErr = errNoArray
			}
		}
		next := strings.Index(s[start+1:], "[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, s[first:], firstErr
}

func suggestionShaped(decoded []any) bool {
	if len(decoded) == 0 {
		return true
	}
	switch decoded[0].(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

func buildSet(setIdx int, rawItems []any, lines []string) *types.SuggestionSet {
	set := &types.SuggestionSet{}
	for j, rawItem := range rawItems {
		item, reason := decodeItem(rawItem)
		if item == nil {
			logger.Debug("parser: dropping item %d of set %d: %s", j, setIdx, reason)
			continue
		}
		item.Content = stripLineNumbers(item.Content)
		if !TrimItem(item, lines) {
			logger.Debug("parser: dropping item %d of set %d: already present in buffer", j, setIdx)
			continue
		}
		set.Items = append(set.Items, item)
	}

	sort.SliceStable(set.Items, func(a, b int) bool {
		return set.Items[a].StartRow < set.Items[b].StartRow
	})

	kept := set.Items[:0]
	lastEnd := 0
	for _, item := range set.Items {
		if item.StartRow <= lastEnd {
			logger.Debug("parser: dropping item at rows %d-%d overlapping row %d", item.StartRow, item.EndRow, lastEnd)
			continue
		}
		kept = append(kept, item)
		lastEnd = item.EndRow
	}
	set.Items = kept
	return set
}

// decodeItem validates one raw item. Both camelCase and snake_case row keys are accepted.
func decodeItem(raw any) (*types.SuggestionItem, string) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, "not an object"
	}
	content, ok := obj["content"].(string)
	if !ok {
		return nil, "content missing or not a string"
	}
	start, ok := rowField(obj, "startRow", "start_row")
	if !ok {
		return nil, "start row missing or not a positive integer"
	}
	end, ok := rowField(obj, "endRow", "end_row")
	if !ok {
		return nil, "end row missing or not a positive integer"
	}
	if start > end {
		return nil, "start row after end row"
	}
	return &types.SuggestionItem{
		ID:               uuid.NewString(),
		Content:          content,
		StartRow:         start,
		EndRow:           end,
		OriginalStartRow: start,
	}, ""
}

func rowField(obj map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		v, present := obj[key]
		if !present {
			continue
		}
		f, ok := v.(float64)
		if !ok || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// stripLineNumbers removes "12: " prefixes the model copied from the numbered
// prompt. Content is only rewritten when every non-empty line carries one.
func stripLineNumbers(content string) string {
	lines := strings.Split(content, "\n")
	numbered := 0
	for _, line := range lines {
		if line == "" {
			continue
		}
		if !lineNumber.MatchString(line) {
			return content
		}
		numbered++
	}
	if numbered == 0 {
		return content
	}
	for i, line := range lines {
		lines[i] = lineNumber.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

// TrimItem drops leading content lines that already match the buffer verbatim,
// advancing StartRow past them. The last replaced row is kept as an anchor when more
// content follows it, so StartRow never passes EndRow. It reports false when nothing
// is left to change.
func TrimItem(item *types.SuggestionItem, lines []string) bool {
	content := item.Lines()
	row := item.StartRow
	for len(content) > 0 && row <= item.EndRow && row <= len(lines) {
		if lines[row-1] != content[0] {
			break
		}
		if row == item.EndRow && len(content) > 1 {
			break
		}
		content = content[1:]
		row++
	}
	if len(content) == 0 {
		return false
	}
	item.StartRow = row
	item.Content = strings.Join(content, "\n")
	return item.Content != ""
}
