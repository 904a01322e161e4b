// Package tokens counts prompt tokens and narrows context windows to a token budget.
package tokens

import (
	"sync"

	"neopilot/logger"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no encoding is configured
const DefaultEncoding = "cl100k_base"

// AvgCharsPerToken is a conservative ratio for mixed code and JSON
const AvgCharsPerToken = 2

// Counter counts the tokens in a piece of text
type Counter interface {
	Count(text string) int
}

// Estimator approximates token counts from byte length
type Estimator struct {
	CharsPerToken int
}

func (e Estimator) Count(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = AvgCharsPerToken
	}
	return (len(text) + per - 1) / per
}

// Tiktoken counts with a BPE encoding, loaded on first use. If the encoding cannot be
// loaded (offline, unknown name) it falls back to the estimator for the process lifetime.
type Tiktoken struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
	fallback Estimator
}

// NewTiktoken returns a lazily initialized counter for encoding
func NewTiktoken(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{encoding: encoding}
}

// Warm loads the encoding now instead of on the first Count
func (t *Tiktoken) Warm() error {
	t.once.Do(t.load)
	return t.err
}

func (t *Tiktoken) load() {
	t.enc, t.err = tiktoken.GetEncoding(t.encoding)
	if t.err != nil {
		logger.Warn("tokens: encoding %s unavailable, estimating: %v", t.encoding, t.err)
	}
}

func (t *Tiktoken) Count(text string) int {
	t.once.Do(t.load)
	if t.err != nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// FitAroundCursor picks the widest 0-indexed inclusive line range around cursor whose
// token count stays within maxTokens. The budget is split evenly above and below the
// cursor line; whatever one side leaves unused goes to the other. trimmed is false when
// every line fits.
func FitAroundCursor(lines []string, cursor, maxTokens int, counter Counter) (start, end int, trimmed bool) {
	if len(lines) == 0 {
		return 0, -1, false
	}
	cursor = min(max(cursor, 0), len(lines)-1)
	if maxTokens <= 0 {
		return 0, len(lines) - 1, false
	}

	cost := make([]int, len(lines))
	total := 0
	for i, line := range lines {
		cost[i] = counter.Count(line) + 1
		total += cost[i]
	}
	if total <= maxTokens {
		return 0, len(lines) - 1, false
	}

	half := (maxTokens - cost[cursor]) / 2

	start = cursor
	used := 0
	for start > 0 && used+cost[start-1] <= half {
		start--
		used += cost[start]
	}

	budgetAfter := half + (half - used)
	end = cursor
	usedAfter := 0
	for end < len(lines)-1 && usedAfter+cost[end+1] <= budgetAfter {
		end++
		usedAfter += cost[end]
	}

	// hand anything left below back to the lines above
	spare := budgetAfter - usedAfter
	for start > 0 && used+cost[start-1] <= half+spare {
		start--
		used += cost[start]
	}

	return start, end, true
}
