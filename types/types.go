package types

import "strings"

// Position is a cursor location: Row is 1-indexed, Col is a 0-indexed byte offset
type Position struct {
	Row int
	Col int
}

// EditContext is the cursor-relative view of a document used to key the cache
// and build prompts. It is built fresh for every trigger and never mutated.
type EditContext struct {
	BufferID int
	Path     string
	Filetype string
	Row      int // 1-indexed
	Col      int // 0-indexed
	Lines    []string
}

// Cursor returns the context's cursor position
func (ec *EditContext) Cursor() Position {
	return Position{Row: ec.Row, Col: ec.Col}
}

// SuggestionItem is one contiguous edit: replace rows [StartRow, EndRow] with Content.
// Rows are 1-indexed, inclusive, in pre-edit buffer coordinates.
type SuggestionItem struct {
	ID               string
	Content          string
	StartRow         int
	EndRow           int
	OriginalStartRow int // StartRow before already-matching prefix lines were trimmed
}

// Lines splits the content into replacement lines
func (it *SuggestionItem) Lines() []string {
	return strings.Split(it.Content, "\n")
}

// ReplacedCount returns the number of buffer rows the item replaces
func (it *SuggestionItem) ReplacedCount() int {
	return it.EndRow - it.StartRow + 1
}

// Delta returns the net line-count change applying the item causes
func (it *SuggestionItem) Delta() int {
	return len(it.Lines()) - it.ReplacedCount()
}

// Shift moves every row of the item by delta
func (it *SuggestionItem) Shift(delta int) {
	it.StartRow += delta
	it.EndRow += delta
	it.OriginalStartRow += delta
}

// SuggestionSet is one alternative edit plan: non-overlapping items sorted by StartRow
type SuggestionSet struct {
	Items []*SuggestionItem
}

// Empty reports whether the set has no items left
func (s *SuggestionSet) Empty() bool {
	return s == nil || len(s.Items) == 0
}

// Message is a chat message sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// SuggestionRequest carries everything a provider needs for one fetch
type SuggestionRequest struct {
	Context *EditContext
}

// StreamHandler receives provider output. OnChunk fires per delta, then exactly
// one of OnFinish (with the aggregated text) or OnError.
type StreamHandler struct {
	OnChunk  func(chunk string)
	OnFinish func(text string)
	OnError  func(err error)
}

// ProviderType identifies a backend
type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeOllama ProviderType = "ollama"
)

// ProviderConfig holds backend settings shared by all providers
type ProviderConfig struct {
	ProviderURL         string
	ProviderModel       string
	ProviderTemperature float64
	ProviderMaxTokens   int // completion tokens requested from the model
	APIKey              string
	CompressRequests    bool // brotli-encode request bodies
	MaxContextTokens    int  // budget for the document context in the prompt
	MaxContextLines     int
	ChunkSize           int
}
