package engine

import (
	"context"
	"time"

	"neopilot/cache"
	"neopilot/clock"
	"neopilot/metrics"
	"neopilot/notify"
	"neopilot/render"
	"neopilot/suggestion"
	"neopilot/trigger"
	"neopilot/types"
)

// Editor defines the editor operations the engine needs. Rows are 1-indexed,
// except SetLines which takes a 0-indexed end-exclusive range like nvim_buf_set_lines.
// Implemented by buffer.NvimBuffer for Neovim integration.
type Editor interface {
	Snapshot(buf int) (*Snapshot, error)
	Cursor(buf int) (types.Position, error)
	Draw(buf int, overlay *render.Overlay) error
	ClearOverlay(buf int) error
	SetLines(buf, start, end int, lines []string) error
	SetCursor(buf, row, col int) error
	StartInsert(buf int) error
	FeedKeys(keys string) error
	RegisterEventHandler(handler func(event string, buf int)) error
}

// Snapshot is the state of one buffer at the time of an event
type Snapshot struct {
	Lines    []string
	Cursor   types.Position
	Path     string
	Filetype string
	Mode     string
}

// Provider defines the interface that all AI backends must implement.
// StreamCompletion blocks until the exchange ends and reports through exactly one
// of handler.OnFinish or handler.OnError.
// Implemented by provider.Provider.
type Provider interface {
	StreamCompletion(ctx context.Context, req *types.SuggestionRequest, handler types.StreamHandler)
}

// PathFilter reports paths that must never get suggestions.
// Implemented by ignore.Matcher.
type PathFilter interface {
	Match(path string) bool
}

type EngineConfig struct {
	Trigger           trigger.Config
	CompletionTimeout time.Duration
	MinChars          int // documents with fewer non-space characters never trigger a fetch

	// AcceptKey and NativeCompletionKey are editor key notations. When they are the
	// same, accepting with nothing to accept hands the key back to the editor.
	AcceptKey           string
	NativeCompletionKey string
}

// Options carries optional collaborators; zero values get working defaults
type Options struct {
	Cache    *cache.Cache
	Clock    clock.Clock
	Metrics  *metrics.Tracker
	Notifier *notify.Notifier
	Ignore   PathFilter
}

type state int

const (
	stateIdle state = iota
	stateFetching
	stateReady
)

// String returns a human-readable name for the state
func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateFetching:
		return "Fetching"
	case stateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// bufState is the engine's view of one buffer. Only the event loop touches it.
type bufState struct {
	id      int
	state   state
	trigger *trigger.Controller
	sugg    *suggestion.Context

	generation uint64             // bumped for every fetch; stale results carry an older value
	cancel     context.CancelFunc // cancels the in-flight fetch
	request    *types.EditContext // context of the in-flight fetch

	shown *metrics.CompletionMetrics
}

// fetchResult is what a provider goroutine reports back to the loop
type fetchResult struct {
	generation uint64
	request    *types.EditContext
	key        string
	text       string
	err        error
	elapsed    time.Duration
}

// Stats is returned by the neopilot_stats RPC
type Stats struct {
	Cache   cache.Stats `json:"cache"`
	Buffers int         `json:"buffers"`
}
