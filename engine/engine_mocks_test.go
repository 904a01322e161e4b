package engine

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"neopilot/cache"
	"neopilot/clock"
	"neopilot/metrics"
	"neopilot/render"
	"neopilot/trigger"
	"neopilot/types"

	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

// mockEditor implements the Editor interface for testing. SetLines edits the
// in-memory buffer so accepts can be checked against the resulting document.
type mockEditor struct {
	mu       sync.Mutex
	lines    []string
	cursor   types.Position
	path     string
	filetype string
	mode     string

	// Track method calls
	draws        []*render.Overlay
	clears       int
	fedKeys      []string
	startInserts int
	handler      func(event string, buf int)
}

func newMockEditor(lines ...string) *mockEditor {
	return &mockEditor{
		lines:    lines,
		cursor:   types.Position{Row: 1, Col: 0},
		path:     "main.go",
		filetype: "go",
		mode:     "i",
	}
}

func (m *mockEditor) Snapshot(buf int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Snapshot{
		Lines:    slices.Clone(m.lines),
		Cursor:   m.cursor,
		Path:     m.path,
		Filetype: m.filetype,
		Mode:     m.mode,
	}, nil
}

func (m *mockEditor) Cursor(buf int) (types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *mockEditor) Draw(buf int, overlay *render.Overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draws = append(m.draws, overlay)
	return nil
}

func (m *mockEditor) ClearOverlay(buf int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return nil
}

func (m *mockEditor) SetLines(buf, start, end int, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = slices.Concat(m.lines[:start], lines, m.lines[end:])
	return nil
}

func (m *mockEditor) SetCursor(buf, row, col int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = types.Position{Row: row, Col: col}
	return nil
}

func (m *mockEditor) StartInsert(buf int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startInserts++
	return nil
}

func (m *mockEditor) FeedKeys(keys string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fedKeys = append(m.fedKeys, keys)
	return nil
}

func (m *mockEditor) RegisterEventHandler(handler func(event string, buf int)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

// set simulates typing: it replaces the document and moves the cursor
func (m *mockEditor) set(lines []string, cursor types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = lines
	m.cursor = cursor
}

func (m *mockEditor) document() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lines)
}

func (m *mockEditor) lastDraw() *render.Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.draws) == 0 {
		return nil
	}
	return m.draws[len(m.draws)-1]
}

func (m *mockEditor) drawCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.draws)
}

// mockProvider answers every request with the next canned response
type mockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     bool // wait for cancellation instead of answering
	requests  []*types.SuggestionRequest
}

func (p *mockProvider) StreamCompletion(ctx context.Context, req *types.SuggestionRequest, handler types.StreamHandler) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	block, err := p.block, p.err
	text := ""
	if len(p.responses) > 0 {
		text = p.responses[0]
		p.responses = p.responses[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		handler.OnError(ctx.Err())
		return
	}
	if err != nil {
		handler.OnError(err)
		return
	}
	handler.OnChunk(text)
	handler.OnFinish(text)
}

func (p *mockProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// mockNotifier records reported errors
type mockNotifier struct {
	mu     sync.Mutex
	errors []error
}

func (n *mockNotifier) Error(err error) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, err)
	return true
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

// mockFilter ignores one path
type mockFilter string

func (f mockFilter) Match(path string) bool { return path == string(f) }

// --- Test harness ---

type harness struct {
	engine   *Engine
	editor   *mockEditor
	provider *mockProvider
	clock    *clock.Fake
	cache    *cache.Cache
	metrics  *metrics.Tracker
	notifier *mockNotifier
}

const testBuf = 1

func newHarness(t *testing.T, editor *mockEditor, responses ...string) *harness {
	t.Helper()
	clk := clock.NewFake(time.Unix(1700000000, 0))
	h := &harness{
		editor:   editor,
		provider: &mockProvider{responses: responses},
		clock:    clk,
		cache:    cache.New(cache.Config{}, clk),
		metrics:  metrics.NewTracker(),
		notifier: &mockNotifier{},
	}
	e, err := NewEngine(h.provider, editor, EngineConfig{
		Trigger:             trigger.Config{Debounce: 300 * time.Millisecond},
		CompletionTimeout:   time.Second,
		AcceptKey:           "<Tab>",
		NativeCompletionKey: "<Tab>",
	}, Options{
		Cache:   h.cache,
		Clock:   clk,
		Metrics: h.metrics,
	})
	require.NoError(t, err)
	e.notifier = h.notifier
	h.engine = e
	t.Cleanup(e.Stop)
	return h
}

// fire handles an event synchronously, the way the loop would
func (h *harness) fire(eventType EventType) {
	h.engine.handleEvent(Event{Type: eventType, Buf: testBuf})
}

// next handles the next queued event, failing when none arrives
func (h *harness) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.engine.eventChan:
		h.engine.handleEvent(ev)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// suggest runs a manual trigger through to the provider result
func (h *harness) suggest(t *testing.T) {
	t.Helper()
	h.fire(EventSuggest)
	ev := h.next(t)
	require.Contains(t, []EventType{EventFetchReady, EventFetchError}, ev.Type)
}

func (h *harness) state() state {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	if bs, ok := h.engine.buffers[testBuf]; ok {
		return bs.state
	}
	return stateIdle
}

func (h *harness) buffer() *bufState {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.engine.buffers[testBuf]
}

func (h *harness) assertNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.engine.eventChan:
		t.Fatalf("unexpected event %v", ev.Type)
	default:
	}
}
