package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"neopilot/cache"
	"neopilot/clock"
	"neopilot/logger"
	"neopilot/metrics"
	"neopilot/parser"
	"neopilot/render"
	"neopilot/suggestion"
	"neopilot/trigger"
	"neopilot/types"
)

const defaultCompletionTimeout = 10 * time.Second

type Engine struct {
	provider Provider
	editor   Editor
	cache    *cache.Cache
	clock    clock.Clock
	metrics  *metrics.Tracker
	notifier notifier
	ignore   PathFilter
	config   EngineConfig

	mu        sync.Mutex
	buffers   map[int]*bufState
	nbuffers  atomic.Int32 // len(buffers), readable without mu
	registry  *suggestion.Registry
	eventChan chan Event

	// Main context and cancel for the engine lifecycle. ctxMu guards mainCtx for
	// send, which must not wait on mu while an event holds it.
	ctxMu      sync.RWMutex
	mainCtx    context.Context
	mainCancel context.CancelFunc
	stopped    bool
	stopOnce   sync.Once

	loopRestarts atomic.Int32 // event loop restarts after a panic
}

// notifier is the part of notify.Notifier the engine uses
type notifier interface {
	Error(err error) bool
}

func NewEngine(provider Provider, editor Editor, config EngineConfig, opts Options) (*Engine, error) {
	if provider == nil || editor == nil {
		return nil, types.NewError(types.KindInvalidInput, "engine", "provider and editor are required")
	}
	if config.CompletionTimeout <= 0 {
		config.CompletionTimeout = defaultCompletionTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.Config{}, opts.Clock)
	}

	e := &Engine{
		provider:  provider,
		editor:    editor,
		cache:     opts.Cache,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		ignore:    opts.Ignore,
		config:    config,
		buffers:   make(map[int]*bufState),
		registry:  suggestion.NewRegistry(),
		eventChan: make(chan Event, 100),
	}
	if opts.Notifier != nil {
		e.notifier = opts.Notifier
	}
	// usable before Start, e.g. in tests that drive handleEvent directly
	e.mainCtx, e.mainCancel = context.WithCancel(context.Background())
	return e, nil
}

// Start registers the editor event handler and runs the event loop until ctx is done
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errors.New("engine stopped")
	}
	e.mainCancel()
	e.ctxMu.Lock()
	e.mainCtx, e.mainCancel = context.WithCancel(ctx)
	e.ctxMu.Unlock()
	loopCtx := e.mainCtx
	e.mu.Unlock()

	if err := e.editor.RegisterEventHandler(e.HandleEditorEvent); err != nil {
		return err
	}

	go e.eventLoop(loopCtx)
	logger.Info("engine started")
	return nil
}

// Stop gracefully shuts down the engine and cleans up all resources
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		logger.Info("stopping engine...")
		e.stopped = true
		e.mainCancel()
		for _, bs := range e.buffers {
			e.cancelFetch(bs)
			bs.trigger.Cancel()
		}
		logger.Info("engine stopped")
	})
}

// HandleEditorEvent queues an editor notification such as "text_changed" for buf.
// Unknown event names are ignored.
func (e *Engine) HandleEditorEvent(name string, buf int) {
	eventType := EventTypeFromString(name)
	if eventType == "" {
		logger.Warn("unknown editor event %q", name)
		return
	}
	e.send(Event{Type: eventType, Buf: buf})
}

// Stats reports cache usage and the number of tracked buffers. It does not take mu,
// so the editor may call it while an event is waiting on the editor.
func (e *Engine) Stats() Stats {
	return Stats{Cache: e.cache.Stats(), Buffers: int(e.nbuffers.Load())}
}

// send delivers an event to the loop unless the engine is shutting down
func (e *Engine) send(event Event) {
	e.ctxMu.RLock()
	ctx := e.mainCtx
	e.ctxMu.RUnlock()

	select {
	case e.eventChan <- event:
	case <-ctx.Done():
	}
}

// bufferFor returns the state of buf, creating it on first use
func (e *Engine) bufferFor(buf int) *bufState {
	if bs, ok := e.buffers[buf]; ok {
		return bs
	}
	bs := &bufState{
		id:   buf,
		sugg: e.registry.Ensure(buf),
	}
	bs.trigger = trigger.New(e.config.Trigger, e.clock, func(pos types.Position) {
		e.send(Event{Type: EventDebounceTimeout, Buf: buf, Data: pos})
	})
	e.buffers[buf] = bs
	e.nbuffers.Store(int32(len(e.buffers)))
	return bs
}

func (e *Engine) closeBuffer(bs *bufState) {
	e.cancelFetch(bs)
	bs.trigger.Cancel()
	if bs.state == stateReady {
		e.metrics.TrackDisposed(bs.shown)
	}
	e.registry.Delete(bs.id)
	delete(e.buffers, bs.id)
	e.nbuffers.Store(int32(len(e.buffers)))
	logger.Debug("buffer %d closed", bs.id)
}

// --- fetching ---

// startFetch snapshots the buffer and either serves the suggestion from the cache or
// starts a provider request. Any request already in flight for the buffer is cancelled.
func (e *Engine) startFetch(bs *bufState) {
	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	if e.ignore != nil && e.ignore.Match(snap.Path) {
		logger.Debug("buffer %d: %s is ignored", bs.id, snap.Path)
		return
	}
	if e.config.MinChars > 0 && nonSpaceChars(snap.Lines, e.config.MinChars) < e.config.MinChars {
		logger.Debug("buffer %d: fewer than %d characters, not suggesting", bs.id, e.config.MinChars)
		return
	}

	e.cancelFetch(bs)
	bs.generation++

	ec := &types.EditContext{
		BufferID: bs.id,
		Path:     snap.Path,
		Filetype: snap.Filetype,
		Row:      snap.Cursor.Row,
		Col:      snap.Cursor.Col,
		Lines:    snap.Lines,
	}
	key := e.cache.Key(ec)

	if payload, ok := e.cache.Get(key); ok {
		e.metrics.TrackCache(true)
		sets, err := parser.Parse(payload, ec.Lines)
		if err == nil && len(sets) > 0 {
			logger.Debug("buffer %d: cache hit", bs.id)
			e.show(bs, sets, ec.Lines, snap.Cursor)
			return
		}
		e.cache.Delete(key)
	} else {
		e.metrics.TrackCache(false)
	}

	ctx, cancel := context.WithTimeout(e.mainCtx, e.config.CompletionTimeout)
	bs.cancel = cancel
	bs.request = ec
	bs.state = stateFetching

	gen := bs.generation
	buf := bs.id
	start := e.clock.Now()
	req := &types.SuggestionRequest{Context: ec}

	go func() {
		defer cancel()
		e.provider.StreamCompletion(ctx, req, types.StreamHandler{
			OnChunk: func(chunk string) {
				logger.Debug("buffer %d: received %d bytes", buf, len(chunk))
			},
			OnFinish: func(text string) {
				e.send(Event{Type: EventFetchReady, Buf: buf, Data: &fetchResult{
					generation: gen, request: ec, key: key, text: text, elapsed: e.clock.Now().Sub(start),
				}})
			},
			OnError: func(err error) {
				e.send(Event{Type: EventFetchError, Buf: buf, Data: &fetchResult{
					generation: gen, request: ec, key: key, err: err, elapsed: e.clock.Now().Sub(start),
				}})
			},
		})
	}()
	logger.Debug("buffer %d: fetch %d started at %d:%d", bs.id, gen, ec.Row, ec.Col)
}

// cancelFetch aborts the in-flight request, if any. Its result will be discarded by
// the generation check.
func (e *Engine) cancelFetch(bs *bufState) {
	if bs.cancel != nil {
		bs.cancel()
		bs.cancel = nil
	}
	bs.request = nil
	if bs.state == stateFetching {
		bs.state = stateIdle
	}
}

func (e *Engine) handleFetchReady(bs *bufState, res *fetchResult) {
	if bs.state != stateFetching || res.generation != bs.generation {
		logger.Debug("buffer %d: dropping stale result %d (current %d)", bs.id, res.generation, bs.generation)
		e.metrics.TrackFetch(metrics.FetchStale, res.elapsed)
		return
	}
	bs.cancel = nil
	bs.request = nil
	bs.state = stateIdle

	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	if !slices.Equal(snap.Lines, res.request.Lines) {
		logger.Debug("buffer %d: document changed during fetch, discarding", bs.id)
		e.metrics.TrackFetch(metrics.FetchStale, res.elapsed)
		return
	}
	if strings.TrimSpace(res.text) == "" {
		e.metrics.TrackFetch(metrics.FetchEmpty, res.elapsed)
		return
	}

	sets, err := parser.Parse(res.text, snap.Lines)
	if err != nil {
		e.metrics.TrackFetch(metrics.FetchError, res.elapsed)
		e.reportError(err)
		return
	}
	if len(sets) == 0 {
		e.metrics.TrackFetch(metrics.FetchEmpty, res.elapsed)
		return
	}

	if err := e.cache.Set(res.key, res.text); err != nil {
		logger.Warn("cache: %v", err)
	}
	e.metrics.TrackFetch(metrics.FetchOK, res.elapsed)
	e.show(bs, sets, snap.Lines, snap.Cursor)
}

func (e *Engine) handleFetchError(bs *bufState, res *fetchResult) {
	if res.generation != bs.generation {
		e.metrics.TrackFetch(metrics.FetchStale, res.elapsed)
		return
	}
	if bs.state == stateFetching {
		bs.state = stateIdle
	}
	bs.cancel = nil
	bs.request = nil

	err := res.err
	if errors.Is(err, context.Canceled) {
		e.metrics.TrackFetch(metrics.FetchCancelled, res.elapsed)
		logger.Debug("buffer %d: fetch cancelled", bs.id)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = types.WrapError(types.KindProviderConnection, "fetch", err)
	}
	e.metrics.TrackFetch(metrics.FetchError, res.elapsed)
	e.reportError(err)
}

func (e *Engine) reportError(err error) {
	switch types.KindOf(err) {
	case types.KindInvalidInput, types.KindCacheFailure:
		logger.Debug("absorbed: %v", err)
	default:
		logger.Error("suggestion failed: %v", err)
	}
	if e.notifier != nil {
		e.notifier.Error(err)
	}
}

// --- display ---

func (e *Engine) show(bs *bufState, sets []*types.SuggestionSet, lines []string, cursor types.Position) {
	bs.sugg.SetSets(sets, lines)
	if !e.draw(bs, lines, cursor) {
		bs.sugg.Reset()
		bs.state = stateIdle
		return
	}
	bs.state = stateReady

	additions, deletions := 0, 0
	for _, item := range sets[0].Items {
		additions += len(item.Lines())
		deletions += item.ReplacedCount()
	}
	bs.shown = &metrics.CompletionMetrics{
		ID:        sets[0].Items[0].ID,
		Additions: additions,
		Deletions: deletions,
		ShownAt:   e.clock.Now(),
	}
	e.metrics.TrackShown(bs.shown)
	logger.Debug("buffer %d: showing set 1/%d", bs.id, len(sets))
}

// draw renders the selected set against lines. It reports false when the overlay
// could not be drawn.
func (e *Engine) draw(bs *bufState, lines []string, cursor types.Position) bool {
	overlay := render.Render(bs.sugg.Current(), lines, cursor)
	if err := e.editor.Draw(bs.id, overlay); err != nil {
		logger.Error("draw buffer %d: %v", bs.id, err)
		return false
	}
	return true
}

// dismiss clears the overlay and drops all sets
func (e *Engine) dismiss(bs *bufState) {
	if bs.state == stateReady {
		e.metrics.TrackDisposed(bs.shown)
	}
	if err := e.editor.ClearOverlay(bs.id); err != nil {
		logger.Warn("clear overlay buffer %d: %v", bs.id, err)
	}
	bs.sugg.Reset()
	bs.shown = nil
	bs.state = stateIdle
}

// nonSpaceChars counts non-space characters in lines, stopping early at limit
func nonSpaceChars(lines []string, limit int) int {
	n := 0
	for _, line := range lines {
		for _, r := range line {
			if !unicode.IsSpace(r) {
				n++
				if n >= limit {
					return n
				}
			}
		}
	}
	return n
}
