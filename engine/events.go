package engine

import (
	"context"
	"runtime/debug"

	"neopilot/logger"
)

// EventType represents the type of event in the engine
type EventType string

// Event type constants
const (
	// Editor notifications
	EventTextChanged  EventType = "text_changed"
	EventCursorMoved  EventType = "cursor_moved"
	EventInsertLeave  EventType = "insert_leave"
	EventBufferClosed EventType = "buffer_closed"

	// User commands
	EventSuggest    EventType = "suggest"
	EventAccept     EventType = "accept"
	EventAcceptWord EventType = "accept_word"
	EventNext       EventType = "next"
	EventPrev       EventType = "prev"
	EventDismiss    EventType = "dismiss"

	// Internal events
	EventDebounceTimeout EventType = "debounce_timeout"
	EventFetchReady      EventType = "fetch_ready"
	EventFetchError      EventType = "fetch_error"
)

// Event represents an event for one buffer
type Event struct {
	Type EventType
	Buf  int
	Data any
}

var eventTypeMap map[string]EventType

func init() {
	eventTypeMap = buildEventTypeMap()
	// Also initialize transition map
	transitionMap = make(map[transitionKey]*Transition)
	for i := range transitions {
		t := &transitions[i]
		key := transitionKey{from: t.From, event: t.Event}
		transitionMap[key] = t
	}
}

// buildEventTypeMap lists the events the editor may send by name
func buildEventTypeMap() map[string]EventType {
	eventMap := make(map[string]EventType)

	editorEventTypes := []EventType{
		EventTextChanged,
		EventCursorMoved,
		EventInsertLeave,
		EventBufferClosed,
		EventSuggest,
		EventAccept,
		EventAcceptWord,
		EventNext,
		EventPrev,
		EventDismiss,
	}

	for _, eventType := range editorEventTypes {
		eventMap[string(eventType)] = eventType
	}

	return eventMap
}

// EventTypeFromString converts an editor event name to EventType
func EventTypeFromString(s string) EventType {
	if eventType, exists := eventTypeMap[s]; exists {
		return eventType
	}
	return ""
}

// Transition represents a valid state transition in the engine's state machine
type Transition struct {
	From   state
	Event  EventType
	Action func(*Engine, *bufState, Event)
}

// transitions defines all valid state transitions of one buffer.
//
//	          DebounceTimeout / Suggest
//	+------+ ------------------------> +----------+
//	| Idle |                           | Fetching |
//	+------+ <------------------------ +----------+
//	   ^  ^    TextChanged / InsertLeave /   |
//	   |  |    Dismiss / error / empty        | FetchReady (sets parsed)
//	   |  |                                   v
//	   |  +-------- Dismiss / InsertLeave  +-------+
//	   |           typed text diverges     | Ready | <-- Next / Prev / Accept with items left
//	   +---------- last item accepted ---- +-------+
//
// FetchReady and FetchError are filtered by generation before dispatch.
var transitions = []Transition{
	// From stateIdle
	{stateIdle, EventTextChanged, (*Engine).doSignal},
	{stateIdle, EventCursorMoved, (*Engine).doTrackCursor},
	{stateIdle, EventDebounceTimeout, (*Engine).doFetch},
	{stateIdle, EventSuggest, (*Engine).doFetch},
	{stateIdle, EventInsertLeave, (*Engine).doCancelTrigger},
	{stateIdle, EventDismiss, (*Engine).doCancelTrigger},
	{stateIdle, EventAccept, (*Engine).doAcceptFallback},

	// From stateFetching
	{stateFetching, EventTextChanged, (*Engine).doCancelAndSignal},
	{stateFetching, EventCursorMoved, (*Engine).doCursorMovedFetching},
	{stateFetching, EventDebounceTimeout, (*Engine).doFetch},
	{stateFetching, EventSuggest, (*Engine).doFetch},
	{stateFetching, EventInsertLeave, (*Engine).doCancel},
	{stateFetching, EventDismiss, (*Engine).doCancel},
	{stateFetching, EventAccept, (*Engine).doAcceptFallback},

	// From stateReady
	{stateReady, EventTextChanged, (*Engine).doTextChangedReady},
	{stateReady, EventCursorMoved, (*Engine).doRedraw},
	{stateReady, EventAccept, (*Engine).doAccept},
	{stateReady, EventAcceptWord, (*Engine).doAcceptWord},
	{stateReady, EventNext, (*Engine).doNext},
	{stateReady, EventPrev, (*Engine).doPrev},
	{stateReady, EventDismiss, (*Engine).doDismiss},
	{stateReady, EventInsertLeave, (*Engine).doDismiss},
	{stateReady, EventSuggest, (*Engine).doDismissAndFetch},
}

// transitionMap provides O(1) lookup for transitions by (state, event) pair
var transitionMap map[transitionKey]*Transition

type transitionKey struct {
	from  state
	event EventType
}

// findTransition looks up a valid transition for the given state and event.
func findTransition(from state, event EventType) *Transition {
	return transitionMap[transitionKey{from: from, event: event}]
}

// dispatch finds and executes the appropriate transition for an event.
func (e *Engine) dispatch(bs *bufState, event Event) bool {
	t := findTransition(bs.state, event.Type)
	if t == nil {
		return false
	}
	if t.Action != nil {
		t.Action(e, bs, event)
	}
	return true
}

const maxEventLoopRestarts = 3

func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			restarts := e.loopRestarts.Add(1)
			logger.Error("event loop panic [%d/%d]: %v\n%s",
				restarts, maxEventLoopRestarts, r, debug.Stack())

			if int(restarts) < maxEventLoopRestarts {
				e.eventLoop(ctx) // Restart the event loop
			} else {
				logger.Error("max event loop restarts reached, stopping engine")
				go e.Stop() // async to avoid deadlock
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.eventChan:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for event %v: %v\n%s", event.Type, r, debug.Stack())
					}
				}()
				e.handleEvent(event)
			}()
		}
	}
}

func (e *Engine) handleEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	// Layer 1: buffer lifecycle
	if event.Type == EventBufferClosed {
		if bs, ok := e.buffers[event.Buf]; ok {
			e.closeBuffer(bs)
		}
		return
	}
	if _, ok := e.buffers[event.Buf]; !ok && (event.Type == EventFetchReady || event.Type == EventFetchError) {
		return // result for a buffer closed mid-fetch
	}

	bs := e.bufferFor(event.Buf)
	logger.Debug("handle event: %v buf=%d (state=%s)", event.Type, event.Buf, bs.state)
	defer func() {
		logger.Debug("after event: %v buf=%d (state=%s)", event.Type, event.Buf, bs.state)
	}()

	// Layer 2: Background/async results
	if e.handleBackgroundEvent(bs, event) {
		return
	}

	// Layer 3: Dispatch table for user/timer events
	e.dispatch(bs, event)
}

// handleBackgroundEvent handles async fetch results.
func (e *Engine) handleBackgroundEvent(bs *bufState, event Event) bool {
	switch event.Type {
	case EventFetchReady:
		if res, ok := event.Data.(*fetchResult); ok {
			e.handleFetchReady(bs, res)
		}
		return true
	case EventFetchError:
		if res, ok := event.Data.(*fetchResult); ok {
			e.handleFetchError(bs, res)
		}
		return true
	}
	return false
}

// Action functions for state transitions

func (e *Engine) doSignal(bs *bufState, event Event) {
	snap, err := e.editor.Snapshot(bs.id)
	if err != nil {
		logger.Error("snapshot buffer %d: %v", bs.id, err)
		return
	}
	if !insertMode(snap.Mode) {
		bs.trigger.Track(snap.Cursor)
		return
	}
	bs.trigger.OnEditSignal(snap.Cursor)
}

func (e *Engine) doTrackCursor(bs *bufState, event Event) {
	pos, err := e.editor.Cursor(bs.id)
	if err != nil {
		logger.Error("cursor buffer %d: %v", bs.id, err)
		return
	}
	bs.trigger.Track(pos)
}

func (e *Engine) doFetch(bs *bufState, event Event) {
	e.startFetch(bs)
}

func (e *Engine) doCancelTrigger(bs *bufState, event Event) {
	bs.trigger.Cancel()
}

func (e *Engine) doCancel(bs *bufState, event Event) {
	e.cancelFetch(bs)
	bs.trigger.Cancel()
}

func (e *Engine) doCancelAndSignal(bs *bufState, event Event) {
	e.cancelFetch(bs)
	e.doSignal(bs, event)
}

// doCursorMovedFetching abandons the fetch when the cursor left the requested line
func (e *Engine) doCursorMovedFetching(bs *bufState, event Event) {
	pos, err := e.editor.Cursor(bs.id)
	if err != nil {
		logger.Error("cursor buffer %d: %v", bs.id, err)
		return
	}
	bs.trigger.Track(pos)
	if bs.request != nil && pos.Row != bs.request.Row {
		logger.Debug("buffer %d: cursor left row %d, cancelling fetch", bs.id, bs.request.Row)
		e.cancelFetch(bs)
	}
}

func (e *Engine) doRedraw(bs *bufState, event Event) {
	pos, err := e.editor.Cursor(bs.id)
	if err != nil {
		logger.Error("cursor buffer %d: %v", bs.id, err)
		return
	}
	bs.trigger.Track(pos)
	e.draw(bs, bs.sugg.Previous, pos)
}

func (e *Engine) doNext(bs *bufState, event Event) {
	bs.sugg.Next()
	e.redrawSelection(bs)
}

func (e *Engine) doPrev(bs *bufState, event Event) {
	bs.sugg.Prev()
	e.redrawSelection(bs)
}

func (e *Engine) redrawSelection(bs *bufState) {
	pos, err := e.editor.Cursor(bs.id)
	if err != nil {
		logger.Error("cursor buffer %d: %v", bs.id, err)
		return
	}
	logger.Debug("buffer %d: showing set %d/%d", bs.id, bs.sugg.Index+1, len(bs.sugg.Sets))
	e.draw(bs, bs.sugg.Previous, pos)
}

func (e *Engine) doDismiss(bs *bufState, event Event) {
	e.dismiss(bs)
	bs.trigger.Cancel()
}

func (e *Engine) doDismissAndFetch(bs *bufState, event Event) {
	e.dismiss(bs)
	e.startFetch(bs)
}

func (e *Engine) doAccept(bs *bufState, event Event) {
	e.accept(bs)
}

func (e *Engine) doAcceptWord(bs *bufState, event Event) {
	e.acceptWord(bs)
}

func (e *Engine) doAcceptFallback(bs *bufState, event Event) {
	e.acceptFallback()
}

func (e *Engine) doTextChangedReady(bs *bufState, event Event) {
	e.handleTypingWhileReady(bs)
}

// insertMode reports whether an nvim mode string is one of the insert modes.
// An empty mode means the editor did not say and is treated as insert.
func insertMode(mode string) bool {
	return mode == "" || mode[0] == 'i'
}

