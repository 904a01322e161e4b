// Package notify surfaces errors to the user through the editor, each distinct
// message at most once per session.
package notify

import (
	"errors"
	"fmt"

	"neopilot/logger"
	"neopilot/types"

	"github.com/jellydator/ttlcache/v3"
)

// Level mirrors vim.log.levels
type Level int

const (
	LevelInfo  Level = 2
	LevelWarn  Level = 3
	LevelError Level = 4
)

// DefaultCapacity bounds how many distinct messages are remembered; the oldest is
// forgotten first
const DefaultCapacity = 256

// Sink delivers a message to the user
type Sink func(msg string, level Level)

// Notifier deduplicates user-facing messages by their text. A session is the
// lifetime of the notifier: one attached editor.
type Notifier struct {
	sink Sink
	seen *ttlcache.Cache[string, struct{}]
}

// New creates a notifier that forwards to sink
func New(sink Sink) *Notifier {
	c := ttlcache.New[string, struct{}](
		ttlcache.WithCapacity[string, struct{}](DefaultCapacity),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go c.Start()
	return &Notifier{sink: sink, seen: c}
}

// Close stops the cache's background loop
func (n *Notifier) Close() {
	n.seen.Stop()
}

// Notify sends msg unless the identical message was already sent.
// It reports whether the message reached the sink.
func (n *Notifier) Notify(msg string, level Level) bool {
	if n.seen.Has(msg) {
		logger.Debug("notify: suppressed repeat of %q", msg)
		return false
	}
	n.seen.Set(msg, struct{}{}, ttlcache.NoTTL)
	if n.sink != nil {
		n.sink(msg, level)
	}
	return true
}

// Error surfaces err unless the same message was shown before. Invalid input and
// cache failures are absorbed: they are logged and never shown.
func (n *Notifier) Error(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrInvalidInput) || errors.Is(err, types.ErrCacheFailure) {
		logger.Debug("notify: absorbed %v", err)
		return false
	}
	return n.Notify(fmt.Sprintf("neopilot: %v", err), LevelWarn)
}

// Reset forgets every message so each is shown again
func (n *Notifier) Reset() {
	n.seen.DeleteAll()
}
