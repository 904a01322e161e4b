// Package trigger decides when an edit should turn into a suggestion fetch.
package trigger

import (
	"sync"
	"time"

	"neopilot/clock"
	"neopilot/logger"
	"neopilot/types"

	"golang.org/x/time/rate"
)

const (
	DefaultDebounce        = 300 * time.Millisecond
	DefaultColumnTolerance = 5
)

// Config tunes the controller. A zero Throttle disables the cooldown.
type Config struct {
	Debounce        time.Duration
	Throttle        time.Duration
	ColumnTolerance int
}

// Controller debounces edit signals and enforces a cooldown between fetches.
// The suggest callback runs on the clock's timer goroutine.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	clock   clock.Clock
	limiter *rate.Limiter
	suggest func(pos types.Position)

	last       *types.Position
	pending    clock.Timer
	generation uint64
}

// New creates a controller that calls suggest when a debounced signal fires
func New(cfg Config, clk clock.Clock, suggest func(pos types.Position)) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ColumnTolerance <= 0 {
		cfg.ColumnTolerance = DefaultColumnTolerance
	}
	if clk == nil {
		clk = clock.Real
	}
	limit := rate.Inf
	if cfg.Throttle > 0 {
		limit = rate.Every(cfg.Throttle)
	}
	return &Controller{
		cfg:     cfg,
		clock:   clk,
		limiter: rate.NewLimiter(limit, 1),
		suggest: suggest,
	}
}

// OnEditSignal records pos and, when the user appears to be typing in place,
// (re)schedules a fetch. It reports whether a fetch was scheduled.
func (c *Controller) OnEditSignal(pos types.Position) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.last
	c.last = &pos

	if prev != nil && !c.inPlace(*prev, pos) {
		logger.Debug("trigger: cursor jumped %d:%d -> %d:%d, not scheduling", prev.Row, prev.Col, pos.Row, pos.Col)
		c.stopPending()
		return false
	}

	if c.throttled() {
		logger.Debug("trigger: throttled, not scheduling")
		return false
	}

	c.stopPending()
	c.generation++
	gen := c.generation
	c.pending = c.clock.AfterFunc(c.cfg.Debounce, func() {
		c.fire(gen, pos)
	})
	return true
}

// Track records the cursor position without scheduling anything
func (c *Controller) Track(pos types.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &pos
}

// Cancel drops the pending fetch, if any
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPending()
}

// Reset cancels the pending fetch and forgets the last cursor position
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPending()
	c.last = nil
}

// Throttled reports whether the cooldown is active
func (c *Controller) Throttled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttled()
}

func (c *Controller) fire(gen uint64, pos types.Position) {
	c.mu.Lock()
	if gen != c.generation || c.pending == nil {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if !c.limiter.AllowN(c.clock.Now(), 1) {
		c.mu.Unlock()
		logger.Debug("trigger: cooldown active at fire time, dropping")
		return
	}
	suggest := c.suggest
	c.mu.Unlock()

	if suggest != nil {
		suggest(pos)
	}
}

func (c *Controller) inPlace(prev, cur types.Position) bool {
	if prev.Row != cur.Row {
		return false
	}
	d := cur.Col - prev.Col
	if d < 0 {
		d = -d
	}
	return d <= c.cfg.ColumnTolerance
}

func (c *Controller) throttled() bool {
	if c.cfg.Throttle <= 0 {
		return false
	}
	return c.limiter.TokensAt(c.clock.Now()) < 1
}

func (c *Controller) stopPending() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.generation++
}
