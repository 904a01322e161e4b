package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"neopilot/buffer"
	"neopilot/cache"
	"neopilot/clock"
	"neopilot/config"
	"neopilot/engine"
	"neopilot/ignore"
	"neopilot/logger"
	"neopilot/metrics"
	"neopilot/notify"
	"neopilot/provider"
	"neopilot/tokens"
	"neopilot/trigger"
	"neopilot/types"

	"github.com/neovim/go-client/nvim"
	"golang.org/x/sync/errgroup"
)

// idle check interval when immediate shutdown is enabled for debugging
const debugIdleCheck = time.Second

type Daemon struct {
	config      config.Config
	provider    engine.Provider
	cache       *cache.Cache
	counter     *tokens.Tiktoken
	matcher     *ignore.Matcher
	metrics     *metrics.Tracker
	sessionsMu  sync.Mutex
	sessions    map[*session]struct{}
	listener    net.Listener
	httpServer  *http.Server
	socketPath  string
	pidPath     string
	ignorePath  string
	clientCount int64
	stopOnce    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewDaemon(cfg config.Config) (*Daemon, error) {
	counter := tokens.NewTiktoken(tokens.DefaultEncoding)

	prov, err := provider.NewProvider(types.ProviderType(cfg.Provider), cfg.ProviderConfig(), counter)
	if err != nil {
		return nil, err
	}

	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ignorePath := cfg.IgnoreFile
	if ignorePath != "" && !filepath.IsAbs(ignorePath) {
		ignorePath = filepath.Join(root, ignorePath)
	}

	suggestions := cache.New(cache.Config{
		TTL:           cfg.CacheTTLDuration(),
		CapacityBytes: cfg.CacheCapacity,
	}, clock.Real)

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     cfg,
		provider:   prov,
		cache:      suggestions,
		counter:    counter,
		matcher:    ignore.NewMatcher(root),
		metrics:    metrics.NewTracker(),
		sessions:   make(map[*session]struct{}),
		socketPath: runtimePath("neopilot.sock"),
		pidPath:    runtimePath("neopilot.pid"),
		ignorePath: ignorePath,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// session is one attached editor. Buffer numbers are only unique within an editor,
// so every connection gets its own engine and error dedup while the cache, provider
// and metrics are shared.
type session struct {
	engine   *engine.Engine
	notifier *notify.Notifier
}

// newSession builds the engine for one editor. The caller starts it.
func (d *Daemon) newSession(ed engine.Editor, sink notify.Sink) (*session, error) {
	notifier := notify.New(sink)
	eng, err := engine.NewEngine(d.provider, ed, engine.EngineConfig{
		Trigger: trigger.Config{
			Debounce:        d.config.DebounceDuration(),
			Throttle:        d.config.ThrottleDuration(),
			ColumnTolerance: d.config.ColumnTolerance,
		},
		CompletionTimeout:   d.config.CompletionTimeoutDuration(),
		MinChars:            d.config.MinChars,
		AcceptKey:           d.config.Keys.Accept,
		NativeCompletionKey: d.config.Keys.NativeCompletion,
	}, engine.Options{
		Cache:    d.cache,
		Metrics:  d.metrics,
		Notifier: notifier,
		Ignore:   d.matcher,
	})
	if err != nil {
		notifier.Close()
		return nil, err
	}

	s := &session{engine: eng, notifier: notifier}
	d.sessionsMu.Lock()
	d.sessions[s] = struct{}{}
	d.sessionsMu.Unlock()
	return s, nil
}

func (d *Daemon) closeSession(s *session) {
	d.sessionsMu.Lock()
	_, ok := d.sessions[s]
	delete(d.sessions, s)
	d.sessionsMu.Unlock()
	if !ok {
		return
	}
	s.engine.Stop()
	s.notifier.Close()
}

func (d *Daemon) Start() error {
	// Setup socket before the PID file so clients never see a daemon without one
	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	d.writePidFile()
	defer d.removePidFile()

	log.Printf("daemon listening on socket: %s", d.socketPath)

	d.prepare()

	if d.ignorePath != "" {
		go func() {
			if err := d.matcher.Watch(d.ctx, d.ignorePath); err != nil {
				logger.Warn("ignore file watcher stopped: %v", err)
			}
		}()
	}

	d.startMetricsServer()

	// Setup shutdown handling
	d.setupShutdownHandling()

	// Start connection handling
	go d.acceptConnections()

	// Start idle monitoring
	go d.monitorIdleShutdown()

	// Wait for shutdown
	<-d.ctx.Done()
	log.Printf("daemon shutting down...")
	return nil
}

// prepare loads the tokenizer and the ignore file in parallel. Neither failure is
// fatal: counting falls back to the estimator and a broken ignore file ignores nothing.
func (d *Daemon) prepare() {
	var g errgroup.Group
	g.Go(func() error {
		if err := d.counter.Warm(); err != nil {
			logger.Warn("tokenizer unavailable, estimating token counts: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		if d.ignorePath == "" {
			return nil
		}
		return d.matcher.LoadFile(d.ignorePath)
	})
	if err := g.Wait(); err != nil {
		logger.Warn("%v", err)
	}
}

func (d *Daemon) setupSocket() error {
	// Remove existing socket
	os.Remove(d.socketPath)

	// Listen on Unix socket
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) startMetricsServer() {
	if d.config.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.httpServer = &http.Server{Addr: d.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("metrics listening on %s", d.config.MetricsAddr)
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("received shutdown signal")
		d.Stop()
	}()
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return // Server is shutting down
			default:
				log.Printf("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		log.Printf("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		log.Printf("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	// Create Neovim client from the connection
	n, err := nvim.New(conn, conn, conn, log.Printf)
	if err != nil {
		log.Printf("error creating nvim client: %v", err)
		return
	}

	nb := buffer.New(buffer.Config{NsID: d.config.NsID})
	if err := nb.SetClient(n); err != nil {
		log.Printf("error setting nvim client: %v", err)
		return
	}
	s, err := d.newSession(nb, nb.Notify)
	if err != nil {
		log.Printf("error creating session: %v", err)
		return
	}
	defer d.closeSession(s)

	if err := nb.Handle(buffer.MethodStats, s.stats); err != nil {
		log.Printf("error registering handlers: %v", err)
		return
	}
	if err := nb.Handle(buffer.MethodKeys, d.keys); err != nil {
		log.Printf("error registering handlers: %v", err)
		return
	}
	if err := s.engine.Start(d.ctx); err != nil {
		log.Printf("error starting engine: %v", err)
		return
	}

	// Serve this connection until it closes or context is done
	select {
	case <-d.ctx.Done():
		return
	default:
		if err := n.Serve(); err != nil && err != io.EOF {
			log.Printf("error serving connection: %v", err)
		}
	}
}

// stats answers the neopilot_stats request of one editor
func (s *session) stats(_ *nvim.Nvim) (map[string]int64, error) {
	st := s.engine.Stats()
	return map[string]int64{
		"buffers":        int64(st.Buffers),
		"cache_entries":  int64(st.Cache.Count),
		"cache_bytes":    st.Cache.SizeBytes,
		"cache_capacity": st.Cache.CapacityBytes,
	}, nil
}

// keys answers the neopilot_keys request; the plugin installs its mappings from it
func (d *Daemon) keys(_ *nvim.Nvim) (map[string]string, error) {
	k := d.config.Keys
	return map[string]string{
		"accept":            k.Accept,
		"accept_word":       k.AcceptWord,
		"next":              k.Next,
		"prev":              k.Prev,
		"dismiss":           k.Dismiss,
		"native_completion": k.NativeCompletion,
	}, nil
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.config.DebugImmediateShutdown {
		ticker := time.NewTicker(debugIdleCheck)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("debug mode: no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	}

	idle := d.config.IdleShutdownDuration()
	if idle <= 0 {
		return
	}

	// Shut down once no client has been connected for a whole idle period
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-idleTimer.C:
			if atomic.LoadInt64(&d.clientCount) == 0 {
				log.Printf("no clients connected for %v, shutting down daemon", idle)
				d.Stop()
				return
			}
			idleTimer.Reset(idle)
		}
	}
}

func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.sessionsMu.Lock()
		sessions := make([]*session, 0, len(d.sessions))
		for s := range d.sessions {
			sessions = append(sessions, s)
		}
		d.sessionsMu.Unlock()
		for _, s := range sessions {
			d.closeSession(s)
		}
		if d.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			d.httpServer.Shutdown(ctx)
		}
		if d.listener != nil {
			d.listener.Close()
		}
		d.cancel()
	})
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		log.Printf("warning: could not write PID file: %v", err)
	}
	log.Printf("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not remove PID file: %v", err)
	}
}
