// Package ignore decides which files never get suggestions. Patterns come from a
// .neopilotignore file at the workspace root, reloaded when the file changes.
package ignore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"neopilot/logger"

	"github.com/fsnotify/fsnotify"
)

// FileName is the ignore file looked up in the workspace root
const FileName = ".neopilotignore"

type pattern struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool // contains a slash: matched against the whole relative path
}

// Matcher holds the active patterns. It is safe for concurrent use.
type Matcher struct {
	mu       sync.RWMutex
	root     string
	raw      []string
	patterns []pattern
}

// NewMatcher creates an empty matcher for paths below root
func NewMatcher(root string) *Matcher {
	return &Matcher{root: root}
}

// Set replaces the active patterns. Blank lines and # comments are skipped.
func (m *Matcher) Set(lines []string) {
	var raw []string
	var compiled []pattern
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, line)
		compiled = append(compiled, compile(line))
	}

	m.mu.Lock()
	m.raw = raw
	m.patterns = compiled
	m.mu.Unlock()
}

// Patterns returns the active patterns as written
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.raw...)
}

func compile(line string) pattern {
	p := pattern{}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	p.glob = line
	return p
}

// Match reports whether path is ignored. The last matching pattern wins, so a
// later "!pattern" re-includes a path.
func (m *Matcher) Match(path string) bool {
	if path == "" {
		return false
	}
	rel := m.relative(path)
	if rel == "" {
		return false
	}
	segments := strings.Split(rel, "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, p := range m.patterns {
		if p.matches(rel, segments) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (m *Matcher) relative(path string) string {
	if m.root != "" && filepath.IsAbs(path) {
		rel, err := filepath.Rel(m.root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return ""
		}
		path = rel
	}
	return filepath.ToSlash(path)
}

func (p pattern) matches(rel string, segments []string) bool {
	if p.anchored {
		// the pattern may name the file itself or one of its parent directories
		for i := len(segments); i > 0; i-- {
			if p.dirOnly && i == len(segments) {
				continue
			}
			if ok, _ := filepath.Match(p.glob, strings.Join(segments[:i], "/")); ok {
				return true
			}
		}
		return false
	}
	for i, seg := range segments {
		if p.dirOnly && i == len(segments)-1 {
			break
		}
		if ok, _ := filepath.Match(p.glob, seg); ok {
			return true
		}
	}
	return false
}

// LoadFile reads patterns from path. A missing file clears the matcher.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		m.Set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}
	m.Set(lines)
	logger.Debug("ignore: loaded %d patterns from %s", len(m.Patterns()), path)
	return nil
}

// Watch reloads the ignore file whenever it is written, created, removed or renamed.
// It watches the file's directory so the file may appear after Watch starts.
// Watch blocks until ctx is done.
func (m *Matcher) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := m.LoadFile(path); err != nil {
				logger.Warn("ignore: reload failed: %v", err)
				continue
			}
			logger.Info("ignore: reloaded %s (%s)", path, event.Op)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("ignore: watcher error: %v", err)
		}
	}
}
