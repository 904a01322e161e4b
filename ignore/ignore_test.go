package ignore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	m := NewMatcher("/work")
	m.Set([]string{
		"# secrets",
		"",
		"*.env",
		"vendor/",
		"/gen/*.pb.go",
		"!keep.env",
	})

	tests := []struct {
		path    string
		ignored bool
	}{
		{"/work/prod.env", true},
		{"/work/config/dev.env", true},
		{"/work/keep.env", false},
		{"/work/vendor/lib/a.go", true},
		{"/work/vendor", false},
		{"/work/gen/api.pb.go", true},
		{"/work/other/gen/api.pb.go", false},
		{"/work/main.go", false},
		{"/elsewhere/prod.env", false},
		{"relative/x.env", true},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, m.Match(tt.path))
		})
	}
}

func TestPatternsSkipsComments(t *testing.T) {
	m := NewMatcher("")
	m.Set([]string{"# comment", "  *.log  ", ""})
	assert.Equal(t, []string{"*.log"}, m.Patterns())
}

func TestLoadFileMissingClears(t *testing.T) {
	m := NewMatcher("")
	m.Set([]string{"*.log"})

	require.NoError(t, m.LoadFile(filepath.Join(t.TempDir(), FileName)))
	assert.Empty(t, m.Patterns())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("*.secret\nbuild/\n"), 0644))

	m := NewMatcher(dir)
	require.NoError(t, m.LoadFile(path))

	assert.Equal(t, []string{"*.secret", "build/"}, m.Patterns())
	assert.True(t, m.Match(filepath.Join(dir, "a.secret")))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	m := NewMatcher(dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, path) }()

	// keep rewriting until the watcher is registered and picks the file up
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("*.tmp\n"), 0644)
		return m.Match(filepath.Join(dir, "x.tmp"))
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
