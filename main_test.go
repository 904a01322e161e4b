package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	response := filepath.Join(dir, "response.txt")
	buf := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(response, []byte("```json\n[{\"content\":\"b := 2\",\"startRow\":2,\"endRow\":2}]\n```"), 0o644))
	require.NoError(t, os.WriteFile(buf, []byte("a := 1\nb\n"), 0o644))

	out, err := run(t, "parse", response, "--buffer", buf)
	require.NoError(t, err)

	var sets []struct {
		Items []struct {
			Content  string
			StartRow int
			EndRow   int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sets))
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Items, 1)
	assert.Equal(t, "b := 2", sets[0].Items[0].Content)
	assert.Equal(t, 2, sets[0].Items[0].StartRow)
}

func TestParseCommandRejectsUndecodableResponse(t *testing.T) {
	response := filepath.Join(t.TempDir(), "response.txt")
	require.NoError(t, os.WriteFile(response, []byte("no suggestions here"), 0o644))

	_, err := run(t, "parse", response)
	assert.Error(t, err)
}

func TestParseCommandRequiresFile(t *testing.T) {
	_, err := run(t, "parse")
	assert.Error(t, err)
}
