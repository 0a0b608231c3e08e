package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_MissingFileReturnsDefault(t *testing.T) {
	e := NewEditorAt(filepath.Join(t.TempDir(), ".factory"))

	got, err := e.Read()
	require.NoError(t, err)
	assert.Equal(t, DefaultContent, got)
}

func TestSave_PrettyPrintsAndCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".factory")
	e := NewEditorAt(dir)

	err := e.Save(`{"mcpServers":{"local":{"command":"mcp-run"}}}`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "mcp.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"mcpServers\": {\n    \"local\": {\n      \"command\": \"mcp-run\"\n    }\n  }\n}\n", string(data))
}

func TestSave_RejectsInvalidJSON(t *testing.T) {
	e := NewEditorAt(t.TempDir())

	err := e.Save(`{"mcpServers": `)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid json")
}

func TestRoundTrip(t *testing.T) {
	e := NewEditorAt(t.TempDir())

	require.NoError(t, e.Save(`{"mcpServers": {}}`))

	got, err := e.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"mcpServers": {}}`, got)
}
