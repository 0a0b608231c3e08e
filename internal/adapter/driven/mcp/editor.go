// Package mcp reads and writes the Factory MCP server configuration file.
// It is deliberately independent of key state: the panel edits this file, the
// key service never touches it.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultContent is returned when the config file does not exist yet.
const DefaultContent = `{"mcpServers": {}}`

const fileName = "mcp.json"

// Editor reads and saves the MCP config under the Factory settings directory.
type Editor struct {
	dir string
}

// NewEditor creates an Editor over ~/.factory.
func NewEditor() (*Editor, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return &Editor{dir: filepath.Join(home, ".factory")}, nil
}

// NewEditorAt creates an Editor over an explicit directory. Intended for tests.
func NewEditorAt(dir string) *Editor {
	return &Editor{dir: dir}
}

// Read returns the config file content, or DefaultContent when the file does
// not exist.
func (e *Editor) Read() (string, error) {
	data, err := os.ReadFile(filepath.Join(e.dir, fileName))
	if os.IsNotExist(err) {
		return DefaultContent, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading mcp config: %w", err)
	}
	return string(data), nil
}

// Save validates content as JSON, pretty-prints it with two-space indentation,
// and writes it out, creating the settings directory if needed.
func (e *Editor) Save(content string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(content), "", "  "); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(e.dir, fileName), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing mcp config: %w", err)
	}
	return nil
}
