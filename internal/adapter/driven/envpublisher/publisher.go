// Package envpublisher implements the ActivePublisher port by mirroring the
// active credential into the user's shell environment.
package envpublisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmaloy/keydeck/internal/domain/port/driven"
)

// EnvVar is the environment variable the Factory tooling reads its key from.
const EnvVar = "FACTORY_API_KEY"

// readOrder lists the rc files scanned when the variable is not in the
// process environment. Order matters: first hit wins.
var readOrder = []string{".zshrc", ".bashrc", ".bash_profile", ".profile"}

// Compile-time interface satisfaction check.
var _ driven.ActivePublisher = (*Publisher)(nil)

// Publisher durably sets FACTORY_API_KEY by rewriting the export line in the
// user's shell rc file, and reads the currently configured value back from the
// process environment or the rc files.
type Publisher struct {
	home  string
	shell string
}

// NewPublisher creates a Publisher for the current user's home directory and
// login shell.
func NewPublisher() (*Publisher, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return &Publisher{home: home, shell: os.Getenv("SHELL")}, nil
}

// NewPublisherAt creates a Publisher rooted at an explicit home directory and
// shell name. Intended for tests.
func NewPublisherAt(home, shell string) *Publisher {
	return &Publisher{home: home, shell: shell}
}

// ReadActive returns the credential the environment is configured with: the
// process environment first, then the first export line found in the rc files.
// Returns "" when nothing is configured.
func (p *Publisher) ReadActive(_ context.Context) (string, error) {
	if v := os.Getenv(EnvVar); v != "" {
		return v, nil
	}

	for _, name := range readOrder {
		path := filepath.Join(p.home, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("reading %s: %w", name, err)
		}
		if v := findExport(string(content)); v != "" {
			return v, nil
		}
	}

	return "", nil
}

// PublishActive rewrites (or appends) the export line in the rc file matching
// the user's shell, then updates the process environment so the new value is
// visible to this process immediately.
func (p *Publisher) PublishActive(_ context.Context, credential string) error {
	path := filepath.Join(p.home, p.rcFile())
	exportLine := fmt.Sprintf("export %s=%q", EnvVar, credential)

	var content string
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	lines := strings.Split(content, "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, "export "+EnvVar+"=") {
			lines[i] = exportLine
			replaced = true
		}
	}

	if replaced {
		content = strings.Join(lines, "\n")
	} else {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += exportLine + "\n"
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}

	if err := os.Setenv(EnvVar, credential); err != nil {
		return fmt.Errorf("setting %s: %w", EnvVar, err)
	}
	return nil
}

// rcFile picks the rc file for the user's shell; zsh and bash get their own,
// everything else falls back to .profile.
func (p *Publisher) rcFile() string {
	switch {
	case strings.Contains(p.shell, "zsh"):
		return ".zshrc"
	case strings.Contains(p.shell, "bash"):
		return ".bashrc"
	default:
		return ".profile"
	}
}

// findExport scans file content for an export line and returns its unquoted
// value, or "" when no line matches.
func findExport(content string) string {
	for _, line := range strings.Split(content, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "export "+EnvVar+"=")
		if !ok {
			continue
		}
		rest = strings.Trim(rest, `"'`)
		if rest != "" {
			return rest
		}
	}
	return ""
}
