// Package credentials provides read-only access to secret material for
// external collaborators. Values are fetched on demand, held only for the
// duration of the call that needs them, and never logged or persisted.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a named credential does not exist.
var ErrNotFound = errors.New("credential not found")

// Provider resolves a named credential to its secret material.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// Env resolves credentials from environment variables. The name is
// uppercased and non-alphanumerics become underscores, with an optional
// prefix: with prefix "HIVEMAIL", "gmail-token" reads HIVEMAIL_GMAIL_TOKEN.
type Env struct {
	Prefix string
}

func (e Env) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(name)
	key = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, key)
	if e.Prefix != "" {
		key = e.Prefix + "_" + key
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return val, nil
}

// Dir resolves credentials from files in a directory, one file per
// credential name. Trailing whitespace is trimmed. This matches the
// mounted-secrets layout used by most container schedulers.
type Dir struct {
	Path string
}

func (d Dir) Get(_ context.Context, name string) (string, error) {
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid credential name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(d.Path, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Static resolves credentials from an in-memory map. Test use only.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	val, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return val, nil
}
