package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvMapping(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		cred   string
		envKey string
	}{
		{"plain", "", "TOKEN", "TOKEN"},
		{"lowercased with dash", "", "gmail-token", "GMAIL_TOKEN"},
		{"dots become underscores", "", "api.key", "API_KEY"},
		{"prefixed", "HIVEMAIL", "gmail-token", "HIVEMAIL_GMAIL_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, "secret-value")
			got, err := Env{Prefix: tt.prefix}.Get(context.Background(), tt.cred)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got != "secret-value" {
				t.Errorf("Get = %q", got)
			}
		})
	}
}

func TestEnvNotFound(t *testing.T) {
	_, err := Env{}.Get(context.Background(), "definitely-unset-credential")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDirGet(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gmail-token"), []byte("secret-value\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Dir{Path: dir}.Get(context.Background(), "gmail-token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "secret-value" {
		t.Errorf("Get = %q, want trailing whitespace trimmed", got)
	}
}

func TestDirNotFound(t *testing.T) {
	_, err := Dir{Path: t.TempDir()}.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDirRejectsTraversal(t *testing.T) {
	d := Dir{Path: t.TempDir()}
	for _, name := range []string{"../etc/passwd", "a/b", ".."} {
		if _, err := d.Get(context.Background(), name); err == nil {
			t.Errorf("Get(%q) accepted a traversing name", name)
		}
	}
}

func TestStatic(t *testing.T) {
	s := Static{"token": "value"}
	got, err := s.Get(context.Background(), "token")
	if err != nil || got != "value" {
		t.Errorf("Get = %q, %v", got, err)
	}
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}
