package media

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Local keeps objects in a directory on disk.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal returns a Local store rooted at dir, creating it if needed. URLs
// are baseURL joined with the object key.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(l.dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("media key %q escapes store dir", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}
	return l.baseURL + "/" + key, nil
}

// Handler serves stored objects under the store's base URL path.
func (l *Local) Handler() http.Handler {
	return http.StripPrefix(l.baseURL+"/", http.FileServer(http.Dir(l.dir)))
}

// Prefix is the URL path the Handler expects to be mounted at.
func (l *Local) Prefix() string { return l.baseURL + "/" }
