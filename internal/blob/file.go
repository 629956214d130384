package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileStore keeps blobs on the local filesystem under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, eris.New("blob: file store requires blob.root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: resolve root %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", abs)
	}
	return &FileStore{root: abs}, nil
}

// Put writes data atomically via a temp file and rename.
func (s *FileStore) Put(_ context.Context, name string, data []byte) (string, error) {
	key := objectKey(name, data)
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", eris.Wrap(err, "blob: create shard dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", eris.Wrap(err, "blob: create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", eris.Wrap(err, "blob: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", eris.Wrap(err, "blob: close temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", eris.Wrap(err, "blob: rename into place")
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

// Get reads a file:// URI. Paths outside the root are rejected.
func (s *FileStore) Get(_ context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: parse uri %s", uri)
	}
	if u.Scheme != "file" {
		return nil, eris.Errorf("blob: expected file scheme, got %q", u.Scheme)
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return nil, eris.Errorf("blob: %s is outside the store root", uri)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", uri)
	}
	return data, nil
}
