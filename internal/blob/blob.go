// Package blob stores raw document bytes addressed by a stable URI.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landscaper/internal/config"
)

// Store is the object storage collaborator.
type Store interface {
	// Put stores data under a content-derived key and returns its URI.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Get returns the bytes stored at uri.
	Get(ctx context.Context, uri string) ([]byte, error)
}

// New returns the Store selected by cfg.Driver.
func New(cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "file", "":
		return NewFileStore(cfg.Root)
	case "ftp":
		return NewFTPStore(FTPOptions{
			URL:      cfg.FTPURL,
			User:     cfg.FTPUser,
			Password: cfg.FTPPassword,
			Timeout:  time.Duration(cfg.TimeoutSecs) * time.Second,
		})
	default:
		return nil, eris.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

// objectKey shards by content hash so identical uploads share storage and
// names never collide.
func objectKey(name string, data []byte) string {
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])
	return path.Join(h[:2], h[2:16]+"-"+safeName(name))
}

func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 || name == "." || name == "/" {
		return "document"
	}
	return b.String()
}
