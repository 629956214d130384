// Package ingest stores uploaded documents and classifies them against
// earlier uploads in the same project by content hash and filename.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/blob"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/store"
)

// ErrInvalidUpload is returned for uploads missing required metadata.
var ErrInvalidUpload = errors.New("invalid upload")

// Upload is one incoming file.
type Upload struct {
	ProjectID string
	Filename  string
	DocType   model.DocType
	Data      []byte
}

// Result is the outcome of an upload. For a duplicate, Document is the
// existing row and nothing new is stored.
type Result struct {
	Document  *model.Document       `json:"document"`
	Collision model.CollisionStatus `json:"collision"`
	// Matches are earlier documents sharing the content hash.
	Matches []model.Document `json:"matches,omitempty"`
}

// Service ingests uploads.
type Service struct {
	store store.Store
	blobs blob.Store
}

// New creates an ingest Service.
func New(st store.Store, blobs blob.Store) *Service {
	return &Service{store: st, blobs: blobs}
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ingest classifies and stores an upload:
//   - same hash and filename as an existing document: duplicate, existing returned
//   - same hash under a different filename: stored and flagged possible_duplicate
//   - same filename with new content: stored as the next version of it
func (s *Service) Ingest(ctx context.Context, up Upload) (*Result, error) {
	if up.ProjectID == "" {
		return nil, eris.Wrap(ErrInvalidUpload, "ingest: project id is required")
	}
	if !up.DocType.Valid() {
		return nil, eris.Wrapf(ErrInvalidUpload, "ingest: unsupported document type %q", up.DocType)
	}
	ft := model.FileTypeFromName(up.Filename)
	if ft == "" {
		return nil, model.NewParseError(ft, "unsupported file extension: "+up.Filename, nil)
	}
	if len(up.Data) == 0 {
		return nil, model.NewParseError(ft, "empty file", nil)
	}

	hash := ContentHash(up.Data)
	log := zap.L().With(
		zap.String("project_id", up.ProjectID),
		zap.String("filename", up.Filename),
		zap.String("content_hash", hash[:12]),
	)

	matches, err := s.store.FindByHash(ctx, up.ProjectID, hash)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: find by hash")
	}
	for i := range matches {
		if matches[i].Filename == up.Filename {
			log.Info("ingest: duplicate upload", zap.String("document_id", matches[i].ID))
			return &Result{Document: &matches[i], Collision: model.CollisionDuplicate, Matches: matches}, nil
		}
	}

	doc := &model.Document{
		ProjectID:    up.ProjectID,
		Filename:     up.Filename,
		FileType:     ft,
		DocType:      up.DocType,
		ContentHash:  hash,
		SizeBytes:    int64(len(up.Data)),
		Version:      1,
		Collision:    model.CollisionNone,
		ReviewStatus: model.ReviewPending,
	}

	if len(matches) > 0 {
		doc.Collision = model.CollisionPossibleDuplicate
	} else {
		prev, err := s.store.LatestByFilename(ctx, up.ProjectID, up.Filename)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: latest by filename")
		}
		if prev != nil {
			doc.Version = prev.Version + 1
			doc.ParentID = prev.ID
			doc.Collision = model.CollisionNewVersion
		}
	}

	uri, err := s.blobs.Put(ctx, up.Filename, up.Data)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: store bytes")
	}
	doc.StorageURI = uri

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, eris.Wrap(err, "ingest: create document")
	}
	log.Info("ingest: stored document",
		zap.String("document_id", doc.ID),
		zap.String("collision", string(doc.Collision)),
		zap.Int("version", doc.Version),
	)
	return &Result{Document: doc, Collision: doc.Collision, Matches: matches}, nil
}
