// Package services wires repositories, the content cache, and the remote
// store client into the application's use cases: ingesting documents,
// uploading them in the background, reconciling local state against the
// remote listing, and keeping filestore statistics current.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/dmitrijs2005/fsmirror/internal/cache"
	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/config"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/metrics"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// Waker pokes the upload worker after new documents are queued. A nil waker
// is allowed; the worker then picks queued documents up on its next tick.
type Waker interface {
	Wake()
}

// IngestInput describes one document handed to Ingest. Body is consumed
// exactly once.
type IngestInput struct {
	FilestoreID int64
	User        *string
	DisplayName string
	Category    *string
	Tags        map[string]float64
	Metadata    map[string]any
	Ref         *string
	Body        io.Reader
}

// IngestionService accepts documents, persists their content in the cache,
// and queues them for upload.
type IngestionService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	cache         cache.Store
	client        gemini.Client
	metrics       *metrics.Metrics
	logger        logging.Logger
	waker         Waker
	mimeOverrides map[string]string
}

func NewIngestionService(db *sql.DB, repomanager repomanager.RepositoryManager, cache cache.Store, client gemini.Client, cfg *config.Config, m *metrics.Metrics, logger logging.Logger, waker Waker) *IngestionService {
	return &IngestionService{
		db:            db,
		repomanager:   repomanager,
		cache:         cache,
		client:        client,
		metrics:       m,
		logger:        logger,
		waker:         waker,
		mimeOverrides: cfg.MimeOverrides(),
	}
}

// Ingest stores the content, replaces any earlier document with the same
// content hash in the filestore, and queues the new record for upload.
// Re-ingesting identical content is therefore idempotent apart from the
// queued re-upload: when two ingestions of the same content race, the last
// writer's record wins.
func (s *IngestionService) Ingest(ctx context.Context, in *IngestInput) (*models.Document, error) {
	if in.DisplayName == "" {
		return nil, fmt.Errorf("%w: display name is required", common.ErrInvalidInput)
	}
	if in.Body == nil {
		return nil, fmt.Errorf("%w: document body is required", common.ErrInvalidInput)
	}

	fs, err := s.repomanager.Filestores(s.db).GetByID(ctx, in.FilestoreID, in.User)
	if err != nil {
		return nil, err
	}

	put, err := s.cache.Put(ctx, in.DisplayName, in.Body)
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	docRepo := s.repomanager.Documents(s.db)
	prev, err := docRepo.FindByHash(ctx, fs.ID, put.Hash, in.User)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if prev != nil && prev.Name != "" {
		// The remote copy belongs to the record being replaced. Remove it so
		// the re-upload does not leave two remote documents for one content.
		if derr := s.client.DeleteDocument(ctx, prev.Name); derr != nil {
			s.logger.Warn(ctx, "remove superseded remote document", "document", prev.ID, "name", prev.Name, "error", derr)
		}
	}

	doc := &models.Document{
		FilestoreID: fs.ID,
		User:        in.User,
		Filename:    cache.Filename(put.Hash, in.DisplayName),
		URL:         cache.URL(put.RelPath),
		Hash:        put.Hash,
		Size:        put.Size,
		DisplayName: in.DisplayName,
		MimeType:    resolveMimeType(in.DisplayName, s.mimeOverrides),
		Category:    in.Category,
		Tags:        in.Tags,
		Metadata:    in.Metadata,
		Ref:         in.Ref,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txDocs := s.repomanager.Documents(tx)
		if _, err := txDocs.DeleteByHash(ctx, fs.ID, put.Hash, in.User); err != nil {
			return err
		}
		if err := txDocs.Create(ctx, doc); err != nil {
			return err
		}
		return s.repomanager.Filestores(tx).RecomputeStats(ctx, fs.ID)
	})
	if err != nil {
		return nil, err
	}

	result := "created"
	if prev != nil {
		result = "duplicate"
	}
	s.metrics.DocumentsIngested.WithLabelValues(result).Inc()

	if s.waker != nil {
		s.waker.Wake()
	}
	s.logger.Info(ctx, "document ingested", "document", doc.ID, "filestore", fs.ID, "hash", doc.Hash, "size", doc.Size, "replaced", prev != nil)
	return doc, nil
}

// resolveMimeType picks the MIME type recorded at ingest time: the configured
// override for the file extension when one exists, the stdlib extension table
// otherwise. Parameters like "; charset=utf-8" are stripped. Unknown
// extensions yield an empty type, which the remote store resolves itself.
func resolveMimeType(displayName string, overrides map[string]string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(displayName), "."))
	if ext == "" {
		return ""
	}
	if mt, ok := overrides[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		return ""
	}
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
