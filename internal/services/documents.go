package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fsmirror/internal/cache"
	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// DocumentService reads and removes documents. Writing goes through the
// IngestionService, upload outcomes through the UploadWorker.
type DocumentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cache       cache.Store
	client      gemini.Client
	logger      logging.Logger
}

func NewDocumentService(db *sql.DB, repomanager repomanager.RepositoryManager, cache cache.Store, client gemini.Client, logger logging.Logger) *DocumentService {
	return &DocumentService{
		db:          db,
		repomanager: repomanager,
		cache:       cache,
		client:      client,
		logger:      logger,
	}
}

// List returns documents matching the query.
func (s *DocumentService) List(ctx context.Context, q *documents.Query) ([]*models.Document, error) {
	return s.repomanager.Documents(s.db).List(ctx, q)
}

// Get returns one document in the caller's scope.
func (s *DocumentService) Get(ctx context.Context, id int64, user *string) (*models.Document, error) {
	return s.repomanager.Documents(s.db).GetByID(ctx, id, user)
}

// Open returns the document record together with its cached content.
func (s *DocumentService) Open(ctx context.Context, id int64, user *string) (*models.Document, io.ReadCloser, error) {
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, id, user)
	if err != nil {
		return nil, nil, err
	}
	rel, ok := cache.RelPathFromURL(doc.URL)
	if !ok {
		return nil, nil, fmt.Errorf("%w: document %d has no cached content", common.ErrNotFound, id)
	}
	rc, err := s.cache.Open(ctx, rel)
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// Categories aggregates the filestore's documents per category after
// checking the filestore is in the caller's scope.
func (s *DocumentService) Categories(ctx context.Context, filestoreID int64, user *string) ([]*models.CategoryCount, error) {
	if _, err := s.repomanager.Filestores(s.db).GetByID(ctx, filestoreID, user); err != nil {
		return nil, err
	}
	return s.repomanager.Documents(s.db).Categories(ctx, filestoreID, user)
}

// Delete removes the remote copy first, then the local record, and refreshes
// the filestore counters. The cached content blob stays; other documents may
// share it.
func (s *DocumentService) Delete(ctx context.Context, id int64, user *string) error {
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, id, user)
	if err != nil {
		return err
	}
	if doc.Name != "" {
		if err := s.client.DeleteDocument(ctx, doc.Name); err != nil {
			return err
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Documents(tx).Delete(ctx, id, user); err != nil {
			return err
		}
		return s.repomanager.Filestores(tx).RecomputeStats(ctx, doc.FilestoreID)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "document deleted", "document", id, "filestore", doc.FilestoreID)
	return nil
}
