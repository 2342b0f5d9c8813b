package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fsmirror/internal/cache"
	"github.com/dmitrijs2005/fsmirror/internal/config"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/metrics"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// uploadConcurrency bounds parallel uploads within one claimed batch.
const uploadConcurrency = 4

// UploadWorker drains the upload queue: it claims batches of pending
// documents oldest first, streams their cached content to the remote store,
// polls each upload operation to completion, and records the outcome on the
// document. Claims survive restarts in the database; claims orphaned by a
// crash are released again after a stale-age cutoff.
type UploadWorker struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cache       cache.Store
	client      gemini.Client
	config      *config.Config
	metrics     *metrics.Metrics
	logger      logging.Logger
	wake        chan struct{}
}

func NewUploadWorker(db *sql.DB, repomanager repomanager.RepositoryManager, cache cache.Store, client gemini.Client, cfg *config.Config, m *metrics.Metrics, logger logging.Logger) *UploadWorker {
	return &UploadWorker{
		db:          db,
		repomanager: repomanager,
		cache:       cache,
		client:      client,
		config:      cfg,
		metrics:     m,
		logger:      logger,
		wake:        make(chan struct{}, 1),
	}
}

// Wake nudges the worker out of its idle wait. It never blocks; a wake-up
// arriving while one is already queued folds into it.
func (w *UploadWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the worker until ctx is cancelled. Each activation first
// releases stale claims, then drains the queue batch by batch, then sleeps
// until the next tick or wake-up.
func (w *UploadWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info(ctx, "upload worker started",
		"batchSize", w.config.UploadBatchSize, "pollInterval", w.config.PollInterval)

	for {
		w.releaseStale(ctx)

		for {
			n, err := w.ProcessBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					w.logger.Info(ctx, "upload worker stopped")
					return
				}
				w.logger.Error(ctx, "process upload batch", "error", err)
				break
			}
			if n == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "upload worker stopped")
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// staleClaimAge is how long a claim may stay open without an outcome before
// it is treated as orphaned by a crashed run. It covers the full polling
// budget of one upload with room to spare.
func (w *UploadWorker) staleClaimAge() time.Duration {
	age := w.config.PollInterval * time.Duration(w.config.MaxPollAttempts+2)
	if age < time.Hour {
		age = time.Hour
	}
	return age
}

func (w *UploadWorker) releaseStale(ctx context.Context) {
	n, err := w.repomanager.Documents(w.db).ReleaseStale(ctx, w.staleClaimAge())
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error(ctx, "release stale claims", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Warn(ctx, "released stale upload claims", "count", n)
	}
}

// ProcessBatch claims up to the configured batch size of pending documents
// and uploads them, a few at a time. One document's failure is recorded on
// that document alone and never aborts the rest of the batch. It returns the
// number of documents claimed; zero means the queue is drained.
func (w *UploadWorker) ProcessBatch(ctx context.Context) (int, error) {
	batch, err := w.repomanager.Documents(w.db).Claim(ctx, w.config.UploadBatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	w.metrics.UploadBatches.Inc()
	w.logger.Info(ctx, "upload batch claimed", "count", len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, doc := range batch {
		g.Go(func() error {
			w.processDocument(gctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	w.refreshFilestores(ctx, batch)
	return len(batch), nil
}

// processDocument drives one claimed document to a terminal outcome: the
// remote identity recorded on success, a human-readable reason on failure.
func (w *UploadWorker) processDocument(ctx context.Context, doc *models.Document) {
	docRepo := w.repomanager.Documents(w.db)

	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if err := docRepo.MarkFailed(ctx, doc.ID, msg); err != nil {
			w.logger.Error(ctx, "record upload failure", "document", doc.ID, "error", err)
		}
		w.metrics.Uploads.WithLabelValues("failed").Inc()
		w.logger.Error(ctx, "document upload failed", "document", doc.ID, "reason", msg)
	}

	fs, err := w.repomanager.Filestores(w.db).GetByID(ctx, doc.FilestoreID, doc.User)
	if err != nil {
		fail("load filestore: %v", err)
		return
	}
	if fs.Name == "" {
		fail("filestore %d has no remote store", fs.ID)
		return
	}

	rel, ok := cache.RelPathFromURL(doc.URL)
	if !ok {
		fail("document url %q is not a cache path", doc.URL)
		return
	}
	body, err := w.cache.Open(ctx, rel)
	if err != nil {
		fail("open cached content: %v", err)
		return
	}
	defer body.Close()

	op, err := w.client.Upload(ctx, fs.Name, gemini.UploadRequest{
		DisplayName:    doc.DisplayName,
		MimeType:       uploadMimeType(doc.MimeType),
		CustomMetadata: models.UploadMetadata(doc.ID, doc.Hash, doc.Category),
		Body:           body,
	})
	if err != nil {
		fail("upload: %v", err)
		return
	}

	op, err = gemini.Await(ctx, w.client, op, w.config.PollInterval, w.config.MaxPollAttempts)
	if err != nil {
		fail("await operation %s: %v", op.Name, err)
		return
	}
	if op.Error != nil {
		fail("remote error %d: %s", op.Error.Code, op.Error.Message)
		return
	}

	updated := *doc
	updated.State = models.StateActive
	if op.Response != nil && op.Response.DocumentName != "" {
		updated.Name = op.Response.DocumentName
		remote, err := w.client.GetDocument(ctx, updated.Name)
		if err != nil {
			w.logger.Warn(ctx, "fetch uploaded document", "document", doc.ID, "name", updated.Name, "error", err)
		} else {
			updated.Name = remote.Name
			if remote.DisplayName != "" {
				updated.DisplayName = remote.DisplayName
			}
			updated.CustomMetadata = remote.CustomMetadata
			updated.CreateTime = remote.CreateTime
			updated.UpdateTime = remote.UpdateTime
			updated.SizeBytes = remote.SizeBytes
			if remote.MimeType != "" {
				updated.MimeType = remote.MimeType
			}
			if remote.State != "" {
				updated.State = models.State(remote.State)
			}
		}
	}

	if err := docRepo.MarkUploaded(ctx, &updated); err != nil {
		w.logger.Error(ctx, "record upload success", "document", doc.ID, "error", err)
		return
	}
	w.metrics.Uploads.WithLabelValues("ok").Inc()
	w.logger.Info(ctx, "document uploaded", "document", doc.ID, "name", updated.Name)
}

// uploadMimeType is the MIME type actually declared on an upload. JSON is
// the one type the remote store rejects when declared explicitly, so it is
// omitted and left to remote detection.
func uploadMimeType(mt string) string {
	if mt == "application/json" {
		return ""
	}
	return mt
}

// refreshFilestores recomputes the counters of every filestore touched by a
// batch and pulls the remote store's current info.
func (w *UploadWorker) refreshFilestores(ctx context.Context, batch []*models.Document) {
	touched := make(map[int64]*string, 1)
	for _, doc := range batch {
		if _, ok := touched[doc.FilestoreID]; !ok {
			touched[doc.FilestoreID] = doc.User
		}
	}

	fsRepo := w.repomanager.Filestores(w.db)
	for id, user := range touched {
		if err := fsRepo.RecomputeStats(ctx, id); err != nil {
			w.logger.Error(ctx, "recompute filestore stats", "filestore", id, "error", err)
			continue
		}
		fs, err := fsRepo.GetByID(ctx, id, user)
		if err != nil {
			w.logger.Error(ctx, "load filestore after batch", "filestore", id, "error", err)
			continue
		}
		if fs.Name == "" {
			continue
		}
		remote, err := w.client.GetStore(ctx, fs.Name)
		if err != nil {
			w.logger.Warn(ctx, "refresh remote store info", "filestore", id, "error", err)
			continue
		}
		if err := fsRepo.UpdateRemoteInfo(ctx, id, remote.Name, remote.CreateTime, remote.UpdateTime); err != nil {
			w.logger.Warn(ctx, "update remote store info", "filestore", id, "error", err)
		}
	}
}

// Retry re-queues one idle document and synchronously drives it to an
// outcome, blocking the caller until the upload finishes. A document
// currently claimed by the background loop is left alone and
// common.ErrAlreadyClaimed is returned.
func (w *UploadWorker) Retry(ctx context.Context, id int64, user *string) (*models.Document, error) {
	docRepo := w.repomanager.Documents(w.db)
	doc, err := docRepo.ResetForRetry(ctx, id, user)
	if err != nil {
		return nil, err
	}

	w.processDocument(ctx, doc)

	if err := w.repomanager.Filestores(w.db).RecomputeStats(ctx, doc.FilestoreID); err != nil {
		w.logger.Error(ctx, "recompute filestore stats", "filestore", doc.FilestoreID, "error", err)
	}
	return docRepo.GetByID(ctx, id, user)
}
