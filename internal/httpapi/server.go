// Package httpapi exposes the mirror over HTTP: filestore CRUD, document
// ingestion and queries, the blocking retry trigger, and reconciliation.
// Handlers stay thin; all behavior lives in the services layer.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/fsmirror/internal/config"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/services"
)

// FilestoreService is the filestore lifecycle surface consumed by handlers.
type FilestoreService interface {
	Create(ctx context.Context, displayName string, user *string, metadata map[string]any) (*models.Filestore, error)
	Get(ctx context.Context, id int64, user *string) (*models.Filestore, error)
	List(ctx context.Context, user *string) ([]*models.Filestore, error)
	Refresh(ctx context.Context, id int64, user *string) (*models.Filestore, error)
	Delete(ctx context.Context, id int64, user *string) error
}

// DocumentService is the document read/delete surface consumed by handlers.
type DocumentService interface {
	List(ctx context.Context, q *documents.Query) ([]*models.Document, error)
	Get(ctx context.Context, id int64, user *string) (*models.Document, error)
	Open(ctx context.Context, id int64, user *string) (*models.Document, io.ReadCloser, error)
	Categories(ctx context.Context, filestoreID int64, user *string) ([]*models.CategoryCount, error)
	Delete(ctx context.Context, id int64, user *string) error
}

// IngestService accepts uploads into the queue.
type IngestService interface {
	Ingest(ctx context.Context, in *services.IngestInput) (*models.Document, error)
}

// RetryService re-drives one failed document and blocks until it settles.
type RetryService interface {
	Retry(ctx context.Context, id int64, user *string) (*models.Document, error)
}

// SyncService reconciles one filestore against the remote listing.
type SyncService interface {
	Run(ctx context.Context, filestoreID int64, user *string) (*services.SyncReport, error)
}

// StatsService rebuilds filestore counters on demand.
type StatsService interface {
	Recompute(ctx context.Context, filestoreID int64, user *string) (*models.Filestore, error)
}

// Services bundles everything the HTTP layer dispatches into.
type Services struct {
	Filestores FilestoreService
	Documents  DocumentService
	Ingestion  IngestService
	Uploads    RetryService
	Sync       SyncService
	Stats      StatsService
}

// Server is the public HTTP endpoint of the mirror.
type Server struct {
	addr     string
	secret   []byte
	logger   logging.Logger
	services Services
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

func NewServer(cfg *config.Config, logger logging.Logger, svc Services, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		addr:     cfg.Addr,
		secret:   []byte(cfg.SecretKey),
		logger:   logger.With("module", "httpapi"),
		services: svc,
		gatherer: gatherer,
	}
	s.engine = s.router()
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1", s.userScope())
	api.POST("/filestores", s.createFilestore)
	api.GET("/filestores", s.listFilestores)
	api.GET("/filestores/:id", s.getFilestore)
	api.DELETE("/filestores/:id", s.deleteFilestore)
	api.POST("/filestores/:id/refresh", s.refreshFilestore)
	api.POST("/filestores/:id/stats", s.recomputeStats)
	api.POST("/filestores/:id/sync", s.syncFilestore)
	api.GET("/filestores/:id/categories", s.listCategories)
	api.POST("/filestores/:id/documents", s.ingestDocuments)
	api.GET("/filestores/:id/documents", s.listDocuments)
	api.GET("/documents/:id", s.getDocument)
	api.GET("/documents/:id/content", s.getDocumentContent)
	api.DELETE("/documents/:id", s.deleteDocument)
	api.POST("/documents/:id/retry", s.retryDocument)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting HTTP server", "address", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
