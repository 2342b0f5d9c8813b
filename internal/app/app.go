// Package app wires the mirror service together: configuration, logging,
// the database with its migrations, the content cache, the remote store
// client, the services layer, the background upload worker, and the HTTP
// endpoint. It also owns startup order and graceful shutdown.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/fsmirror/internal/cache"
	"github.com/dmitrijs2005/fsmirror/internal/config"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/httpapi"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/metrics"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fsmirror/internal/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	worker *services.UploadWorker
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(cfg.LogFile, 100)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("repository manager init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := newCacheStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache init error: %w", err)
	}

	client := gemini.NewHTTPClient(gemini.Options{
		BaseURL: cfg.GeminiBaseURL,
		APIKey:  cfg.GeminiAPIKey,
	})

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	worker := services.NewUploadWorker(db, rm, store, client, cfg, m, logger)
	server := httpapi.NewServer(cfg, logger, httpapi.Services{
		Filestores: services.NewFilestoreService(db, rm, client, logger),
		Documents:  services.NewDocumentService(db, rm, store, client, logger),
		Ingestion:  services.NewIngestionService(db, rm, store, client, cfg, m, logger, worker),
		Uploads:    worker,
		Sync:       services.NewSyncService(db, rm, client, m, logger),
		Stats:      services.NewStatsService(db, rm),
	}, registry)

	return &App{config: cfg, logger: logger, db: db, worker: worker, server: server}, nil
}

func newCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendS3:
		return cache.NewS3Store(ctx, cfg)
	case config.CacheBackendDisk, "":
		return cache.NewDiskStore(cfg.CacheDir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the upload worker and the HTTP server and blocks until ctx is
// cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "address", app.config.Addr, "cacheBackend", app.config.CacheBackend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.worker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, "HTTP server error", "error", err)
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "close database", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
}
