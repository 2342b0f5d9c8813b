package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// StatsService rebuilds filestore counters from the document rows on demand.
// The worker and sync runs refresh them automatically; this covers manual
// refreshes through the API.
type StatsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewStatsService(db *sql.DB, repomanager repomanager.RepositoryManager) *StatsService {
	return &StatsService{db: db, repomanager: repomanager}
}

// Recompute re-derives the active/pending/failed counts and total size of a
// filestore and returns the refreshed record.
func (s *StatsService) Recompute(ctx context.Context, filestoreID int64, user *string) (*models.Filestore, error) {
	fsRepo := s.repomanager.Filestores(s.db)
	if _, err := fsRepo.GetByID(ctx, filestoreID, user); err != nil {
		return nil, err
	}
	if err := fsRepo.RecomputeStats(ctx, filestoreID); err != nil {
		return nil, err
	}
	return fsRepo.GetByID(ctx, filestoreID, user)
}
