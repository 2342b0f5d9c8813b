package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// FilestoreService manages the lifecycle of filestores: each local record is
// bound to one remote file search store, provisioned on create and torn down
// on delete.
type FilestoreService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      gemini.Client
	logger      logging.Logger
}

func NewFilestoreService(db *sql.DB, repomanager repomanager.RepositoryManager, client gemini.Client, logger logging.Logger) *FilestoreService {
	return &FilestoreService{
		db:          db,
		repomanager: repomanager,
		client:      client,
		logger:      logger,
	}
}

// Create provisions a remote store and persists the local record bound to
// it. When the local insert loses to a duplicate display name, the freshly
// provisioned remote store is removed again, best effort.
func (s *FilestoreService) Create(ctx context.Context, displayName string, user *string, metadata map[string]any) (*models.Filestore, error) {
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", common.ErrInvalidInput)
	}

	remote, err := s.client.CreateStore(ctx, displayName)
	if err != nil {
		return nil, err
	}

	fs := &models.Filestore{
		User:        user,
		Name:        remote.Name,
		DisplayName: displayName,
		CreateTime:  remote.CreateTime,
		UpdateTime:  remote.UpdateTime,
		Metadata:    metadata,
	}
	if err := s.repomanager.Filestores(s.db).Create(ctx, fs); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			if derr := s.client.DeleteStore(ctx, remote.Name, false); derr != nil {
				s.logger.Warn(ctx, "remove orphaned remote store", "store", remote.Name, "error", derr)
			}
		}
		return nil, err
	}

	s.logger.Info(ctx, "filestore created", "filestore", fs.ID, "store", fs.Name)
	return fs, nil
}

// Get returns one filestore in the caller's scope.
func (s *FilestoreService) Get(ctx context.Context, id int64, user *string) (*models.Filestore, error) {
	return s.repomanager.Filestores(s.db).GetByID(ctx, id, user)
}

// List returns the caller's filestores, newest first.
func (s *FilestoreService) List(ctx context.Context, user *string) ([]*models.Filestore, error) {
	return s.repomanager.Filestores(s.db).List(ctx, user)
}

// Refresh pulls the remote store's current name and timestamps into the
// local record and returns the refreshed filestore.
func (s *FilestoreService) Refresh(ctx context.Context, id int64, user *string) (*models.Filestore, error) {
	fsRepo := s.repomanager.Filestores(s.db)
	fs, err := fsRepo.GetByID(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if fs.Name == "" {
		return fs, nil
	}

	remote, err := s.client.GetStore(ctx, fs.Name)
	if err != nil {
		return nil, err
	}
	if err := fsRepo.UpdateRemoteInfo(ctx, id, remote.Name, remote.CreateTime, remote.UpdateTime); err != nil {
		return nil, err
	}
	return fsRepo.GetByID(ctx, id, user)
}

// Delete removes the remote store (with its remote documents) and then the
// local record; local document rows cascade. A missing remote store counts
// as already deleted.
func (s *FilestoreService) Delete(ctx context.Context, id int64, user *string) error {
	fsRepo := s.repomanager.Filestores(s.db)
	fs, err := fsRepo.GetByID(ctx, id, user)
	if err != nil {
		return err
	}

	if fs.Name != "" {
		if err := s.client.DeleteStore(ctx, fs.Name, true); err != nil {
			return err
		}
	}
	if err := fsRepo.Delete(ctx, id, user); err != nil {
		return err
	}

	s.logger.Info(ctx, "filestore deleted", "filestore", id, "store", fs.Name)
	return nil
}
