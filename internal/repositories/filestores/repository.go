package filestores

import (
	"context"

	"github.com/dmitrijs2005/fsmirror/internal/models"
)

type Repository interface {
	Create(ctx context.Context, fs *models.Filestore) error
	GetByID(ctx context.Context, id int64, user *string) (*models.Filestore, error)
	List(ctx context.Context, user *string) ([]*models.Filestore, error)
	// UpdateRemoteInfo records the remote store's resource name and
	// timestamps. Empty values leave the stored ones untouched.
	UpdateRemoteInfo(ctx context.Context, id int64, name, createTime, updateTime string) error
	// RecomputeStats rebuilds the document counters and total size of a
	// filestore from its document rows.
	RecomputeStats(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64, user *string) error
}
