package documents

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fsmirror/internal/models"
)

// Query filters and pages document listings. Zero values mean "no filter".
// User scoping is always applied: a nil User matches rows stored without
// an owner ("user" IS NULL).
type Query struct {
	User         *string
	FilestoreID  int64
	State        models.State
	Category     *string
	Hash         string
	DisplayName  string
	IDs          []int64
	DisplayNames []string
	Search       string
	Null         []string
	NotNull      []string
	Sort         string
	Take         int
	Skip         int
}

type Repository interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id int64, user *string) (*models.Document, error)
	FindByHash(ctx context.Context, filestoreID int64, hash string, user *string) (*models.Document, error)
	List(ctx context.Context, q *Query) ([]*models.Document, error)
	// Claim atomically stamps started_at on up to limit unclaimed pending
	// documents (oldest first) and returns them.
	Claim(ctx context.Context, limit int) ([]*models.Document, error)
	// ReleaseStale clears claims older than age on documents that never
	// reached a terminal outcome, making them claimable again after a crash.
	ReleaseStale(ctx context.Context, age time.Duration) (int64, error)
	// ResetForRetry clears the outcome of a previous attempt and claims the
	// document in one step. Returns common.ErrAlreadyClaimed if an attempt
	// is still in flight.
	ResetForRetry(ctx context.Context, id int64, user *string) (*models.Document, error)
	MarkUploaded(ctx context.Context, doc *models.Document) error
	MarkFailed(ctx context.Context, id int64, msg string) error
	SetSyncState(ctx context.Context, id int64, state models.SyncState) error
	// RequeueMissing returns a previously uploaded document to the pending
	// queue after its remote copy disappeared.
	RequeueMissing(ctx context.Context, id int64) error
	// ConfirmMatched clears any sync flag and records the remote resource
	// name for a document whose remote copy checked out.
	ConfirmMatched(ctx context.Context, id int64, remoteName string) error
	Categories(ctx context.Context, filestoreID int64, user *string) ([]*models.CategoryCount, error)
	Delete(ctx context.Context, id int64, user *string) error
	// DeleteByHash removes every document in a filestore carrying the given
	// content hash and returns the number of rows deleted.
	DeleteByHash(ctx context.Context, filestoreID int64, hash string, user *string) (int64, error)
	DeleteByFilestore(ctx context.Context, filestoreID int64, user *string) (int64, error)
}
