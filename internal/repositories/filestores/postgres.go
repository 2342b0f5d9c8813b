// Package filestores provides the PostgreSQL-backed repository for filestore
// rows, the local mirror of remote semantic search stores.
package filestores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/models"
)

const filestoreColumns = `id, "user", created_at, updated_at, name, display_name, create_time, update_time, active_documents_count, pending_documents_count, failed_documents_count, size_bytes, metadata, error, ref`

// PostgresRepository implements filestore storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFilestore(row rowScanner) (*models.Filestore, error) {
	var (
		fs   models.Filestore
		meta []byte
	)
	if err := row.Scan(
		&fs.ID, &fs.User, &fs.CreatedAt, &fs.UpdatedAt,
		&fs.Name, &fs.DisplayName, &fs.CreateTime, &fs.UpdateTime,
		&fs.ActiveDocumentsCount, &fs.PendingDocumentsCount, &fs.FailedDocumentsCount, &fs.SizeBytes,
		&meta, &fs.Error, &fs.Ref,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &fs.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &fs, nil
}

// Create inserts a new filestore row. The generated id and timestamps are
// written back into fs. Returns common.ErrAlreadyExists when the user already
// has a filestore with the same display name.
func (r *PostgresRepository) Create(ctx context.Context, fs *models.Filestore) error {
	query := `
		INSERT INTO filestores ("user", name, display_name, create_time, update_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ("user", display_name) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	var meta any
	if fs.Metadata != nil {
		b, err := json.Marshal(fs.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}

	err := r.db.QueryRowContext(ctx, query,
		fs.User, fs.Name, fs.DisplayName, fs.CreateTime, fs.UpdateTime, meta,
	).Scan(&fs.ID, &fs.CreatedAt, &fs.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns the filestore with the given id in the caller's user scope,
// or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64, user *string) (*models.Filestore, error) {
	query := `SELECT ` + filestoreColumns + ` FROM filestores WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2`
	fs, err := scanFilestore(r.db.QueryRowContext(ctx, query, id, user))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return fs, nil
}

// List returns the caller's filestores, newest first.
func (r *PostgresRepository) List(ctx context.Context, user *string) ([]*models.Filestore, error) {
	query := `SELECT ` + filestoreColumns + ` FROM filestores WHERE "user" IS NOT DISTINCT FROM $1 ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Filestore
	for rows.Next() {
		fs, err := scanFilestore(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateRemoteInfo records the remote resource name and timestamps reported
// by the remote store. Empty values keep whatever is already stored.
func (r *PostgresRepository) UpdateRemoteInfo(ctx context.Context, id int64, name, createTime, updateTime string) error {
	query := `
		UPDATE filestores
		SET name = COALESCE(NULLIF($2, ''), name),
		    create_time = COALESCE(NULLIF($3, ''), create_time),
		    update_time = COALESCE(NULLIF($4, ''), update_time),
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, name, createTime, updateTime)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// RecomputeStats rebuilds a filestore's counters from its document rows.
// Pending excludes documents that already recorded an error; failed includes
// them regardless of state.
func (r *PostgresRepository) RecomputeStats(ctx context.Context, id int64) error {
	query := `
		UPDATE filestores f
		SET active_documents_count = s.active,
		    pending_documents_count = s.pending,
		    failed_documents_count = s.failed,
		    size_bytes = s.size,
		    updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE state = 'STATE_ACTIVE') AS active,
				COUNT(*) FILTER (WHERE state = 'STATE_PENDING' AND error IS NULL) AS pending,
				COUNT(*) FILTER (WHERE state = 'STATE_FAILED' OR error IS NOT NULL) AS failed,
				COALESCE(SUM(size), 0) AS size
			FROM documents
			WHERE filestore_id = $1
		) s
		WHERE f.id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// Delete removes a filestore row. Document rows cascade at the DB level.
// Returns common.ErrNotFound if no row matched.
func (r *PostgresRepository) Delete(ctx context.Context, id int64, user *string) error {
	query := `DELETE FROM filestores WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2`
	res, err := r.db.ExecContext(ctx, query, id, user)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

func oneRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
