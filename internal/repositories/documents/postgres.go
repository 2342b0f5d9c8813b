// Package documents provides the PostgreSQL-backed repository for mirrored
// document rows: local file facts, remote store fields and upload state.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/models"
)

const (
	defaultTake = 50
	maxTake     = 1000
)

// documentColumns is the full column list shared by SELECT and RETURNING
// clauses. Nullable text columns backing plain string fields are coalesced.
const documentColumns = `id, filestore_id, "user", created_at, updated_at, filename, url, hash, size, display_name, COALESCE(name, '') AS name, custom_metadata, create_time, update_time, size_bytes, mime_type, state, COALESCE(sync_state, '') AS sync_state, category, tags, started_at, uploaded_at, metadata, error, ref`

// columnNames maps external field names accepted in list queries to SQL
// columns. Anything not listed here is silently ignored.
var columnNames = map[string]string{
	"id":             "id",
	"filestoreId":    "filestore_id",
	"user":           `"user"`,
	"createdAt":      "created_at",
	"updatedAt":      "updated_at",
	"filename":       "filename",
	"url":            "url",
	"hash":           "hash",
	"size":           "size",
	"displayName":    "display_name",
	"name":           "name",
	"customMetadata": "custom_metadata",
	"createTime":     "create_time",
	"updateTime":     "update_time",
	"sizeBytes":      "size_bytes",
	"mimeType":       "mime_type",
	"state":          "state",
	"syncState":      "sync_state",
	"category":       "category",
	"tags":           "tags",
	"startedAt":      "started_at",
	"uploadedAt":     "uploaded_at",
	"metadata":       "metadata",
	"error":          "error",
	"ref":            "ref",
}

// PostgresRepository implements document storage over a dbx.DBTX (*sql.DB or *sql.Tx).
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

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc    models.Document
		custom []byte
		tags   []byte
		meta   []byte
	)
	if err := row.Scan(
		&doc.ID, &doc.FilestoreID, &doc.User, &doc.CreatedAt, &doc.UpdatedAt,
		&doc.Filename, &doc.URL, &doc.Hash, &doc.Size, &doc.DisplayName, &doc.Name,
		&custom, &doc.CreateTime, &doc.UpdateTime, &doc.SizeBytes, &doc.MimeType,
		&doc.State, &doc.SyncState, &doc.Category, &tags,
		&doc.StartedAt, &doc.UploadedAt, &meta, &doc.Error, &doc.Ref,
	); err != nil {
		return nil, err
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &doc.CustomMetadata); err != nil {
			return nil, fmt.Errorf("decode custom_metadata: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &doc.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &doc, nil
}

func (r *PostgresRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a new pending document. The generated id and timestamps are
// written back into doc. Returns common.ErrAlreadyExists when the filestore
// already holds a document with the same content hash.
func (r *PostgresRepository) Create(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (filestore_id, "user", filename, url, hash, size, display_name, mime_type, category, tags, metadata, ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (filestore_id, hash) DO NOTHING
		RETURNING id, created_at, updated_at
	`
	var tags any
	if doc.Tags != nil {
		b, err := json.Marshal(doc.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		tags = b
	}
	var meta any
	if doc.Metadata != nil {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}

	err := r.db.QueryRowContext(ctx, query,
		doc.FilestoreID, doc.User, doc.Filename, doc.URL, doc.Hash, doc.Size,
		doc.DisplayName, doc.MimeType, doc.Category, tags, meta, doc.Ref,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	doc.State = models.StatePending
	return nil
}

// GetByID returns the document with the given id in the caller's user scope,
// or common.ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64, user *string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id, user))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doc, nil
}

// FindByHash returns the document carrying the given content hash within a
// filestore, or common.ErrNotFound.
func (r *PostgresRepository) FindByHash(ctx context.Context, filestoreID int64, hash string, user *string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE filestore_id = $1 AND hash = $2 AND "user" IS NOT DISTINCT FROM $3`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, filestoreID, hash, user))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doc, nil
}

// List returns documents matching q, newest first unless q.Sort says
// otherwise. Page size defaults to 50 and is capped at 1000.
func (r *PostgresRepository) List(ctx context.Context, q *Query) ([]*models.Document, error) {
	if q == nil {
		q = &Query{}
	}
	where, args := buildWhere(q)

	take := q.Take
	if take <= 0 {
		take = defaultTake
	}
	if take > maxTake {
		take = maxTake
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}
	args = append(args, take, skip)

	query := fmt.Sprintf("SELECT %s FROM documents %s ORDER BY %s LIMIT $%d OFFSET $%d",
		documentColumns, where, orderBy(q.Sort), len(args)-1, len(args))
	return r.queryDocuments(ctx, query, args...)
}

func buildWhere(q *Query) (string, []any) {
	conds := []string{`"user" IS NOT DISTINCT FROM $1`}
	args := []any{q.User}

	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if q.FilestoreID != 0 {
		add("filestore_id = $%d", q.FilestoreID)
	}
	if q.State != "" {
		add("state = $%d", string(q.State))
	}
	if q.Category != nil {
		add("category = $%d", *q.Category)
	}
	if q.Hash != "" {
		add("hash = $%d", q.Hash)
	}
	if q.DisplayName != "" {
		add("display_name = $%d", q.DisplayName)
	}
	if len(q.IDs) > 0 {
		ph := make([]string, 0, len(q.IDs))
		for _, id := range q.IDs {
			args = append(args, id)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, fmt.Sprintf("id IN (%s)", strings.Join(ph, ", ")))
	}
	if len(q.DisplayNames) > 0 {
		ph := make([]string, 0, len(q.DisplayNames))
		for _, name := range q.DisplayNames {
			args = append(args, name)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		conds = append(conds, fmt.Sprintf("display_name IN (%s)", strings.Join(ph, ", ")))
	}
	if q.Search != "" {
		add("display_name ILIKE $%d", "%"+q.Search+"%")
	}
	for _, f := range q.Null {
		if col, ok := columnNames[f]; ok {
			conds = append(conds, col+" IS NULL")
		}
	}
	for _, f := range q.NotNull {
		if col, ok := columnNames[f]; ok {
			conds = append(conds, col+" IS NOT NULL")
		}
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(sort string) string {
	switch sort {
	case "", "-id":
		return "id DESC"
	case "failed":
		return "(error IS NOT NULL) DESC, id DESC"
	case "uploading":
		return "(started_at IS NOT NULL AND uploaded_at IS NULL AND error IS NULL) DESC, id DESC"
	case "issues":
		return "(sync_state IS NOT NULL) DESC, id DESC"
	}
	col, ok := columnNames[strings.TrimPrefix(sort, "-")]
	if !ok {
		return "id DESC"
	}
	if strings.HasPrefix(sort, "-") {
		return col + " DESC"
	}
	return col + " ASC"
}

// Claim stamps started_at on up to limit unclaimed pending documents, oldest
// first, skipping rows locked by concurrent claimers, and returns the claimed
// documents.
func (r *PostgresRepository) Claim(ctx context.Context, limit int) ([]*models.Document, error) {
	query := `
		UPDATE documents SET started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM documents
			WHERE state = 'STATE_PENDING' AND started_at IS NULL
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + documentColumns
	return r.queryDocuments(ctx, query, limit)
}

// ReleaseStale clears claims older than age on documents still awaiting an
// outcome. A claim can outlive its process after a crash; releasing it makes
// the document claimable again.
func (r *PostgresRepository) ReleaseStale(ctx context.Context, age time.Duration) (int64, error) {
	query := `
		UPDATE documents SET started_at = NULL, updated_at = NOW()
		WHERE state = 'STATE_PENDING' AND started_at IS NOT NULL
		  AND uploaded_at IS NULL AND error IS NULL
		  AND started_at < NOW() - make_interval(secs => $1)
	`
	res, err := r.db.ExecContext(ctx, query, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// ResetForRetry clears a previous attempt's outcome and claims the document
// in the same statement. A document whose attempt is still in flight is left
// alone and common.ErrAlreadyClaimed is returned.
func (r *PostgresRepository) ResetForRetry(ctx context.Context, id int64, user *string) (*models.Document, error) {
	query := `
		UPDATE documents
		SET state = 'STATE_PENDING', sync_state = NULL, started_at = NOW(),
		    uploaded_at = NULL, error = NULL, updated_at = NOW()
		WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2
		  AND (started_at IS NULL OR uploaded_at IS NOT NULL OR error IS NOT NULL)
		RETURNING ` + documentColumns
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id, user))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// No row updated: either the document does not exist in this scope or
	// an attempt is still in flight.
	var found int64
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2`, id, user,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return nil, common.ErrAlreadyClaimed
}

// MarkUploaded records the remote store's view of a document after a
// successful upload and stamps uploaded_at.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, doc *models.Document) error {
	query := `
		UPDATE documents
		SET name = NULLIF($2, ''),
		    display_name = COALESCE(NULLIF($3, ''), display_name),
		    custom_metadata = $4,
		    create_time = $5,
		    update_time = $6,
		    size_bytes = $7,
		    mime_type = COALESCE(NULLIF($8, ''), mime_type),
		    state = COALESCE(NULLIF($9, ''), 'STATE_ACTIVE'),
		    sync_state = NULL,
		    error = NULL,
		    uploaded_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	var custom any
	if doc.CustomMetadata != nil {
		b, err := json.Marshal(doc.CustomMetadata)
		if err != nil {
			return fmt.Errorf("encode custom_metadata: %w", err)
		}
		custom = b
	}

	res, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Name, doc.DisplayName, custom,
		doc.CreateTime, doc.UpdateTime, doc.SizeBytes, doc.MimeType, string(doc.State),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// MarkFailed records a terminal upload failure. uploaded_at is cleared so a
// document is never both uploaded and failed.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, msg string) error {
	query := `UPDATE documents SET state = 'STATE_FAILED', error = $2, uploaded_at = NULL, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, msg)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// SetSyncState flags a document with a reconciliation finding. An empty state
// clears the flag.
func (r *PostgresRepository) SetSyncState(ctx context.Context, id int64, state models.SyncState) error {
	query := `UPDATE documents SET sync_state = NULLIF($2, ''), updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, string(state))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// RequeueMissing returns a document to the pending queue after its remote
// copy disappeared, clearing every trace of the previous upload.
func (r *PostgresRepository) RequeueMissing(ctx context.Context, id int64) error {
	query := `
		UPDATE documents
		SET state = 'STATE_PENDING', sync_state = 'MISSING_FROM_REMOTE',
		    started_at = NULL, uploaded_at = NULL, name = NULL, error = NULL, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// ConfirmMatched clears any sync flag on a document whose remote copy checked
// out and records the remote resource name when one is supplied.
func (r *PostgresRepository) ConfirmMatched(ctx context.Context, id int64, remoteName string) error {
	query := `
		UPDATE documents
		SET sync_state = NULL, state = 'STATE_ACTIVE',
		    name = COALESCE(NULLIF($2, ''), name), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, remoteName)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// Categories aggregates document counts and sizes per category within a
// filestore. Documents without a category are grouped under "".
func (r *PostgresRepository) Categories(ctx context.Context, filestoreID int64, user *string) ([]*models.CategoryCount, error) {
	query := `
		SELECT COALESCE(category, '') AS category, COUNT(*) AS count, COALESCE(SUM(size), 0) AS size
		FROM documents
		WHERE filestore_id = $1 AND "user" IS NOT DISTINCT FROM $2
		GROUP BY COALESCE(category, '')
		ORDER BY category
	`
	rows, err := r.db.QueryContext(ctx, query, filestoreID, user)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.CategoryCount
	for rows.Next() {
		var item models.CategoryCount
		if err := rows.Scan(&item.Category, &item.Count, &item.Size); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a document row. Returns common.ErrNotFound if no row matched.
func (r *PostgresRepository) Delete(ctx context.Context, id int64, user *string) error {
	query := `DELETE FROM documents WHERE id = $1 AND "user" IS NOT DISTINCT FROM $2`
	res, err := r.db.ExecContext(ctx, query, id, user)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowAffected(res)
}

// DeleteByHash removes every document in a filestore carrying the given
// content hash and returns the number of rows deleted. Racing ingestions of
// the same content serialize on the row lock here, so the last writer's
// insert wins.
func (r *PostgresRepository) DeleteByHash(ctx context.Context, filestoreID int64, hash string, user *string) (int64, error) {
	query := `DELETE FROM documents WHERE filestore_id = $1 AND hash = $2 AND "user" IS NOT DISTINCT FROM $3`
	res, err := r.db.ExecContext(ctx, query, filestoreID, hash, user)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// DeleteByFilestore removes every document belonging to a filestore and
// returns the number of rows deleted.
func (r *PostgresRepository) DeleteByFilestore(ctx context.Context, filestoreID int64, user *string) (int64, error) {
	query := `DELETE FROM documents WHERE filestore_id = $1 AND "user" IS NOT DISTINCT FROM $2`
	res, err := r.db.ExecContext(ctx, query, filestoreID, user)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
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
