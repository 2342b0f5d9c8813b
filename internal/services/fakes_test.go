package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/fsmirror/internal/cache"
	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/config"
	"github.com/dmitrijs2005/fsmirror/internal/dbx"
	"github.com/dmitrijs2005/fsmirror/internal/gemini"
	"github.com/dmitrijs2005/fsmirror/internal/logging"
	"github.com/dmitrijs2005/fsmirror/internal/metrics"
	"github.com/dmitrijs2005/fsmirror/internal/models"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/documents"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/filestores"
	"github.com/dmitrijs2005/fsmirror/internal/repositories/repomanager"
)

// -------- test fakes --------

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// memDocsRepo is an in-memory documents.Repository with the same claim and
// outcome semantics as the Postgres implementation, enough to drive the
// worker and sync services end to end.
type memDocsRepo struct {
	documents.Repository

	mu     sync.Mutex
	nextID int64
	base   time.Time
	docs   map[int64]*models.Document

	claimErr error
	markErr  error
}

func newMemDocsRepo() *memDocsRepo {
	return &memDocsRepo{
		base: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		docs: map[int64]*models.Document{},
	}
}

// add seeds one document, assigning an id and a strictly increasing
// created-at so claim ordering is deterministic.
func (f *memDocsRepo) add(doc *models.Document) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	doc.ID = f.nextID
	doc.CreatedAt = f.base.Add(time.Duration(f.nextID) * time.Second)
	if doc.State == "" {
		doc.State = models.StatePending
	}
	f.docs[doc.ID] = doc
	cp := *doc
	return &cp
}

func (f *memDocsRepo) get(id int64) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.docs[id]
	return &cp
}

// setStartedAt backdates a claim, simulating one orphaned by a crash.
func (f *memDocsRepo) setStartedAt(id int64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].StartedAt = &ts
}

func (f *memDocsRepo) all() []*models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Document, 0, len(f.docs))
	for _, d := range f.docs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *memDocsRepo) Create(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.FilestoreID == doc.FilestoreID && d.Hash == doc.Hash {
			return common.ErrAlreadyExists
		}
	}
	f.nextID++
	doc.ID = f.nextID
	doc.CreatedAt = f.base.Add(time.Duration(f.nextID) * time.Second)
	doc.State = models.StatePending
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *memDocsRepo) GetByID(ctx context.Context, id int64, user *string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *memDocsRepo) FindByHash(ctx context.Context, filestoreID int64, hash string, user *string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.FilestoreID == filestoreID && d.Hash == hash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *memDocsRepo) List(ctx context.Context, q *documents.Query) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.docs {
		if q.FilestoreID != 0 && d.FilestoreID != q.FilestoreID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Skip >= len(out) {
		return nil, nil
	}
	out = out[q.Skip:]
	if q.Take > 0 && len(out) > q.Take {
		out = out[:q.Take]
	}
	return out, nil
}

func (f *memDocsRepo) Claim(ctx context.Context, limit int) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var pending []*models.Document
	for _, d := range f.docs {
		if d.State == models.StatePending && d.StartedAt == nil {
			pending = append(pending, d)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now()
	out := make([]*models.Document, 0, len(pending))
	for _, d := range pending {
		d.StartedAt = &now
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (f *memDocsRepo) ReleaseStale(ctx context.Context, age time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var n int64
	for _, d := range f.docs {
		if d.State == models.StatePending && d.StartedAt != nil &&
			d.UploadedAt == nil && d.Error == nil && d.StartedAt.Before(cutoff) {
			d.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *memDocsRepo) ResetForRetry(ctx context.Context, id int64, user *string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if d.StartedAt != nil && d.UploadedAt == nil && d.Error == nil {
		return nil, common.ErrAlreadyClaimed
	}
	now := time.Now()
	d.State = models.StatePending
	d.SyncState = models.SyncStateNone
	d.StartedAt = &now
	d.UploadedAt = nil
	d.Error = nil
	cp := *d
	return &cp, nil
}

func (f *memDocsRepo) MarkUploaded(ctx context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	d, ok := f.docs[doc.ID]
	if !ok {
		return common.ErrNotFound
	}
	if doc.Name != "" {
		d.Name = doc.Name
	}
	if doc.DisplayName != "" {
		d.DisplayName = doc.DisplayName
	}
	d.CustomMetadata = doc.CustomMetadata
	d.CreateTime = doc.CreateTime
	d.UpdateTime = doc.UpdateTime
	d.SizeBytes = doc.SizeBytes
	if doc.MimeType != "" {
		d.MimeType = doc.MimeType
	}
	if doc.State != "" {
		d.State = doc.State
	} else {
		d.State = models.StateActive
	}
	d.SyncState = models.SyncStateNone
	d.Error = nil
	now := time.Now()
	d.UploadedAt = &now
	return nil
}

func (f *memDocsRepo) MarkFailed(ctx context.Context, id int64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.State = models.StateFailed
	d.Error = &msg
	d.UploadedAt = nil
	return nil
}

func (f *memDocsRepo) SetSyncState(ctx context.Context, id int64, state models.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.SyncState = state
	return nil
}

func (f *memDocsRepo) RequeueMissing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.State = models.StatePending
	d.SyncState = models.SyncStateMissingRemote
	d.StartedAt = nil
	d.UploadedAt = nil
	d.Name = ""
	d.Error = nil
	return nil
}

func (f *memDocsRepo) ConfirmMatched(ctx context.Context, id int64, remoteName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return common.ErrNotFound
	}
	d.SyncState = models.SyncStateNone
	d.State = models.StateActive
	if remoteName != "" {
		d.Name = remoteName
	}
	return nil
}

func (f *memDocsRepo) Delete(ctx context.Context, id int64, user *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *memDocsRepo) DeleteByHash(ctx context.Context, filestoreID int64, hash string, user *string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, d := range f.docs {
		if d.FilestoreID == filestoreID && d.Hash == hash {
			delete(f.docs, id)
			n++
		}
	}
	return n, nil
}

type fakeFilestoresRepo struct {
	filestores.Repository

	mu         sync.Mutex
	nextID     int64
	stores     map[int64]*models.Filestore
	createErr  error
	recomputed []int64
	updated    []int64
	deleted    []int64
}

func newFakeFilestoresRepo() *fakeFilestoresRepo {
	return &fakeFilestoresRepo{stores: map[int64]*models.Filestore{}}
}

func (f *fakeFilestoresRepo) add(fs *models.Filestore) *models.Filestore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	fs.ID = f.nextID
	f.stores[fs.ID] = fs
	cp := *fs
	return &cp
}

func (f *fakeFilestoresRepo) Create(ctx context.Context, fs *models.Filestore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	fs.ID = f.nextID
	cp := *fs
	f.stores[fs.ID] = &cp
	return nil
}

func (f *fakeFilestoresRepo) GetByID(ctx context.Context, id int64, user *string) (*models.Filestore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.stores[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *fs
	return &cp, nil
}

func (f *fakeFilestoresRepo) List(ctx context.Context, user *string) ([]*models.Filestore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Filestore, 0, len(f.stores))
	for _, fs := range f.stores {
		cp := *fs
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeFilestoresRepo) UpdateRemoteInfo(ctx context.Context, id int64, name, createTime, updateTime string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.stores[id]
	if !ok {
		return common.ErrNotFound
	}
	if name != "" {
		fs.Name = name
	}
	if createTime != "" {
		fs.CreateTime = createTime
	}
	if updateTime != "" {
		fs.UpdateTime = updateTime
	}
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeFilestoresRepo) RecomputeStats(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stores[id]; !ok {
		return common.ErrNotFound
	}
	f.recomputed = append(f.recomputed, id)
	return nil
}

func (f *fakeFilestoresRepo) Delete(ctx context.Context, id int64, user *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stores[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.stores, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	d *memDocsRepo
	f *fakeFilestoresRepo
}

func (m *fakeRepoManager) Documents(dbtx dbx.DBTX) documents.Repository   { return m.d }
func (m *fakeRepoManager) Filestores(dbtx dbx.DBTX) filestores.Repository { return m.f }

type deletedStore struct {
	name  string
	force bool
}

// fakeClient is an in-memory gemini.Client. Uploads return a pending
// operation whose terminal result is served by GetOperation, so callers
// exercise the polling path.
type fakeClient struct {
	mu sync.Mutex

	seq int

	createStoreErr error
	uploadErr      error
	listErr        error
	// failUploads maps a display name to the remote operation error message
	// its upload should finish with.
	failUploads map[string]string

	listDocs []gemini.Document

	uploads       []gemini.UploadRequest
	uploadBodies  [][]byte
	ops           map[string]*gemini.Operation
	docs          map[string]*gemini.Document
	deletedDocs   []string
	deletedStores []deletedStore
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		failUploads: map[string]string{},
		ops:         map[string]*gemini.Operation{},
		docs:        map[string]*gemini.Document{},
	}
}

func (c *fakeClient) CreateStore(ctx context.Context, displayName string) (*gemini.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createStoreErr != nil {
		return nil, c.createStoreErr
	}
	c.seq++
	return &gemini.Store{
		Name:        fmt.Sprintf("fileSearchStores/store-%d", c.seq),
		DisplayName: displayName,
		CreateTime:  "2026-01-02T03:04:05Z",
		UpdateTime:  "2026-01-02T03:04:05Z",
	}, nil
}

func (c *fakeClient) GetStore(ctx context.Context, name string) (*gemini.Store, error) {
	return &gemini.Store{
		Name:       name,
		CreateTime: "2026-01-02T03:04:05Z",
		UpdateTime: "2026-01-02T03:04:06Z",
	}, nil
}

func (c *fakeClient) DeleteStore(ctx context.Context, name string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedStores = append(c.deletedStores, deletedStore{name: name, force: force})
	return nil
}

func (c *fakeClient) ListDocuments(ctx context.Context, storeName string) ([]gemini.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]gemini.Document, len(c.listDocs))
	copy(out, c.listDocs)
	return out, nil
}

func (c *fakeClient) Upload(ctx context.Context, storeName string, req gemini.UploadRequest) (*gemini.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploadErr != nil {
		return nil, c.uploadErr
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	c.uploads = append(c.uploads, req)
	c.uploadBodies = append(c.uploadBodies, body)

	c.seq++
	opName := fmt.Sprintf("operations/upload-%d", c.seq)
	term := &gemini.Operation{Name: opName, Done: true}
	if msg, ok := c.failUploads[req.DisplayName]; ok {
		term.Error = &gemini.Status{Code: 13, Message: msg}
	} else {
		docName := fmt.Sprintf("%s/documents/doc-%d", storeName, c.seq)
		term.Response = &gemini.OperationResponse{DocumentName: docName}
		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		c.docs[docName] = &gemini.Document{
			Name:           docName,
			DisplayName:    req.DisplayName,
			CustomMetadata: req.CustomMetadata,
			CreateTime:     "2026-01-02T03:04:05Z",
			UpdateTime:     "2026-01-02T03:04:06Z",
			SizeBytes:      int64(len(body)),
			MimeType:       mimeType,
			State:          "STATE_ACTIVE",
		}
	}
	c.ops[opName] = term
	return &gemini.Operation{Name: opName}, nil
}

func (c *fakeClient) GetOperation(ctx context.Context, name string) (*gemini.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	cp := *op
	return &cp, nil
}

func (c *fakeClient) GetDocument(ctx context.Context, name string) (*gemini.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[name]
	if !ok {
		return nil, fmt.Errorf("unknown document %q", name)
	}
	cp := *doc
	return &cp, nil
}

func (c *fakeClient) DeleteDocument(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletedDocs = append(c.deletedDocs, name)
	return nil
}

func (c *fakeClient) uploadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

// fakeCache keeps blobs in memory, hashed the same way as the real backends.
type fakeCache struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	puts   int
	putErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{blobs: map[string][]byte{}}
}

func (c *fakeCache) Put(ctx context.Context, displayName string, r io.Reader) (*cache.PutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return nil, c.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	hash := hex.EncodeToString(sum[:])
	rel := cache.RelPath(hash, displayName)
	_, existed := c.blobs[rel]
	c.blobs[rel] = b
	c.puts++
	return &cache.PutResult{Hash: hash, RelPath: rel, Size: int64(len(b)), Existed: existed}, nil
}

func (c *fakeCache) Open(ctx context.Context, relPath string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[relPath]
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", relPath, common.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// seed stores a blob directly and returns the document fields pointing at it.
func (c *fakeCache) seed(displayName string, content []byte) (hash, url string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := sha256.Sum256(content)
	hash = hex.EncodeToString(sum[:])
	rel := cache.RelPath(hash, displayName)
	c.blobs[rel] = content
	return hash, cache.URL(rel), int64(len(content))
}

type fakeWaker struct {
	mu sync.Mutex
	n  int
}

func (w *fakeWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
}

func (w *fakeWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func quietLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	return &config.Config{
		UploadBatchSize: 10,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
		UploadMimeTypes: "md:text/markdown,mdx:text/markdown,l:text/markdown",
	}
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
