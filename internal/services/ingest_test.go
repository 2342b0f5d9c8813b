package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/fsmirror/internal/common"
	"github.com/dmitrijs2005/fsmirror/internal/models"
)

func newIngestion(t *testing.T, docs *memDocsRepo, fs *fakeFilestoresRepo, client *fakeClient, cc *fakeCache, waker Waker) (*IngestionService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newSQLMockDB(t)
	t.Cleanup(func() { _ = db.Close() })
	s := NewIngestionService(db, &fakeRepoManager{d: docs, f: fs}, cc, client, testConfig(), testMetrics(), quietLogger(), waker)
	return s, mock
}

func TestIngest_CreatesPendingDocument(t *testing.T) {
	docs := newMemDocsRepo()
	fsRepo := newFakeFilestoresRepo()
	store := fsRepo.add(&models.Filestore{Name: "fileSearchStores/abc", DisplayName: "docs"})
	waker := &fakeWaker{}
	s, mock := newIngestion(t, docs, fsRepo, newFakeClient(), newFakeCache(), waker)

	mock.ExpectBegin()
	mock.ExpectCommit()

	category := "reports"
	doc, err := s.Ingest(context.Background(), &IngestInput{
		FilestoreID: store.ID,
		DisplayName: "notes.md",
		Category:    &category,
		Tags:        map[string]float64{"priority": 2},
		Body:        strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}

	sum := sha256.Sum256([]byte("hello"))
	wantHash := hex.EncodeToString(sum[:])
	if doc.Hash != wantHash {
		t.Fatalf("hash = %s, want %s", doc.Hash, wantHash)
	}
	if doc.Size != 5 {
		t.Fatalf("size = %d, want 5", doc.Size)
	}
	if doc.State != models.StatePending {
		t.Fatalf("state = %s, want %s", doc.State, models.StatePending)
	}
	if doc.MimeType != "text/markdown" {
		t.Fatalf("mimeType = %q, want text/markdown", doc.MimeType)
	}
	if doc.Filename != wantHash+".md" {
		t.Fatalf("filename = %q", doc.Filename)
	}
	if doc.URL != "/~cache/"+wantHash[:2]+"/"+wantHash+".md" {
		t.Fatalf("url = %q", doc.URL)
	}
	if doc.StartedAt != nil || doc.UploadedAt != nil || doc.Error != nil {
		t.Fatalf("fresh document carries outcome markers: %+v", doc)
	}
	if doc.Category == nil || *doc.Category != "reports" {
		t.Fatalf("category = %v, want reports", doc.Category)
	}

	if waker.count() != 1 {
		t.Fatalf("worker woken %d times, want 1", waker.count())
	}
	if len(fsRepo.recomputed) != 1 || fsRepo.recomputed[0] != store.ID {
		t.Fatalf("stats recomputed for %v, want [%d]", fsRepo.recomputed, store.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestIngest_ReplacesSameContent(t *testing.T) {
	docs := newMemDocsRepo()
	fsRepo := newFakeFilestoresRepo()
	store := fsRepo.add(&models.Filestore{Name: "fileSearchStores/abc", DisplayName: "docs"})
	cc := newFakeCache()
	s, mock := newIngestion(t, docs, fsRepo, newFakeClient(), cc, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()
	first, err := s.Ingest(context.Background(), &IngestInput{
		FilestoreID: store.ID,
		DisplayName: "notes.md",
		Body:        strings.NewReader("same bytes"),
	})
	if err != nil {
		t.Fatalf("first Ingest error: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectCommit()
	second, err := s.Ingest(context.Background(), &IngestInput{
		FilestoreID: store.ID,
		DisplayName: "renamed.md",
		Body:        strings.NewReader("same bytes"),
	})
	if err != nil {
		t.Fatalf("second Ingest error: %v", err)
	}

	if second.ID <= first.ID {
		t.Fatalf("second ingest id = %d, want a fresh record after %d", second.ID, first.ID)
	}
	all := docs.all()
	if len(all) != 1 {
		t.Fatalf("documents with the content: %d, want the last writer only", len(all))
	}
	if all[0].ID != second.ID || all[0].DisplayName != "renamed.md" {
		t.Fatalf("surviving document = %+v, want the re-ingested one", all[0])
	}
	if len(cc.blobs) != 1 {
		t.Fatalf("cached blobs = %d, want identical content stored once", len(cc.blobs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestIngest_RemovesSupersededRemoteCopy(t *testing.T) {
	docs := newMemDocsRepo()
	fsRepo := newFakeFilestoresRepo()
	store := fsRepo.add(&models.Filestore{Name: "fileSearchStores/abc", DisplayName: "docs"})
	client := newFakeClient()
	cc := newFakeCache()

	hash, url, size := cc.seed("old.md", []byte("shared content"))
	prev := docs.add(&models.Document{
		FilestoreID: store.ID,
		Hash:        hash,
		URL:         url,
		Size:        size,
		DisplayName: "old.md",
		State:       models.StateActive,
		Name:        "fileSearchStores/abc/documents/old",
	})

	s, mock := newIngestion(t, docs, fsRepo, client, cc, nil)
	mock.ExpectBegin()
	mock.ExpectCommit()

	doc, err := s.Ingest(context.Background(), &IngestInput{
		FilestoreID: store.ID,
		DisplayName: "old.md",
		Body:        strings.NewReader("shared content"),
	})
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}

	if len(client.deletedDocs) != 1 || client.deletedDocs[0] != prev.Name {
		t.Fatalf("remote deletions = %v, want [%s]", client.deletedDocs, prev.Name)
	}
	if _, err := docs.GetByID(context.Background(), prev.ID, nil); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("superseded document still present: %v", err)
	}
	got := docs.get(doc.ID)
	if got.State != models.StatePending || got.Name != "" {
		t.Fatalf("replacement = %s / %q, want fresh pending record", got.State, got.Name)
	}
}

func TestIngest_ValidatesInput(t *testing.T) {
	fsRepo := newFakeFilestoresRepo()
	store := fsRepo.add(&models.Filestore{Name: "fileSearchStores/abc", DisplayName: "docs"})
	s, _ := newIngestion(t, newMemDocsRepo(), fsRepo, newFakeClient(), newFakeCache(), nil)

	_, err := s.Ingest(context.Background(), &IngestInput{FilestoreID: store.ID, Body: strings.NewReader("x")})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("missing display name: want ErrInvalidInput, got %v", err)
	}

	_, err = s.Ingest(context.Background(), &IngestInput{FilestoreID: store.ID, DisplayName: "a.md"})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("missing body: want ErrInvalidInput, got %v", err)
	}
}

func TestIngest_UnknownFilestore(t *testing.T) {
	s, _ := newIngestion(t, newMemDocsRepo(), newFakeFilestoresRepo(), newFakeClient(), newFakeCache(), nil)

	_, err := s.Ingest(context.Background(), &IngestInput{
		FilestoreID: 42,
		DisplayName: "a.md",
		Body:        strings.NewReader("x"),
	})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolveMimeType(t *testing.T) {
	overrides := map[string]string{"mdx": "text/markdown"}

	cases := []struct {
		name        string
		displayName string
		want        string
	}{
		{"override wins", "guide.mdx", "text/markdown"},
		{"override is case-insensitive", "GUIDE.MDX", "text/markdown"},
		{"stdlib lookup", "data.json", "application/json"},
		{"parameters stripped", "page.html", "text/html"},
		{"unknown extension", "blob.q0x", ""},
		{"no extension", "README", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveMimeType(tc.displayName, overrides); got != tc.want {
				t.Fatalf("resolveMimeType(%q) = %q, want %q", tc.displayName, got, tc.want)
			}
		})
	}
}
