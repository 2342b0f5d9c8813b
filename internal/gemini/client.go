// Package gemini implements the client for the Gemini File Search REST API:
// store lifecycle, document upload as a long-running operation, operation
// polling, and document listing for reconciliation.
package gemini

import (
	"context"
	"io"

	"github.com/dmitrijs2005/fsmirror/internal/models"
)

// UploadRequest carries one document upload. MimeType may be empty, in which
// case no MIME type is sent and the remote store detects it.
type UploadRequest struct {
	DisplayName    string
	MimeType       string
	CustomMetadata []models.CustomMetadata
	Body           io.Reader
}

// Client is the remote store contract consumed by the services layer.
type Client interface {
	// CreateStore provisions a remote file search store and returns it with
	// its resource name populated.
	CreateStore(ctx context.Context, displayName string) (*Store, error)
	// GetStore fetches a store by resource name.
	GetStore(ctx context.Context, name string) (*Store, error)
	// DeleteStore removes a store; force also removes its documents.
	// A remote 404 counts as success.
	DeleteStore(ctx context.Context, name string, force bool) error
	// ListDocuments returns the full document listing of a store, walking
	// remote pagination internally.
	ListDocuments(ctx context.Context, storeName string) ([]Document, error)
	// Upload starts a document upload and returns the operation handle.
	Upload(ctx context.Context, storeName string, req UploadRequest) (*Operation, error)
	// GetOperation refreshes an operation handle.
	GetOperation(ctx context.Context, name string) (*Operation, error)
	// GetDocument fetches one remote document by resource name.
	GetDocument(ctx context.Context, name string) (*Document, error)
	// DeleteDocument removes a remote document. A remote 404 counts as
	// success.
	DeleteDocument(ctx context.Context, name string) error
}
