package gemini

import "github.com/dmitrijs2005/fsmirror/internal/models"

// Store is the remote fileSearchStores resource. Count fields arrive as
// quoted int64 strings, hence the ",string" tags.
type Store struct {
	Name                  string `json:"name,omitempty"`
	DisplayName           string `json:"displayName,omitempty"`
	CreateTime            string `json:"createTime,omitempty"`
	UpdateTime            string `json:"updateTime,omitempty"`
	ActiveDocumentsCount  int64  `json:"activeDocumentsCount,string,omitempty"`
	PendingDocumentsCount int64  `json:"pendingDocumentsCount,string,omitempty"`
	FailedDocumentsCount  int64  `json:"failedDocumentsCount,string,omitempty"`
	SizeBytes             int64  `json:"sizeBytes,string,omitempty"`
}

// Document is the remote document resource inside a file search store.
type Document struct {
	Name           string                  `json:"name,omitempty"`
	DisplayName    string                  `json:"displayName,omitempty"`
	CustomMetadata []models.CustomMetadata `json:"customMetadata,omitempty"`
	CreateTime     string                  `json:"createTime,omitempty"`
	UpdateTime     string                  `json:"updateTime,omitempty"`
	SizeBytes      int64                   `json:"sizeBytes,string,omitempty"`
	MimeType       string                  `json:"mimeType,omitempty"`
	State          string                  `json:"state,omitempty"`
}

// MetaValues exposes the document's custom metadata for keyed lookups.
func (d *Document) MetaValues() models.MetaValues {
	return models.MetaValues(d.CustomMetadata)
}

// Status is the google.rpc.Status error payload carried by failed operations.
type Status struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// OperationResponse is the payload of a finished upload operation.
type OperationResponse struct {
	DocumentName string `json:"documentName,omitempty"`
}

// Operation is a long-running remote operation handle. Done stays false
// until the remote store finishes processing, after which exactly one of
// Error or Response is populated.
type Operation struct {
	Name     string             `json:"name,omitempty"`
	Done     bool               `json:"done,omitempty"`
	Error    *Status            `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

type createStoreRequest struct {
	DisplayName string `json:"displayName"`
}

type listDocumentsResponse struct {
	Documents     []Document `json:"documents"`
	NextPageToken string     `json:"nextPageToken"`
}

// uploadMetadata is the JSON part of the multipart upload request. MimeType
// is omitted when empty; the remote store then infers the type itself, which
// is the only way JSON files upload successfully.
type uploadMetadata struct {
	DisplayName    string                  `json:"displayName"`
	CustomMetadata []models.CustomMetadata `json:"customMetadata,omitempty"`
	MimeType       string                  `json:"mimeType,omitempty"`
}
