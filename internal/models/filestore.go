package models

import "time"

// Filestore binds a local document set to one remote file-search store.
// Counter fields are always derived from the document rows by the stats
// aggregator, never hand-edited.
type Filestore struct {
	ID        int64     `json:"id"`
	User      *string   `json:"user,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Name is the remote resource name ("fileSearchStores/...").
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	CreateTime  string `json:"createTime,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`

	ActiveDocumentsCount  int64 `json:"activeDocumentsCount"`
	PendingDocumentsCount int64 `json:"pendingDocumentsCount"`
	FailedDocumentsCount  int64 `json:"failedDocumentsCount"`
	SizeBytes             int64 `json:"sizeBytes"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *string        `json:"error,omitempty"`
	Ref      *string        `json:"ref,omitempty"`
}

// CategoryCount is one row of the per-category aggregation.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Size     int64  `json:"size"`
}
