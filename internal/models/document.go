package models

import "time"

// Document is one uploaded file's local+remote metadata record, bound to
// exactly one Filestore.
type Document struct {
	ID          int64     `json:"id"`
	FilestoreID int64     `json:"filestoreId"`
	User        *string   `json:"user,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Local cache identity. Filename is hash-derived ("<hash><ext>"); URL
	// points into the content-addressed cache ("/~cache/<hh>/<hash><ext>").
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Hash     string `json:"hash"`
	Size     int64  `json:"size"`

	DisplayName string `json:"displayName"`

	// Remote identity, absent until uploaded.
	Name           string           `json:"name,omitempty"`
	CustomMetadata []CustomMetadata `json:"customMetadata,omitempty"`
	CreateTime     string           `json:"createTime,omitempty"`
	UpdateTime     string           `json:"updateTime,omitempty"`
	SizeBytes      int64            `json:"sizeBytes,omitempty"`
	MimeType       string           `json:"mimeType,omitempty"`

	State     State     `json:"state"`
	SyncState SyncState `json:"syncState,omitempty"`

	Category *string            `json:"category,omitempty"`
	Tags     map[string]float64 `json:"tags,omitempty"`

	// Upload timing markers. StartedAt doubles as the claim flag: a pending
	// document with StartedAt set is in flight.
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Error    *string        `json:"error,omitempty"`
	Ref      *string        `json:"ref,omitempty"`
}

// EffectiveState is the state shown to operators: the reconciliation overlay
// when present, the lifecycle state otherwise.
func (d *Document) EffectiveState() string {
	if d.SyncState != SyncStateNone {
		return string(d.SyncState)
	}
	return string(d.State)
}

// Claimed reports whether the document is currently claimed for upload.
func (d *Document) Claimed() bool {
	return d.State == StatePending && d.StartedAt != nil
}

// Label renders the "category/displayName" identifier used in sync report
// samples and log lines.
func (d *Document) Label() string {
	if d.Category != nil && *d.Category != "" {
		return *d.Category + "/" + d.DisplayName
	}
	return d.DisplayName
}

// ErrorMessage returns the recorded error text, empty when none.
func (d *Document) ErrorMessage() string {
	if d.Error == nil {
		return ""
	}
	return *d.Error
}
