package models

// Custom metadata key names attached to every uploaded document. They let
// reconciliation recover local identity from a remote listing.
const (
	MetaKeyID       = "id"
	MetaKeyHash     = "hash"
	MetaKeyCategory = "category"
)

// StringList wraps the remote API's repeated-string metadata value.
type StringList struct {
	Values []string `json:"values,omitempty"`
}

// CustomMetadata is one key-value pair of remote document metadata. Exactly
// one of the value fields is set. The JSON shape matches the remote API so
// the stored copy and the wire copy are the same.
type CustomMetadata struct {
	Key             string      `json:"key"`
	StringValue     *string     `json:"stringValue,omitempty"`
	NumericValue    *float64    `json:"numericValue,omitempty"`
	StringListValue *StringList `json:"stringListValue,omitempty"`
}

// NewStringMeta builds a string-valued metadata pair.
func NewStringMeta(key, value string) CustomMetadata {
	return CustomMetadata{Key: key, StringValue: &value}
}

// NewNumericMeta builds a numeric-valued metadata pair.
func NewNumericMeta(key string, value float64) CustomMetadata {
	return CustomMetadata{Key: key, NumericValue: &value}
}

// MetaValues provides lookups over a metadata list.
type MetaValues []CustomMetadata

// Has reports whether a key is present, regardless of value kind.
func (m MetaValues) Has(key string) bool {
	for _, kv := range m {
		if kv.Key == key {
			return true
		}
	}
	return false
}

// String returns the string value for key and whether it was present.
func (m MetaValues) String(key string) (string, bool) {
	for _, kv := range m {
		if kv.Key == key && kv.StringValue != nil {
			return *kv.StringValue, true
		}
	}
	return "", false
}

// Numeric returns the numeric value for key and whether it was present.
func (m MetaValues) Numeric(key string) (float64, bool) {
	for _, kv := range m {
		if kv.Key == key && kv.NumericValue != nil {
			return *kv.NumericValue, true
		}
	}
	return 0, false
}

// UploadMetadata builds the metadata set sent with every upload: the
// document's id (numeric), content hash, and category. The category key is
// always present; its value is empty for uncategorized documents.
func UploadMetadata(id int64, hash string, category *string) []CustomMetadata {
	cat := ""
	if category != nil {
		cat = *category
	}
	return []CustomMetadata{
		NewNumericMeta(MetaKeyID, float64(id)),
		NewStringMeta(MetaKeyHash, hash),
		NewStringMeta(MetaKeyCategory, cat),
	}
}
