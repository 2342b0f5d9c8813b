package config

import "strings"

// MimeOverrides parses UploadMimeTypes into an extension-to-MIME map.
// Keys are lowercased and stripped of any leading dot, so "MDX:text/markdown"
// and ".mdx:text/markdown" both map the "mdx" extension. Malformed or empty
// segments are skipped.
func (c *Config) MimeOverrides() map[string]string {
	overrides := make(map[string]string)
	for _, pair := range strings.Split(c.UploadMimeTypes, ",") {
		ext, mimeType, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		mimeType = strings.TrimSpace(mimeType)
		if ext == "" || mimeType == "" {
			continue
		}
		overrides[ext] = mimeType
	}
	return overrides
}
