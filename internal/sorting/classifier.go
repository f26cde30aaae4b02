// Package sorting classifies recorded files into categories for the
// file-type sorting supplement: an extension map checked first, falling
// back to the file's top-level MIME type, mirroring FileTypeSorter's
// get_file_category.
package sorting

import (
	"mime"
	"path/filepath"
	"strings"
)

const unknownCategory = "unknown"

// Classifier assigns a category to a file given its local path and MIME
// type. Zero value is ready to use with no extension overrides.
type Classifier struct {
	// extensionToCategory maps a lowercase extension (with leading dot,
	// e.g. ".pdf") to the category it belongs to, built once from the
	// configured extension_mapping (category -> []extensions).
	extensionToCategory map[string]string
}

// NewClassifier builds a Classifier from the configured category ->
// extensions mapping. When an extension is listed under more than one
// category, which of them it maps to is not defined (map iteration order).
func NewClassifier(extensionMapping map[string][]string) *Classifier {
	c := &Classifier{extensionToCategory: make(map[string]string)}
	for category, extensions := range extensionMapping {
		for _, ext := range extensions {
			c.extensionToCategory[strings.ToLower(ext)] = category
		}
	}
	return c
}

// Classify returns localPath's category: an extension-mapping hit first,
// then the MIME type's top-level component (e.g. "image/jpeg" -> "image"),
// falling back to "unknown" when neither is available.
func (c *Classifier) Classify(localPath, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ext != "" {
		if cat, ok := c.extensionToCategory[ext]; ok {
			return cat
		}
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if idx := strings.IndexByte(mimeType, '/'); idx > 0 {
		return mimeType[:idx]
	}
	return unknownCategory
}
