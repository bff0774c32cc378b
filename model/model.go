package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// NewDocument builds a freshly submitted document in the uploading state.
func NewDocument(fileName string, data []byte, createdAt time.Time) *Document {
	if fileName == "" {
		fileName = DefaultFileName(createdAt)
	}
	return &Document{
		DocumentID: GenerateUUIDWithSuffix("doc"),
		Status:     StatusUploading,
		FileName:   fileName,
		ImageData:  data,
		CreatedAt:  createdAt,
	}
}

// DefaultFileName names an upload that came without one.
func DefaultFileName(at time.Time) string {
	return fmt.Sprintf("document_%d.jpg", at.UnixMilli())
}

// StripDataURI removes a "data:<mime>;base64," prefix from an encoded image.
func StripDataURI(encoded string) string {
	encoded = strings.TrimSpace(encoded)
	if !strings.HasPrefix(encoded, "data:") {
		return encoded
	}
	if idx := strings.Index(encoded, ","); idx >= 0 {
		return encoded[idx+1:]
	}
	return encoded
}
