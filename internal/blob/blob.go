// Package blob defines the object-storage collaborator contract. The core
// only ever stores the returned public URL in document fields, never
// bytes; the actual transport lives outside this service.
package blob

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Store uploads a blob and returns its public URL.
type Store interface {
	Upload(ctx context.Context, data []byte, folder string) (string, error)
}

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".pdf":  true,
}

// ValidateUpload checks file type and size locally before any network
// call. Rejected uploads must never reach the blob collaborator.
func ValidateUpload(filename string, size, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return errors.Errorf("file type %q is not allowed", ext)
	}
	if size <= 0 {
		return errors.New("file is empty")
	}
	if size > maxBytes {
		return errors.Errorf("file exceeds maximum size of %d bytes", maxBytes)
	}
	return nil
}
