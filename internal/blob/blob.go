// Package blob stores exported files and hands out retrieval URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidKey means a key would escape the store's namespace.
var ErrInvalidKey = errors.New("invalid blob key")

// Store keeps blobs under slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// ExportKey returns the app- and owner-scoped key for an exported file.
func ExportKey(appID, ownerID, fileName string) string {
	return fmt.Sprintf("artifacts/%s/exports/%s/%s", appID, ownerID, fileName)
}

// CleanKey validates a key and returns it in canonical form.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}
