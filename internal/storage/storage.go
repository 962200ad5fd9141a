package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

// FileStorage defines the durable-write capability the relay commits artifacts through.
// Implementations must be safe for concurrent use.
type FileStorage interface {
	// Put writes data as dir/name and returns the resolved location (absolute path or object URL).
	// Readers never observe a partially written object at the final key.
	Put(ctx context.Context, dir, name string, data []byte, contentType string) (string, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// EnsureDirectory creates dir and its parents. Creating an existing directory is not an error.
	EnsureDirectory(ctx context.Context, dir string) error

	// Locate returns the location Put would report for key, without touching the backend.
	Locate(key string) string
}

// URLSigner is implemented by backends that can hand out temporary download URLs.
type URLSigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)
}

var (
	ErrInvalidKey = errors.New("invalid storage key")
)

// CleanKey normalizes a slash separated key and rejects anything that escapes the storage root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// joinKey joins a directory and a name into an object key; an empty dir yields the bare name.
func joinKey(dir, name string) (string, error) {
	if dir == "" {
		return CleanKey(name)
	}
	return CleanKey(path.Join(dir, name))
}
