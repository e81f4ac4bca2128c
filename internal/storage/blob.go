package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// BlobStore is durable storage for uploaded packages and relocated assets.
// Put overwrites an existing key, so re-running a stage with the same key is safe.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error) // returns canonical key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	URL(key string) (string, error) // public URL for a stored key
}

// CleanKey normalizes a key and rejects ones that escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", errors.New("empty key")
	}
	return key, nil
}

func publicURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + key
}
