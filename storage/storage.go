// Package storage abstracts the blob store that holds uploaded image
// bytes. Rows in the database record only blob keys; nothing in the core
// reads image bytes back except the inference path.
package storage

import (
	"context"
	"io"
)

type BlobStore interface {
	// Put stores the blob under key, overwriting any previous content.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
