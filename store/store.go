package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/fadelink/fadelink/models"
)

var (
	// ErrNotFound means the key is absent or its TTL already reclaimed it.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict means a concurrent writer changed the record since it was read.
	ErrConflict = errors.New("store: conditional write conflict")
	// ErrIDTaken means the identifier is already bound to another record.
	ErrIDTaken = errors.New("store: identifier already in use")
)

// ObjectStore holds opaque blobs and hands out time-limited access to them.
// Objects are written once and only ever deleted afterwards.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	// Remove deletes key. A missing key is success.
	Remove(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// ListOlderThan returns keys under prefix last modified before cutoff.
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
}

// MetadataStore is a TTL key-value store with an atomic conditional write.
// The conditional write is the only way a record may be mutated.
type MetadataStore interface {
	Get(ctx context.Context, id string) (*models.ShareLink, error)
	// Create writes the record only if id is unused, with the given TTL as a
	// crash-safety backstop. Returns ErrIDTaken on collision.
	Create(ctx context.Context, id string, rec *models.ShareLink, ttl time.Duration) error
	// CompareAndSwap replaces the record only while it still equals prev,
	// keeping the key's TTL. Returns ErrConflict when a concurrent writer won.
	CompareAndSwap(ctx context.Context, id string, prev, next *models.ShareLink) error
	// Delete removes the key. A missing key is success.
	Delete(ctx context.Context, id string) error
}

// CleanupQueue delivers cleanup jobs at least once; consumers must tolerate
// redelivery.
type CleanupQueue interface {
	Publish(ctx context.Context, job models.CleanupJob) error
}
