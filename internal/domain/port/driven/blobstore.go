package driven

import "context"

// BlobStore defines the driven port for durable key/value blob persistence.
// The key collection round-trips through it as one opaque serialized value;
// the encoding is owned by the caller, not the store.
type BlobStore interface {
	// LoadBlob returns the stored value for key, or (nil, nil) when absent.
	LoadBlob(ctx context.Context, key string) ([]byte, error)

	// SaveBlob stores or replaces the value for key.
	SaveBlob(ctx context.Context, key string, value []byte) error
}
