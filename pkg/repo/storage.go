package repo

import (
	"context"
)

// Storage persists snapshot history entries under flat keys.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Write stores data under key, replacing what was there.
	Write(ctx context.Context, key string, data []byte) error

	// Read returns the data stored under key.
	// It returns os.ErrNotExist if the key does not exist.
	Read(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix, newest first.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key, a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
