package physical

import (
	"context"
	"errors"

	"github.com/donantes/edge/logger"
)

var (
	// ErrStorageUnavailable is returned when the host denies durable storage.
	ErrStorageUnavailable = errors.New("durable storage unavailable")

	// ErrValueTooLarge is returned when an entry exceeds the configured limit.
	ErrValueTooLarge = errors.New("value exceeds maximum size")
)

// Entry is a single key/value record in a storage backend.
type Entry struct {
	Key   string
	Value []byte
}

// Storage is the interface required for a durable key/value backend.
// Keys are slash-delimited paths; List returns the names directly under
// a prefix, with nested levels reported as "name/".
type Storage interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Factory is the factory function to create a storage backend.
type Factory func(conf map[string]string, log logger.Logger) (Storage, error)

// DefaultParallelOperations is the default permit pool size.
const DefaultParallelOperations = 128

// PermitPool bounds the number of concurrent storage operations.
type PermitPool struct {
	sem chan struct{}
}

// NewPermitPool returns a pool that allows at most n concurrent operations.
func NewPermitPool(n int) *PermitPool {
	if n <= 0 {
		n = DefaultParallelOperations
	}
	return &PermitPool{sem: make(chan struct{}, n)}
}

// Acquire returns when a permit has been acquired.
func (p *PermitPool) Acquire() {
	p.sem <- struct{}{}
}

// Release returns a permit to the pool.
func (p *PermitPool) Release() {
	<-p.sem
}
