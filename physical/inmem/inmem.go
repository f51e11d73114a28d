package inmem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/armon/go-radix"

	log "github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
)

// Verify interfaces are satisfied
var _ physical.Storage = (*InmemStorage)(nil)

// InmemStorage is an in-memory only Storage. It backs the session-scoped
// half of the agent's storage and is the default in dev mode, where the
// data is not expected to survive a restart.
type InmemStorage struct {
	sync.RWMutex
	root         *radix.Tree
	permitPool   *physical.PermitPool
	logger       log.Logger
	maxValueSize int
}

// NewInmem constructs a new in-memory storage backend
func NewInmem(conf map[string]string, logger log.Logger) (physical.Storage, error) {
	maxValueSize := 0
	if raw, ok := conf["max_value_size"]; ok {
		var err error
		maxValueSize, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid max_value_size: %w", err)
		}
	}

	return &InmemStorage{
		root:         radix.New(),
		permitPool:   physical.NewPermitPool(physical.DefaultParallelOperations),
		logger:       logger,
		maxValueSize: maxValueSize,
	}, nil
}

// Put is used to insert or update an entry
func (i *InmemStorage) Put(ctx context.Context, entry *physical.Entry) error {
	i.permitPool.Acquire()
	defer i.permitPool.Release()

	i.Lock()
	defer i.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if i.maxValueSize > 0 && len(entry.Value) > i.maxValueSize {
		return fmt.Errorf("%w: %d > %d", physical.ErrValueTooLarge, len(entry.Value), i.maxValueSize)
	}

	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	i.root.Insert(entry.Key, value)

	return nil
}

// Get fetches an entry, returning nil if the key is absent
func (i *InmemStorage) Get(ctx context.Context, key string) (*physical.Entry, error) {
	i.permitPool.Acquire()
	defer i.permitPool.Release()

	i.RLock()
	defer i.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if raw, ok := i.root.Get(key); ok {
		stored := raw.([]byte)
		value := make([]byte, len(stored))
		copy(value, stored)
		return &physical.Entry{
			Key:   key,
			Value: value,
		}, nil
	}
	return nil, nil
}

// Delete removes an entry; deleting an absent key is not an error
func (i *InmemStorage) Delete(ctx context.Context, key string) error {
	i.permitPool.Acquire()
	defer i.permitPool.Release()

	i.Lock()
	defer i.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	i.root.Delete(key)
	return nil
}

// List returns the set of keys directly under the given prefix
func (i *InmemStorage) List(ctx context.Context, prefix string) ([]string, error) {
	i.permitPool.Acquire()
	defer i.permitPool.Release()

	i.RLock()
	defer i.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out []string
	seen := make(map[string]struct{})
	walkFn := func(s string, v interface{}) bool {
		trimmed := strings.TrimPrefix(s, prefix)
		sep := strings.Index(trimmed, "/")
		if sep == -1 {
			out = append(out, trimmed)
		} else {
			trimmed = trimmed[:sep+1]
			if _, ok := seen[trimmed]; !ok {
				out = append(out, trimmed)
				seen[trimmed] = struct{}{}
			}
		}
		return false
	}
	i.root.WalkPrefix(prefix, walkFn)

	return out, nil
}
