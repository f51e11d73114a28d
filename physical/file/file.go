package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
)

// Verify interfaces are satisfied
var _ physical.Storage = (*FileBackend)(nil)

// FileBackend is a durable Storage backed by the local filesystem. It is
// the agent's equivalent of origin-scoped browser storage: entries survive
// restarts and are private to the configured path. Writes are committed
// with fsync-then-rename so a successful Put is durable.
type FileBackend struct {
	sync.RWMutex
	path       string
	permitPool *physical.PermitPool
	logger     log.Logger
}

type fileEntry struct {
	Value []byte `json:"value"`
}

// NewFileBackend constructs a file-based storage rooted at conf["path"]
func NewFileBackend(conf map[string]string, logger log.Logger) (physical.Storage, error) {
	path, ok := conf["path"]
	if !ok || path == "" {
		return nil, errors.New("'path' must be set")
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", physical.ErrStorageUnavailable, err)
	}

	return &FileBackend{
		path:       path,
		permitPool: physical.NewPermitPool(physical.DefaultParallelOperations),
		logger:     logger,
	}, nil
}

// expandPath turns a storage key into a directory and an underscore-prefixed
// file name, keeping key names from colliding with nested prefixes.
func (b *FileBackend) expandPath(key string) (string, string) {
	path := filepath.Join(b.path, key)
	name := "_" + filepath.Base(path)
	return filepath.Dir(path), name
}

func (b *FileBackend) validatePath(key string) error {
	if strings.Contains(key, "..") {
		return errors.New("path cannot reference parents")
	}
	return nil
}

// Put is used to insert or update an entry
func (b *FileBackend) Put(ctx context.Context, entry *physical.Entry) error {
	if err := b.validatePath(entry.Key); err != nil {
		return err
	}
	dir, name := b.expandPath(entry.Key)

	b.permitPool.Acquire()
	defer b.permitPool.Release()

	b.Lock()
	defer b.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to make storage directory: %w", err)
	}

	encoded, err := json.Marshal(&fileEntry{Value: entry.Value})
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	target := filepath.Join(dir, name)
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open file for write: %w", err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync entry: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close entry file: %w", err)
	}

	return os.Rename(tmp, target)
}

// Get fetches an entry, returning nil if the key is absent
func (b *FileBackend) Get(ctx context.Context, key string) (*physical.Entry, error) {
	if err := b.validatePath(key); err != nil {
		return nil, err
	}
	dir, name := b.expandPath(key)

	b.permitPool.Acquire()
	defer b.permitPool.Release()

	b.RLock()
	defer b.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	var stored fileEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}

	return &physical.Entry{
		Key:   key,
		Value: stored.Value,
	}, nil
}

// Delete removes an entry; deleting an absent key is not an error
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := b.validatePath(key); err != nil {
		return err
	}
	dir, name := b.expandPath(key)

	b.permitPool.Acquire()
	defer b.permitPool.Release()

	b.Lock()
	defer b.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	// Prune now-empty parent directories up to the storage root.
	base, err := filepath.EvalSymlinks(b.path)
	if err != nil {
		return fmt.Errorf("failed to resolve storage root: %w", err)
	}
	for dir != "" {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil || resolved == base {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// List returns the set of keys directly under the given prefix
func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := b.validatePath(prefix); err != nil {
		return nil, err
	}

	b.permitPool.Acquire()
	defer b.permitPool.Release()

	b.RLock()
	defer b.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path := filepath.Join(b.path, prefix)
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		if e.IsDir() {
			out = append(out, name+"/")
		} else if strings.HasPrefix(name, "_") {
			out = append(out, name[1:])
		}
	}
	sort.Strings(out)

	return out, nil
}
