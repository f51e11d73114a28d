package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
)

const (
	// KeyAccess and KeyRefresh name the two credentials the backend issues.
	KeyAccess  = "access"
	KeyRefresh = "refresh"

	// storagePrefix scopes token entries within the shared backend.
	storagePrefix = "token/"

	lockCount = 32
)

var (
	// ErrStorageUnavailable is returned when the backing store cannot be used.
	ErrStorageUnavailable = physical.ErrStorageUnavailable

	// ErrStoreClosed is returned for operations on a closed store.
	ErrStoreClosed = errors.New("token store is closed")
)

// Store is the local token store. It owns every persisted token entry:
// no other component writes under its prefix. Writes to different keys
// proceed independently; writes to the same key serialize on a striped
// lock, so the last write to complete wins.
type Store struct {
	storage physical.Storage
	locks   []*sync.RWMutex
	logger  logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewStore opens the token store on top of the given backend. Opening is
// idempotent: the prefix namespace needs no initialization beyond the
// backend itself being usable.
func NewStore(storage physical.Storage, log logger.Logger) (*Store, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrStorageUnavailable)
	}

	locks := make([]*sync.RWMutex, lockCount)
	for i := range locks {
		locks[i] = new(sync.RWMutex)
	}

	return &Store{
		storage: storage,
		locks:   locks,
		logger:  log,
	}, nil
}

func (s *Store) lockForKey(key string) *sync.RWMutex {
	sum := blake2b.Sum256([]byte(key))
	return s.locks[int(sum[0])%lockCount]
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save upserts a token value under the given key. It returns only after
// the backend has durably committed the write.
func (s *Store) Save(ctx context.Context, key, value string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	l := s.lockForKey(key)
	l.Lock()
	defer l.Unlock()

	err := s.storage.Put(ctx, &physical.Entry{
		Key:   storagePrefix + key,
		Value: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("failed to save token %q: %w", key, err)
	}

	s.logger.Trace("token saved", logger.String("key", key))
	return nil
}

// Get returns the stored value for a key, or "" if absent. Absence is a
// valid, silent outcome, not an error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}

	l := s.lockForKey(key)
	l.RLock()
	defer l.RUnlock()

	entry, err := s.storage.Get(ctx, storagePrefix+key)
	if err != nil {
		return "", fmt.Errorf("failed to read token %q: %w", key, err)
	}
	if entry == nil {
		return "", nil
	}
	return string(entry.Value), nil
}

// SavePair persists the access and refresh tokens as a unit. A nil return
// guarantees both writes committed; on a partial failure the first write
// is rolled back to its previous value before the error is returned.
func (s *Store) SavePair(ctx context.Context, access, refresh string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	prevAccess, err := s.Get(ctx, KeyAccess)
	if err != nil {
		return err
	}
	hadAccess := prevAccess != ""

	if err := s.Save(ctx, KeyAccess, access); err != nil {
		return err
	}

	if err := s.Save(ctx, KeyRefresh, refresh); err != nil {
		// Undo the access write so callers never observe a half-saved pair.
		if hadAccess {
			if rbErr := s.Save(ctx, KeyAccess, prevAccess); rbErr != nil {
				s.logger.Error("failed to roll back access token after partial save",
					logger.Err(rbErr))
			}
		} else {
			if rbErr := s.delete(ctx, KeyAccess); rbErr != nil {
				s.logger.Error("failed to remove access token after partial save",
					logger.Err(rbErr))
			}
		}
		return fmt.Errorf("failed to save token pair: %w", err)
	}

	s.logger.Debug("token pair saved")
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	l := s.lockForKey(key)
	l.Lock()
	defer l.Unlock()

	return s.storage.Delete(ctx, storagePrefix+key)
}

// Clear removes every stored token. Used on logout.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	keys, err := s.storage.List(ctx, storagePrefix)
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	for _, key := range keys {
		if err := s.delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete token %q: %w", key, err)
		}
	}

	s.logger.Debug("token store cleared", logger.Int("deleted", len(keys)))
	return nil
}

// Keys lists the names of all stored tokens.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.storage.List(ctx, storagePrefix)
}

// Close marks the store closed. Further operations fail with ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
