package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/blake2b"

	"github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical"
)

const staticPrefix = "cache/"

// StaticCache is the generation-named static asset cache. Every entry
// belongs to exactly one generation; entries in non-current generations
// are unreachable and reclaimed only by a generation purge. There is no
// partial or LRU eviction here.
type StaticCache struct {
	storage physical.Storage
	logger  logger.Logger
}

// NewStaticCache builds a static cache on the given backend.
func NewStaticCache(storage physical.Storage, log logger.Logger) *StaticCache {
	return &StaticCache{
		storage: storage,
		logger:  log,
	}
}

func entryKey(generation string, req *http.Request) string {
	sum := blake2b.Sum256([]byte(requestKey(req)))
	return staticPrefix + generation + "/" + hex.EncodeToString(sum[:])
}

// Put stores a response under the given generation.
func (c *StaticCache) Put(ctx context.Context, generation string, req *http.Request, resp *CachedResponse) error {
	encoded, err := encodeResponse(resp)
	if err != nil {
		return err
	}
	return c.storage.Put(ctx, &physical.Entry{
		Key:   entryKey(generation, req),
		Value: encoded,
	})
}

// Match returns the cached response for a request in the given
// generation, or nil on miss.
func (c *StaticCache) Match(ctx context.Context, generation string, req *http.Request) (*CachedResponse, error) {
	entry, err := c.storage.Get(ctx, entryKey(generation, req))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return decodeResponse(entry.Value)
}

// Generations lists the cache generations present in storage.
func (c *StaticCache) Generations(ctx context.Context) ([]string, error) {
	names, err := c.storage.List(ctx, staticPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, strings.TrimSuffix(name, "/"))
	}
	return out, nil
}

// EntryCount returns the number of entries in a generation.
func (c *StaticCache) EntryCount(ctx context.Context, generation string) (int, error) {
	keys, err := c.storage.List(ctx, staticPrefix+generation+"/")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteGeneration removes every entry belonging to a generation.
func (c *StaticCache) DeleteGeneration(ctx context.Context, generation string) error {
	prefix := staticPrefix + generation + "/"
	keys, err := c.storage.List(ctx, prefix)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, key := range keys {
		if err := c.storage.Delete(ctx, prefix+key); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to delete %q: %w", key, err))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return err
	}

	c.logger.Debug("cache generation deleted",
		logger.String("generation", generation),
		logger.Int("entries", len(keys)))
	return nil
}
