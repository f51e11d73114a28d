package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donantes/edge/logger"
	"github.com/donantes/edge/physical/inmem"
)

func newTestStaticCache(t *testing.T) *StaticCache {
	t.Helper()

	testLogger := logger.NewZerologLogger(logger.DefaultConfig())
	storage, err := inmem.NewInmem(nil, testLogger)
	require.NoError(t, err)

	return NewStaticCache(storage, testLogger)
}

func assetRequest(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, "https://app.donantes.example"+path, nil)
}

func assetResponse(body string) *CachedResponse {
	return &CachedResponse{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/css"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}

func TestStaticCache_PutMatch(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	req := assetRequest("/styles.css")
	require.NoError(t, cache.Put(ctx, "donantes-v1", req, assetResponse("body{}")))

	got, err := cache.Match(ctx, "donantes-v1", req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "body{}", string(got.Body))
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
}

func TestStaticCache_Match_Miss(t *testing.T) {
	cache := newTestStaticCache(t)

	got, err := cache.Match(context.Background(), "donantes-v1", assetRequest("/missing.css"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStaticCache_GenerationIsolation(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	req := assetRequest("/styles.css")
	require.NoError(t, cache.Put(ctx, "donantes-v1", req, assetResponse("v1")))
	require.NoError(t, cache.Put(ctx, "donantes-v2", req, assetResponse("v2")))

	got, err := cache.Match(ctx, "donantes-v1", req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v1", string(got.Body))

	got, err = cache.Match(ctx, "donantes-v2", req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", string(got.Body))
}

func TestStaticCache_Generations(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	generations, err := cache.Generations(ctx)
	require.NoError(t, err)
	assert.Empty(t, generations)

	require.NoError(t, cache.Put(ctx, "donantes-v1", assetRequest("/a.css"), assetResponse("a")))
	require.NoError(t, cache.Put(ctx, "donantes-v2", assetRequest("/a.css"), assetResponse("a")))

	generations, err = cache.Generations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"donantes-v1", "donantes-v2"}, generations)
}

func TestStaticCache_EntryCount(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	count, err := cache.EntryCount(ctx, "donantes-v1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, cache.Put(ctx, "donantes-v1", assetRequest("/a.css"), assetResponse("a")))
	require.NoError(t, cache.Put(ctx, "donantes-v1", assetRequest("/b.css"), assetResponse("b")))

	count, err = cache.EntryCount(ctx, "donantes-v1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStaticCache_DeleteGeneration(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	req := assetRequest("/a.css")
	require.NoError(t, cache.Put(ctx, "donantes-v1", req, assetResponse("a")))
	require.NoError(t, cache.Put(ctx, "donantes-v2", req, assetResponse("a")))

	require.NoError(t, cache.DeleteGeneration(ctx, "donantes-v1"))

	got, err := cache.Match(ctx, "donantes-v1", req)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = cache.Match(ctx, "donantes-v2", req)
	require.NoError(t, err)
	assert.NotNil(t, got, "other generations must be untouched")

	generations, err := cache.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"donantes-v2"}, generations)
}

func TestStaticCache_DeleteGeneration_Empty(t *testing.T) {
	cache := newTestStaticCache(t)

	require.NoError(t, cache.DeleteGeneration(context.Background(), "donantes-gone"))
}

func TestStaticCache_KeyIncludesQuery(t *testing.T) {
	cache := newTestStaticCache(t)
	ctx := context.Background()

	withQuery := assetRequest("/page?tab=1")
	without := assetRequest("/page")

	require.NoError(t, cache.Put(ctx, "donantes-v1", withQuery, assetResponse("tab")))

	got, err := cache.Match(ctx, "donantes-v1", without)
	require.NoError(t, err)
	assert.Nil(t, got, "different URLs must not share an entry")
}
