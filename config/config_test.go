package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "edge.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
log_level  = "debug"
log_format = "json"

listener "api" {
  address = "127.0.0.1:8675"
}

storage "file" {
  path = "/var/lib/donantes-edge"
}

identity {
  base_url = "https://identitytoolkit.googleapis.com"
  api_key  = "web-api-key"
}

backend {
  address     = "https://api.donantes.example"
  max_retries = 3
  rate_limit  = 10
}

cache {
  build_id            = "20260828120000"
  base_url            = "https://app.donantes.example"
  manifest            = ["/", "/styles.css", "/app.js"]
  offline_shell       = "/"
  runtime_ttl_seconds = 120
  network_first_hosts = ["identitytoolkit.googleapis.com"]
  api_path_prefixes   = ["/api/"]
}
`

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, fullConfig)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)

	require.Len(t, config.Listeners, 1)
	assert.Equal(t, "api", config.Listeners[0].Name)
	assert.Equal(t, "127.0.0.1:8675", config.Listeners[0].Address)

	require.NotNil(t, config.Storage)
	assert.Equal(t, "file", config.Storage.Type)
	assert.Equal(t, "/var/lib/donantes-edge", config.Storage.Path)

	require.NotNil(t, config.Identity)
	assert.Equal(t, "https://identitytoolkit.googleapis.com", config.Identity.BaseURL)
	assert.Equal(t, "web-api-key", config.Identity.APIKey)

	require.NotNil(t, config.Backend)
	assert.Equal(t, "https://api.donantes.example", config.Backend.Address)
	assert.Equal(t, 3, config.Backend.MaxRetries)

	require.NotNil(t, config.Cache)
	assert.Equal(t, "20260828120000", config.Cache.BuildID)
	assert.Equal(t, []string{"/", "/styles.css", "/app.js"}, config.Cache.Manifest)
	assert.Equal(t, "/", config.Cache.OfflineShell)
	assert.Equal(t, []string{"identitytoolkit.googleapis.com"}, config.Cache.NetworkFirstHosts)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/edge.hcl")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidHCL(t *testing.T) {
	path := writeConfig(t, `listener "api" {`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestStorageBlock_Config(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		block := &StorageBlock{Type: "file", Path: "/data"}
		conf := block.Config()
		assert.Equal(t, "file", conf["type"])
		assert.Equal(t, "/data", conf["path"])
		_, ok := conf["max_value_size"]
		assert.False(t, ok)
	})

	t.Run("inmem with limit", func(t *testing.T) {
		block := &StorageBlock{Type: "inmem", MaxValueSize: 1024}
		conf := block.Config()
		assert.Equal(t, "inmem", conf["type"])
		assert.Equal(t, "1024", conf["max_value_size"])
	})
}

func TestCacheBlock_RuntimeTTL(t *testing.T) {
	assert.Equal(t, 5*time.Minute, (&CacheBlock{}).RuntimeTTL())
	assert.Equal(t, 2*time.Minute, (&CacheBlock{RuntimeTTLSeconds: 120}).RuntimeTTL())
	assert.Equal(t, 5*time.Minute, (&CacheBlock{RuntimeTTLSeconds: -1}).RuntimeTTL())
}

func TestGetListenerByName(t *testing.T) {
	path := writeConfig(t, fullConfig)
	config, err := LoadConfig(path)
	require.NoError(t, err)

	listener, err := config.GetListenerByName("api")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8675", listener.Address)

	_, err = config.GetListenerByName("missing")
	assert.Error(t, err)
}

func TestGetAPIListener(t *testing.T) {
	path := writeConfig(t, fullConfig)
	config, err := LoadConfig(path)
	require.NoError(t, err)

	listener, err := config.GetAPIListener()
	require.NoError(t, err)
	assert.Equal(t, "api", listener.Name)
}
