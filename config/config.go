package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the configuration for the donantes edge agent.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Identity  *IdentityBlock  `hcl:"identity,block"`
	Backend   *BackendBlock   `hcl:"backend,block"`
	Cache     *CacheBlock     `hcl:"cache,block"`
}

type ListenerBlock struct {
	Name        string `hcl:"name,label"`
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem" or "file"

	// File storage specific config
	Path string `hcl:"path,optional"`

	// In-memory storage specific config
	MaxValueSize int `hcl:"max_value_size,optional"`
}

// Config returns the storage configuration as a map
func (s *StorageBlock) Config() map[string]string {
	conf := make(map[string]string)
	conf["type"] = s.Type
	if s.Path != "" {
		conf["path"] = s.Path
	}
	if s.MaxValueSize != 0 {
		conf["max_value_size"] = fmt.Sprintf("%d", s.MaxValueSize)
	}
	return conf
}

type IdentityBlock struct {
	BaseURL string `hcl:"base_url"`
	APIKey  string `hcl:"api_key,optional"`
}

type BackendBlock struct {
	Address    string `hcl:"address"`
	MaxRetries int    `hcl:"max_retries,optional"`
	RateLimit  int    `hcl:"rate_limit,optional"`
}

type CacheBlock struct {
	BuildID           string   `hcl:"build_id,optional"`
	BaseURL           string   `hcl:"base_url"`
	Manifest          []string `hcl:"manifest,optional"`
	OfflineShell      string   `hcl:"offline_shell,optional"`
	RuntimeTTLSeconds int      `hcl:"runtime_ttl_seconds,optional"`
	NetworkFirstHosts []string `hcl:"network_first_hosts,optional"`
	APIPathPrefixes   []string `hcl:"api_path_prefixes,optional"`
}

// RuntimeTTL returns the configured runtime cache TTL, defaulting to
// five minutes.
func (c *CacheBlock) RuntimeTTL() time.Duration {
	if c.RuntimeTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RuntimeTTLSeconds) * time.Second
}

// LoadConfig reads and decodes an HCL configuration file.
func LoadConfig(configFile string) (*Config, error) {
	var config Config
	if err := hclsimple.DecodeFile(configFile, nil, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// GetAPIListener is a convenience method to get the api listener
func (c *Config) GetAPIListener() (*ListenerBlock, error) {
	return c.GetListenerByName("api")
}
