package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	EnvEdgeBackendAddr   = "EDGE_BACKEND_ADDR"
	EnvEdgeClientTimeout = "EDGE_CLIENT_TIMEOUT"
	EnvEdgeMaxRetries    = "EDGE_MAX_RETRIES"
	EnvEdgeRateLimit     = "EDGE_RATE_LIMIT"
)

// maxResponseBodySize limits response body reads
const maxResponseBodySize = 10 << 20 // 10MB

// Config is used to configure the creation of the client.
type Config struct {
	modifyLock sync.RWMutex

	// Address is the base URL of the Donantes backend, e.g.
	// "https://api.donantes.example".
	Address string

	// HttpClient is the HTTP client to use. A pooled cleanhttp client is
	// installed by default.
	HttpClient *http.Client

	// MinRetryWait controls the minimum time to wait before retrying when
	// a 5xx error occurs. Defaults to 1000 milliseconds.
	MinRetryWait time.Duration

	// MaxRetryWait controls the maximum time to wait before retrying when
	// a 5xx error occurs. Defaults to 1500 milliseconds.
	MaxRetryWait time.Duration

	// MaxRetries controls the maximum number of times to retry when a 5xx
	// error occurs. Set to 0 to disable retrying. Defaults to 2 (for a
	// total of three tries).
	MaxRetries int

	// Timeout, given a non-negative value, applies to each request unless
	// an earlier deadline arrives via context.
	Timeout time.Duration

	// Backoff is the backoff function to use; a default is used if not
	// provided.
	Backoff retryablehttp.Backoff

	// CheckRetry is the retry policy; a default is used if not provided.
	CheckRetry retryablehttp.CheckRetry

	// Limiter rate-limits outbound requests. Nil means no limit.
	Limiter *rate.Limiter

	// Error records a configuration loading failure.
	Error error
}

// DefaultConfig returns a default configuration for the client, with
// overrides read from the EDGE_* environment.
func DefaultConfig() *Config {
	config := &Config{
		Address:      "http://127.0.0.1:8200",
		HttpClient:   cleanhttp.DefaultPooledClient(),
		MinRetryWait: 1000 * time.Millisecond,
		MaxRetryWait: 1500 * time.Millisecond,
		MaxRetries:   2,
		Backoff:      retryablehttp.RateLimitLinearJitterBackoff,
		Timeout:      60 * time.Second,
	}

	if addr := ReadEdgeVariable(EnvEdgeBackendAddr); addr != "" {
		config.Address = addr
	}
	if v := ReadEdgeVariable(EnvEdgeClientTimeout); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			config.Error = fmt.Errorf("could not parse %s: %w", EnvEdgeClientTimeout, err)
			return config
		}
		config.Timeout = timeout
	}
	if v := ReadEdgeVariable(EnvEdgeMaxRetries); v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil {
			config.Error = fmt.Errorf("could not parse %s: %w", EnvEdgeMaxRetries, err)
			return config
		}
		config.MaxRetries = retries
	}
	if v := ReadEdgeVariable(EnvEdgeRateLimit); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			config.Error = fmt.Errorf("could not parse %s: %w", EnvEdgeRateLimit, err)
			return config
		}
		config.Limiter = rate.NewLimiter(rate.Limit(limit), int(limit))
	}

	return config
}

// TokenSource supplies the bearer token attached to authenticated calls.
type TokenSource func(ctx context.Context) (string, error)

// TokenPair is the backend's response to a successful login exchange.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ResponseError is a non-2xx backend response.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether the response signals token invalidity.
func (e *ResponseError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client is the client to the Donantes backend API. Create one with
// NewClient.
type Client struct {
	modifyLock  sync.RWMutex
	addr        *url.URL
	config      *Config
	tokenSource TokenSource
}

// NewClient returns a new client for the given configuration. A nil
// configuration uses DefaultConfig.
func NewClient(c *Config) (*Client, error) {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	if c.Error != nil {
		return nil, c.Error
	}

	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()

	if c.HttpClient == nil {
		c.HttpClient = def.HttpClient
	}
	if c.MinRetryWait == 0 {
		c.MinRetryWait = def.MinRetryWait
	}
	if c.MaxRetryWait == 0 {
		c.MaxRetryWait = def.MaxRetryWait
	}
	if c.Backoff == nil {
		c.Backoff = def.Backoff
	}
	if c.Address == "" {
		c.Address = def.Address
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid backend address: %w", err)
	}

	return &Client{
		addr:   u,
		config: c,
	}, nil
}

// Address returns the backend base URL.
func (c *Client) Address() string {
	c.modifyLock.RLock()
	defer c.modifyLock.RUnlock()
	return c.addr.String()
}

// SetTokenSource installs the bearer-token supplier used by Do.
func (c *Client) SetTokenSource(src TokenSource) {
	c.modifyLock.Lock()
	defer c.modifyLock.Unlock()
	c.tokenSource = src
}

func (c *Client) retryableClient() *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient:   c.config.HttpClient,
		RetryWaitMin: c.config.MinRetryWait,
		RetryWaitMax: c.config.MaxRetryWait,
		RetryMax:     c.config.MaxRetries,
		Backoff:      c.config.Backoff,
		CheckRetry:   c.checkRetry(),
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
}

func (c *Client) checkRetry() retryablehttp.CheckRetry {
	if c.config.CheckRetry != nil {
		return c.config.CheckRetry
	}
	return retryablehttp.DefaultRetryPolicy
}

// Login exchanges a provider ID token for the backend's access/refresh
// pair via POST /api/auth/login. It performs no token persistence; the
// bridge owns that.
func (c *Client) Login(ctx context.Context, idToken string) (*TokenPair, error) {
	body, status, err := c.doJSON(ctx, http.MethodPost, "/api/auth/login",
		map[string]string{"idToken": idToken}, "")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ResponseError{StatusCode: status, Body: string(body)}
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, &ResponseError{StatusCode: status, Body: "incomplete token pair"}
	}
	return &pair, nil
}

// Do performs an authenticated backend call, attaching the bearer token
// from the configured TokenSource. A 401/403 response is returned as a
// *ResponseError so callers can detect token invalidity.
func (c *Client) Do(ctx context.Context, method, path string, reqBody interface{}) ([]byte, error) {
	var bearer string
	c.modifyLock.RLock()
	src := c.tokenSource
	c.modifyLock.RUnlock()

	if src != nil {
		var err error
		bearer, err = src(ctx)
		if err != nil {
			return nil, err
		}
	}

	body, status, err := c.doJSON(ctx, method, path, reqBody, bearer)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ResponseError{StatusCode: status, Body: string(body)}
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody interface{}, bearer string) ([]byte, int, error) {
	if c.config.Limiter != nil {
		if err := c.config.Limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	var reader io.ReadSeeker
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	u := *c.addr
	u.Path = path

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.retryableClient().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
