package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/donantes/edge/logger"
)

// maxResponseBodySize limits response body reads to prevent OOM from large responses
const maxResponseBodySize = 1 << 20 // 1MB

// User is the provider's view of a signed-in account.
type User struct {
	UID           string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// Provider is the identity-provider capability the rest of the agent
// consumes: sign in, sign up, current user, and a short-lived ID token.
// Implementations perform no retries; retry policy belongs to the caller.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignUp(ctx context.Context, email, password string) (*User, error)
	CurrentUser(ctx context.Context) (*User, error)
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
	SignOut(ctx context.Context) error
}

// Config configures the HTTP identity client.
type Config struct {
	// BaseURL is the provider's REST endpoint, e.g. the project-scoped
	// identity toolkit URL.
	BaseURL string

	// APIKey is the project web API key appended to every call.
	APIKey string

	// HTTPClient overrides the default pooled client, mainly for tests.
	HTTPClient *http.Client
}

// Client is an HTTP implementation of Provider. It holds the live provider
// session (current user plus the provider's own token pair) in memory;
// durability of backend credentials is the token store's job, not this
// client's.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logger.Logger

	mu           sync.RWMutex
	user         *User
	idToken      string
	refreshToken string
}

var _ Provider = (*Client)(nil)

// NewClient builds an identity client from config.
func NewClient(conf *Config, log logger.Logger) (*Client, error) {
	if conf == nil || conf.BaseURL == "" {
		return nil, fmt.Errorf("identity provider base URL must be set")
	}
	httpClient := conf.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{
		baseURL: conf.BaseURL,
		apiKey:  conf.APIKey,
		http:    httpClient,
		logger:  log,
	}, nil
}

type sessionResponse struct {
	User
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) endpoint(name string) string {
	u := c.baseURL + "/v1/accounts:" + name
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	return u
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error.Message != "" {
			return NewCodeError(errResp.Error.Message, "")
		}
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

func (c *Client) setSession(resp *sessionResponse) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := resp.User
	c.user = &user
	c.idToken = resp.IDToken
	c.refreshToken = resp.RefreshToken
	return c.user
}

// SignIn authenticates with email/password and establishes the session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*User, error) {
	var resp sessionResponse
	err := c.post(ctx, c.endpoint("signInWithPassword"), map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("provider sign-in succeeded", logger.String("uid", resp.UID))
	return c.setSession(&resp), nil
}

// SignUp registers a new account and establishes the session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*User, error) {
	var resp sessionResponse
	err := c.post(ctx, c.endpoint("signUp"), map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("provider sign-up succeeded", logger.String("uid", resp.UID))
	return c.setSession(&resp), nil
}

// CurrentUser returns the signed-in user, or ErrNoSession.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil, ErrNoSession
	}
	user := *c.user
	return &user, nil
}

// IDToken returns a short-lived ID token for the current session. With
// forceRefresh, or when no cached token exists, it redeems the provider
// refresh token for a fresh one.
func (c *Client) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	c.mu.RLock()
	cached := c.idToken
	refresh := c.refreshToken
	c.mu.RUnlock()

	if cached != "" && !forceRefresh {
		return cached, nil
	}
	if refresh == "" {
		return "", ErrNoSession
	}

	tokenURL := c.baseURL + "/v1/token"
	if c.apiKey != "" {
		tokenURL += "?key=" + url.QueryEscape(c.apiKey)
	}

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err := c.post(ctx, tokenURL, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refresh,
	}, &resp)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.idToken = resp.IDToken
	if resp.RefreshToken != "" {
		c.refreshToken = resp.RefreshToken
	}
	c.mu.Unlock()

	return resp.IDToken, nil
}

// SignOut drops the in-memory session.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.idToken = ""
	c.refreshToken = ""
	return nil
}
