package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// Retries disabled so failures surface immediately.
	client, err := NewClient(&Config{
		Address:    server.URL,
		HttpClient: server.Client(),
		MaxRetries: 0,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return client, server
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8200", client.Address())
}

func TestNewClient_InvalidAddress(t *testing.T) {
	_, err := NewClient(&Config{Address: "://not-a-url"})
	assert.Error(t, err)
}

func TestNewClient_ConfigError(t *testing.T) {
	_, err := NewClient(&Config{Error: errors.New("bad env")})
	assert.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "id-token-1", body["idToken"])

		json.NewEncoder(w).Encode(TokenPair{
			AccessToken:  "backend-access",
			RefreshToken: "backend-refresh",
		})
	}))

	pair, err := client.Login(context.Background(), "id-token-1")
	require.NoError(t, err)
	assert.Equal(t, "backend-access", pair.AccessToken)
	assert.Equal(t, "backend-refresh", pair.RefreshToken)
}

func TestClient_Login_Rejected(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))

	_, err := client.Login(context.Background(), "bad-token")
	require.Error(t, err)

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusUnauthorized, respErr.StatusCode)
	assert.True(t, respErr.IsUnauthorized())
}

func TestClient_Login_IncompletePair(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenPair{AccessToken: "only-access"})
	}))

	_, err := client.Login(context.Background(), "id-token")
	require.Error(t, err)

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Contains(t, respErr.Body, "incomplete")
}

func TestClient_Do_AttachesBearerToken(t *testing.T) {
	var sawAuth atomic.Value

	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))

	client.SetTokenSource(func(ctx context.Context) (string, error) {
		return "bearer-token-1", nil
	})

	body, err := client.Do(context.Background(), http.MethodGet, "/api/donations", nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "yes")
	assert.Equal(t, "Bearer bearer-token-1", sawAuth.Load())
}

func TestClient_Do_NoTokenSource(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))

	_, err := client.Do(context.Background(), http.MethodGet, "/api/public", nil)
	require.NoError(t, err)
}

func TestClient_Do_TokenSourceFailure(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the backend without a token")
	}))

	tokenErr := errors.New("no token available")
	client.SetTokenSource(func(ctx context.Context) (string, error) {
		return "", tokenErr
	})

	_, err := client.Do(context.Background(), http.MethodGet, "/api/donations", nil)
	assert.ErrorIs(t, err, tokenErr)
}

func TestClient_Do_Unauthorized(t *testing.T) {
	client, _ := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))

	_, err := client.Do(context.Background(), http.MethodGet, "/api/donations", nil)
	require.Error(t, err)

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.True(t, respErr.IsUnauthorized())
}

func TestClient_Retries5xx(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&Config{
		Address:      server.URL,
		HttpClient:   server.Client(),
		MaxRetries:   2,
		MinRetryWait: time.Millisecond,
		MaxRetryWait: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), http.MethodGet, "/api/donations", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestResponseError_IsUnauthorized(t *testing.T) {
	assert.True(t, (&ResponseError{StatusCode: 401}).IsUnauthorized())
	assert.True(t, (&ResponseError{StatusCode: 403}).IsUnauthorized())
	assert.False(t, (&ResponseError{StatusCode: 500}).IsUnauthorized())
	assert.False(t, (&ResponseError{StatusCode: 404}).IsUnauthorized())
}

func TestReadEdgeVariable(t *testing.T) {
	t.Setenv("EDGE_BACKEND_ADDR", "https://api.donantes.example")
	t.Setenv("NOT_EDGE_VAR", "ignored")

	assert.Equal(t, "https://api.donantes.example", ReadEdgeVariable("EDGE_BACKEND_ADDR"))
	assert.Equal(t, "", ReadEdgeVariable("NOT_EDGE_VAR"))
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvEdgeBackendAddr, "https://api.donantes.example")
	t.Setenv(EnvEdgeClientTimeout, "30s")
	t.Setenv(EnvEdgeMaxRetries, "5")

	config := DefaultConfig()
	require.NoError(t, config.Error)
	assert.Equal(t, "https://api.donantes.example", config.Address)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 5, config.MaxRetries)
}

func TestDefaultConfig_BadEnvValue(t *testing.T) {
	t.Setenv(EnvEdgeClientTimeout, "not-a-duration")

	config := DefaultConfig()
	assert.Error(t, config.Error)
}
