package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/donantes/edge/api"
	"github.com/donantes/edge/authretry"
	"github.com/donantes/edge/identity"
	"github.com/donantes/edge/logger"
	"github.com/donantes/edge/token"
)

var (
	// ErrNoToken means neither the store nor the provider could supply a
	// bearer token. The caller owns the redirect to login.
	ErrNoToken = errors.New("no token available")

	// ErrExchangeFailed means the backend rejected the provider ID token.
	ErrExchangeFailed = errors.New("token exchange rejected by backend")

	// ErrUnauthorized means a previously valid token was rejected
	// downstream. The bridge never retries this automatically.
	ErrUnauthorized = errors.New("token rejected downstream")
)

// AvailabilityFunc receives token available/unavailable signals. It is the
// page-guard boundary: external logic decides whether to redirect to login.
type AvailabilityFunc func(available bool)

// Bridge pairs the identity provider's short-lived ID tokens with the
// backend's access/refresh pair. Token values are opaque here: no expiry
// parsing happens locally, invalidity is only ever learned from a
// downstream rejection.
type Bridge struct {
	provider identity.Provider
	backend  *api.Client
	store    *token.Store
	retry    *authretry.Coordinator
	logger   logger.Logger
	onAvail  AvailabilityFunc
}

// Config wires the bridge's collaborators. OnAvailability is optional.
type Config struct {
	Provider       identity.Provider
	Backend        *api.Client
	Store          *token.Store
	Retry          *authretry.Coordinator
	OnAvailability AvailabilityFunc
}

// New builds a Bridge.
func New(conf Config, log logger.Logger) (*Bridge, error) {
	if conf.Provider == nil || conf.Backend == nil || conf.Store == nil || conf.Retry == nil {
		return nil, errors.New("bridge requires a provider, backend client, token store, and retry coordinator")
	}
	onAvail := conf.OnAvailability
	if onAvail == nil {
		onAvail = func(bool) {}
	}
	return &Bridge{
		provider: conf.Provider,
		backend:  conf.Backend,
		store:    conf.Store,
		retry:    conf.Retry,
		logger:   log,
		onAvail:  onAvail,
	}, nil
}

// GetAccessToken returns the current bearer token for outbound API calls.
// It prefers the stored backend access token and falls back to a fresh
// provider ID token for the signed-in user. With neither available it
// fails with ErrNoToken.
func (b *Bridge) GetAccessToken(ctx context.Context) (string, error) {
	stored, err := b.store.Get(ctx, token.KeyAccess)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}

	idToken, err := b.provider.IDToken(ctx, false)
	if err == nil && idToken != "" {
		b.logger.Debug("no stored access token, using provider ID token")
		return idToken, nil
	}

	b.onAvail(false)
	return "", ErrNoToken
}

// TokenSource adapts the bridge for the backend client's bearer injection.
func (b *Bridge) TokenSource() api.TokenSource {
	return func(ctx context.Context) (string, error) {
		return b.GetAccessToken(ctx)
	}
}

// Login signs in with the provider (under retry policy), exchanges the
// resulting ID token with the backend, and persists the returned pair.
// Success is signaled only after both tokens are durably stored.
func (b *Bridge) Login(ctx context.Context, email, password string) error {
	err := b.retry.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := b.provider.SignIn(ctx, email, password)
		return err
	})
	if err != nil {
		return err
	}

	return b.exchange(ctx)
}

// Register creates the account with the provider (under retry policy) and
// then performs the same exchange as Login.
func (b *Bridge) Register(ctx context.Context, email, password string) error {
	err := b.retry.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		_, err := b.provider.SignUp(ctx, email, password)
		return err
	})
	if err != nil {
		return err
	}

	return b.exchange(ctx)
}

// exchange trades the current ID token for a backend pair and persists it
// atomically.
func (b *Bridge) exchange(ctx context.Context) error {
	idToken, err := b.provider.IDToken(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to obtain ID token: %w", err)
	}

	pair, err := b.backend.Login(ctx, idToken)
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) {
			b.logger.Warn("backend rejected ID token",
				logger.Int("status", respErr.StatusCode))
			return fmt.Errorf("%w: %v", ErrExchangeFailed, err)
		}
		return err
	}

	if err := b.store.SavePair(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		return fmt.Errorf("failed to persist token pair: %w", err)
	}

	b.logger.Info("login exchange complete")
	b.onAvail(true)
	return nil
}

// Logout signs out of the provider and clears the stored pair.
func (b *Bridge) Logout(ctx context.Context) error {
	if err := b.provider.SignOut(ctx); err != nil {
		return err
	}
	if err := b.store.Clear(ctx); err != nil {
		return err
	}
	b.logger.Info("logged out")
	b.onAvail(false)
	return nil
}

// CheckResponse maps a backend call error to ErrUnauthorized when it
// signals token invalidity, so callers can redirect instead of retrying.
func (b *Bridge) CheckResponse(err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.IsUnauthorized() {
		b.onAvail(false)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

// SessionState reports whether the agent is authenticated: a provider
// user and a full access+refresh pair must exist simultaneously. Partial
// state counts as unauthenticated and should trigger re-login.
func (b *Bridge) SessionState(ctx context.Context) (bool, error) {
	if _, err := b.provider.CurrentUser(ctx); err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			return false, nil
		}
		return false, err
	}

	access, err := b.store.Get(ctx, token.KeyAccess)
	if err != nil {
		return false, err
	}
	refresh, err := b.store.Get(ctx, token.KeyRefresh)
	if err != nil {
		return false, err
	}

	return access != "" && refresh != "", nil
}
