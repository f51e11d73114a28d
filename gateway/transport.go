package gateway

import (
	"context"
	"net/http"

	"github.com/donantes/edge/logger"
)

// Transport is the fetch-interception surface: an http.RoundTripper that
// routes every request through exactly one strategy.
type Transport struct {
	manager *Manager
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport returns the intercepting transport for a manager.
func NewTransport(m *Manager) *Transport {
	return &Transport{manager: m}
}

// RoundTrip classifies the request and applies the matching strategy.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.manager.Apply(Classify(req, t.manager.rules), req)
}

// Apply executes one strategy for a request.
func (m *Manager) Apply(strategy Strategy, req *http.Request) (*http.Response, error) {
	switch strategy {
	case StrategyNetworkFirst:
		return m.networkFirst(req)
	case StrategyCacheFirst:
		return m.cacheFirst(req)
	default:
		return m.upstream.RoundTrip(req)
	}
}

// networkFirst always tries the network, bypassing intermediary HTTP
// caches. A successful JSON response is mirrored into the runtime cache
// for the TTL window; on network failure any cached copy is served, and
// with none the failure propagates.
func (m *Manager) networkFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req)

	fresh := req.Clone(req.Context())
	fresh.Header.Set("Cache-Control", "no-cache")
	fresh.Header.Set("Pragma", "no-cache")

	resp, err := m.upstream.RoundTrip(fresh)
	if err != nil {
		if cached := m.runtime.Get(key); cached != nil {
			m.logger.Debug("network failed, serving runtime cache",
				logger.String("url", req.URL.String()))
			return cached.Response(req), nil
		}
		return nil, err
	}

	captured, capErr := CaptureResponse(resp)
	if capErr != nil {
		return nil, capErr
	}
	if captured != nil && captured.Status >= 200 && captured.Status < 300 && captured.IsJSON() {
		m.runtime.Put(key, captured)
	}
	return resp, nil
}

// cacheFirst serves a cached response immediately, revalidating in the
// background for next time. A miss goes to the network and populates the
// current generation; a network failure falls back to the offline shell
// for HTML requests.
func (m *Manager) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	cached, err := m.static.Match(ctx, m.Generation(), req)
	if err != nil {
		m.logger.Warn("static cache lookup failed", logger.Err(err))
	}
	if cached != nil {
		m.revalidate(req)
		return cached.Response(req), nil
	}

	resp, err := m.upstream.RoundTrip(req)
	if err != nil {
		if acceptsHTML(req) {
			if shell := m.offlineFallback(ctx, req); shell != nil {
				return shell, nil
			}
		}
		return nil, err
	}

	captured, capErr := CaptureResponse(resp)
	if capErr != nil {
		return nil, capErr
	}
	if captured == nil {
		m.logger.Debug("response too large to cache, serving uncached",
			logger.String("url", req.URL.String()))
		return resp, nil
	}
	if captured.Status >= 200 && captured.Status < 300 {
		if err := m.static.Put(ctx, m.Generation(), req, captured); err != nil {
			m.logger.Warn("failed to store fetched asset", logger.Err(err))
		}
	}
	return resp, nil
}

// revalidate refreshes a cache entry in the background. The served
// response is always the pre-revalidation snapshot; the refresh only
// affects future requests, and its errors are swallowed.
func (m *Manager) revalidate(req *http.Request) {
	refresh := req.Clone(m.shutdownCtx)

	m.revalidations.Add(1)
	go func() {
		defer m.revalidations.Done()

		resp, err := m.upstream.RoundTrip(refresh)
		if err != nil {
			m.logger.Trace("background revalidation failed",
				logger.String("url", refresh.URL.String()), logger.Err(err))
			return
		}
		captured, err := CaptureResponse(resp)
		if err != nil {
			return
		}
		if captured == nil {
			resp.Body.Close()
			return
		}
		if captured.Status < 200 || captured.Status >= 300 {
			return
		}
		if err := m.static.Put(m.shutdownCtx, m.Generation(), refresh, captured); err != nil {
			m.logger.Trace("background revalidation store failed", logger.Err(err))
		}
	}()
}

// offlineFallback serves the precached shell page, if present.
func (m *Manager) offlineFallback(ctx context.Context, req *http.Request) *http.Response {
	if m.offlineShell == "" {
		return nil
	}
	target, err := m.resolve(m.offlineShell)
	if err != nil {
		return nil
	}
	shellReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil
	}
	cached, err := m.static.Match(ctx, m.Generation(), shellReq)
	if err != nil || cached == nil {
		return nil
	}
	m.logger.Debug("serving offline shell", logger.String("for", req.URL.String()))
	return cached.Response(req)
}
