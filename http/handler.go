// Copyright (c) 2025 Donantes Project
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/donantes/edge/authretry"
	"github.com/donantes/edge/bridge"
	"github.com/donantes/edge/gateway"
	"github.com/donantes/edge/logger"
)

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Bridge    *bridge.Bridge
	Transport *gateway.Transport
	Manager   *gateway.Manager
	Retry     *authretry.Coordinator
	Blocks    authretry.Blocks
	BaseURL   string
	Logger    logger.Logger
}

// Handler creates and returns the main HTTP handler for the edge agent.
// /sys/ routes are the agent's own control surface; everything else is
// forwarded upstream through the cache manager's transport.
func Handler(props *HandlerProperties) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/sys/health", handleHealth())
	r.Get("/sys/cache/status", handleCacheStatus(props))
	r.Get("/sys/session", handleSession(props))
	r.Post("/sys/login", handleLogin(props))
	r.Post("/sys/logout", handleLogout(props))
	r.Post("/sys/auth/purge", handleAuthPurge(props))

	r.NotFound(handleProxy(props))

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOk(w, map[string]bool{"ok": true})
	}
}

func handleCacheStatus(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := props.Manager.Status(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondOk(w, status)
	}
}

func handleSession(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authenticated, err := props.Bridge.SessionState(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondOk(w, map[string]bool{"authenticated": authenticated})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Register bool   `json:"register,omitempty"`
}

func handleLogin(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			respondError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		var err error
		if req.Register {
			err = props.Bridge.Register(r.Context(), req.Email, req.Password)
		} else {
			err = props.Bridge.Login(r.Context(), req.Email, req.Password)
		}
		if err != nil {
			var exhausted *authretry.ExhaustedError
			switch {
			case errors.As(err, &exhausted):
				if authretry.IsRateLimited(exhausted.Cause) {
					props.Retry.ClearAuthBlocks(r.Context(), props.Blocks)
				}
				respondError(w, http.StatusTooManyRequests, exhausted.Error())
			case authretry.IsNonRetryable(err):
				respondError(w, http.StatusUnauthorized, err.Error())
			case errors.Is(err, bridge.ErrExchangeFailed):
				respondError(w, http.StatusBadGateway, err.Error())
			default:
				respondError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		respondOk(w, map[string]bool{"authenticated": true})
	}
}

func handleLogout(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := props.Bridge.Logout(r.Context()); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondOk(w, map[string]bool{"authenticated": false})
	}
}

func handleAuthPurge(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared := props.Retry.ClearAuthBlocks(r.Context(), props.Blocks)
		respondOk(w, map[string]bool{"cleared": cleared})
	}
}

// handleProxy forwards a request upstream through the cache manager. API
// paths get the bridge's bearer token; a missing token answers 401 so
// the client UI can redirect to login.
func handleProxy(props *HandlerProperties) http.HandlerFunc {
	base, baseErr := url.Parse(props.BaseURL)
	log := props.Logger

	return func(w http.ResponseWriter, r *http.Request) {
		if baseErr != nil {
			respondError(w, http.StatusInternalServerError, "invalid upstream base URL")
			return
		}

		target := base.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
		outbound, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		outbound.Header = r.Header.Clone()

		if isAPIPath(r.URL.Path) {
			token, err := props.Bridge.GetAccessToken(r.Context())
			if err != nil {
				if errors.Is(err, bridge.ErrNoToken) {
					respondError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			outbound.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := props.Transport.RoundTrip(outbound)
		if err != nil {
			log.Warn("upstream fetch failed",
				logger.String("path", r.URL.Path), logger.Err(err))
			respondError(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		defer resp.Body.Close()

		for key, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Trace("response copy interrupted", logger.Err(err))
		}
	}
}

func isAPIPath(path string) bool {
	return len(path) >= 5 && path[:5] == "/api/"
}
