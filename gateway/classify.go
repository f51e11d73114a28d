package gateway

import (
	"net/http"
	"strings"
)

// Strategy names how an intercepted request is served.
type Strategy int

const (
	// StrategyPassthrough forwards the request untouched (non-GET).
	StrategyPassthrough Strategy = iota

	// StrategyNetworkFirst always tries the network, mirroring JSON into
	// the runtime cache and falling back to a cached copy on failure.
	StrategyNetworkFirst

	// StrategyCacheFirst serves a cached response immediately and
	// revalidates in the background.
	StrategyCacheFirst
)

func (s Strategy) String() string {
	switch s {
	case StrategyPassthrough:
		return "passthrough"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyCacheFirst:
		return "cache-first"
	}
	return "unknown"
}

// Rules drive request classification. Classification looks only at the
// request URL and method, never at response content.
type Rules struct {
	// NetworkFirstHosts are origins always served network-first: the
	// identity provider, its storage/analytics/realtime hosts, and the
	// backend API origin.
	NetworkFirstHosts []string

	// APIPathPrefixes are path prefixes served network-first regardless
	// of host, typically "/api/".
	APIPathPrefixes []string
}

// DefaultRules returns the rule set for a stock deployment.
func DefaultRules() Rules {
	return Rules{
		APIPathPrefixes: []string{"/api/"},
	}
}

// Classify assigns exactly one strategy to a request. It is a pure
// function of the request line and the rules.
func Classify(req *http.Request, rules Rules) Strategy {
	if req.Method != http.MethodGet {
		return StrategyPassthrough
	}

	host := req.URL.Hostname()
	for _, h := range rules.NetworkFirstHosts {
		if strings.EqualFold(host, h) {
			return StrategyNetworkFirst
		}
	}

	for _, prefix := range rules.APIPathPrefixes {
		if strings.HasPrefix(req.URL.Path, prefix) {
			return StrategyNetworkFirst
		}
	}

	return StrategyCacheFirst
}

// requestKey identifies a cache entry: URL plus method.
func requestKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

// acceptsHTML reports whether the request would take an HTML fallback.
func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
