package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/donantes/edge/logger"
)

// Phase tracks the manager's position in the worker lifecycle.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseInstalling
	PhaseInstalled
	PhaseActivating
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	}
	return "unknown"
}

var (
	// ErrCacheInstallFailed means precaching the manifest did not fully
	// succeed; the generation must not activate.
	ErrCacheInstallFailed = errors.New("cache install failed")

	// ErrNotActive is returned for fetch traffic before activation.
	ErrNotActive = errors.New("cache manager is not active")
)

// GenerationPrefix is the name prefix shared by all static generations.
const GenerationPrefix = "donantes-"

// Config configures the cache manager.
type Config struct {
	// BuildID is the monotonic build identifier; the generation name is
	// GenerationPrefix + BuildID.
	BuildID string

	// BaseURL is the origin against which relative manifest entries and
	// intercepted paths resolve.
	BaseURL string

	// Manifest lists the critical offline assets precached at install:
	// HTML shells, stylesheets, core scripts, fonts, UI library bundles.
	Manifest []string

	// OfflineShell is the manifest entry served as HTML fallback.
	OfflineShell string

	// Rules drives request classification.
	Rules Rules

	// Runtime configures the 5-minute API mirror cache.
	Runtime RuntimeCacheConfig

	// Upstream overrides the network transport, mainly for tests.
	Upstream http.RoundTripper
}

// Manager owns the cache-generation lifecycle and the fetch strategies.
// Multiple agents may install and activate independently; the generation
// name is the only coordination point, and the last activation to run
// wins the cache contents.
type Manager struct {
	generation   string
	baseURL      *url.URL
	manifest     []string
	offlineShell string
	rules        Rules

	static   *StaticCache
	runtime  *RuntimeCache
	upstream http.RoundTripper
	logger   logger.Logger

	mu    sync.RWMutex
	phase Phase

	revalidations sync.WaitGroup
	shutdownCtx   context.Context
	shutdown      context.CancelFunc
}

// NewManager builds a Manager over the given static cache backend.
func NewManager(conf Config, static *StaticCache, log logger.Logger) (*Manager, error) {
	if conf.BuildID == "" {
		return nil, errors.New("build ID must be set")
	}
	base, err := url.Parse(conf.BaseURL)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("invalid base URL %q", conf.BaseURL)
	}

	runtime, err := NewRuntimeCache(conf.Runtime, log)
	if err != nil {
		return nil, err
	}

	upstream := conf.Upstream
	if upstream == nil {
		upstream = cleanhttp.DefaultPooledTransport()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		generation:   GenerationPrefix + conf.BuildID,
		baseURL:      base,
		manifest:     conf.Manifest,
		offlineShell: conf.OfflineShell,
		rules:        conf.Rules,
		static:       static,
		runtime:      runtime,
		upstream:     upstream,
		logger:       log,
		phase:        PhaseNew,
		shutdownCtx:  ctx,
		shutdown:     cancel,
	}, nil
}

// Generation returns the current generation name.
func (m *Manager) Generation() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Phase returns the lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// resolve turns a manifest entry or path into an absolute URL.
func (m *Manager) resolve(entry string) (*url.URL, error) {
	u, err := url.Parse(entry)
	if err != nil {
		return nil, err
	}
	return m.baseURL.ResolveReference(u), nil
}

// Install precaches the manifest into the current generation with
// all-or-nothing semantics: every listed asset must fetch successfully
// or the generation is left unwritten and the previous one stays active.
func (m *Manager) Install(ctx context.Context) error {
	m.setPhase(PhaseInstalling)

	m.logger.Info("installing cache generation",
		logger.String("generation", m.generation),
		logger.Int("manifest_entries", len(m.manifest)))

	fetched := make([]*CachedResponse, len(m.manifest))
	requests := make([]*http.Request, len(m.manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range m.manifest {
		g.Go(func() error {
			target, err := m.resolve(entry)
			if err != nil {
				return fmt.Errorf("invalid manifest entry %q: %w", entry, err)
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return err
			}
			resp, err := m.upstream.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("failed to fetch %q: %w", entry, err)
			}
			captured, err := CaptureResponse(resp)
			if err != nil {
				return err
			}
			if captured == nil {
				resp.Body.Close()
				return fmt.Errorf("asset %q is too large to precache", entry)
			}
			if captured.Status < 200 || captured.Status >= 300 {
				return fmt.Errorf("asset %q returned status %d", entry, captured.Status)
			}
			fetched[i] = captured
			requests[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.setPhase(PhaseNew)
		return fmt.Errorf("%w: %v", ErrCacheInstallFailed, err)
	}

	// Every asset fetched; now the writes.
	for i, captured := range fetched {
		if err := m.static.Put(ctx, m.generation, requests[i], captured); err != nil {
			m.setPhase(PhaseNew)
			return fmt.Errorf("%w: %v", ErrCacheInstallFailed, err)
		}
	}

	m.setPhase(PhaseInstalled)
	m.logger.Info("cache generation installed",
		logger.String("generation", m.generation))
	return nil
}

// Activate makes this generation current and purges every other one.
// Purging is the only reclamation mechanism for superseded versions.
func (m *Manager) Activate(ctx context.Context) error {
	m.setPhase(PhaseActivating)

	generations, err := m.static.Generations(ctx)
	if err != nil {
		m.setPhase(PhaseInstalled)
		return fmt.Errorf("failed to enumerate generations: %w", err)
	}

	current := m.Generation()
	var merr *multierror.Error
	for _, gen := range generations {
		if gen == current {
			continue
		}
		if err := m.static.DeleteGeneration(ctx, gen); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		m.logger.Info("purged stale cache generation", logger.String("generation", gen))
	}

	if err := merr.ErrorOrNil(); err != nil {
		m.setPhase(PhaseInstalled)
		return err
	}

	m.setPhase(PhaseActive)
	m.logger.Info("cache generation active", logger.String("generation", current))
	return nil
}

// AdoptPrevious falls back to the most recently installed generation
// after a failed install, mirroring how a prior worker version stays
// active when a new one cannot install. It reports whether a previous
// generation existed.
func (m *Manager) AdoptPrevious(ctx context.Context) (bool, error) {
	generations, err := m.static.Generations(ctx)
	if err != nil {
		return false, err
	}
	if len(generations) == 0 {
		return false, nil
	}

	// Build IDs are timestamps, so lexical order is install order.
	newest := generations[0]
	for _, gen := range generations[1:] {
		if gen > newest {
			newest = gen
		}
	}

	m.mu.Lock()
	m.generation = newest
	m.phase = PhaseActive
	m.mu.Unlock()

	m.logger.Warn("serving previous cache generation",
		logger.String("generation", newest))
	return true, nil
}

// Status describes the manager for introspection.
type Status struct {
	Generation    string `json:"generation"`
	Phase         string `json:"phase"`
	StaticEntries int    `json:"static_entries"`
	RuntimeHits   uint64 `json:"runtime_hits"`
	RuntimeMisses uint64 `json:"runtime_misses"`
}

// Status reports the current generation, phase, and cache counters.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	gen := m.Generation()
	count, err := m.static.EntryCount(ctx, gen)
	if err != nil {
		return nil, err
	}
	hits, misses := m.runtime.Stats()
	return &Status{
		Generation:    gen,
		Phase:         m.Phase().String(),
		StaticEntries: count,
		RuntimeHits:   hits,
		RuntimeMisses: misses,
	}, nil
}

// Close stops background revalidation and releases the runtime cache.
func (m *Manager) Close() {
	m.shutdown()
	m.revalidations.Wait()
	m.runtime.Close()
}
