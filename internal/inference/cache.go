package inference

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dudu/deepswap/internal/log"
)

// ModelType identifies a model kind. The cache holds at most one session
// per type.
type ModelType string

const (
	ModelDetector ModelType = "detector"
	ModelEmbedder ModelType = "embedder"
	ModelSwapper  ModelType = "swapper"
	ModelOccluder ModelType = "occluder"
	ModelEnhancer ModelType = "enhancer"
)

// ErrUnknownModel is returned for a model type the cache was not configured with.
var ErrUnknownModel = errors.New("unknown model type")

// ModelSpec locates a model file and names its graph inputs and outputs
type ModelSpec struct {
	Path        string
	InputNames  []string
	OutputNames []string
}

// Opener builds a Runner for spec using providers in preference order
type Opener func(spec ModelSpec, providers []Provider) (Runner, error)

type cacheEntry struct {
	spec    ModelSpec
	mu      sync.Mutex
	session atomic.Pointer[Session]
}

// Cache lazily constructs and shares one Session per ModelType. Sessions
// live until Close.
type Cache struct {
	providers []Provider
	open      Opener
	entries   map[ModelType]*cacheEntry
}

// NewCache creates a cache for specs. A nil open uses OpenORT and nil
// providers are detected from the host.
func NewCache(specs map[ModelType]ModelSpec, providers []Provider, open Opener) *Cache {
	if open == nil {
		open = OpenORT
	}
	if providers == nil {
		providers = DetectProviders()
	}
	entries := make(map[ModelType]*cacheEntry, len(specs))
	for t, spec := range specs {
		entries[t] = &cacheEntry{spec: spec}
	}
	return &Cache{
		providers: providers,
		open:      open,
		entries:   entries,
	}
}

// Providers returns the preference list sessions are built with
func (c *Cache) Providers() []Provider {
	return append([]Provider(nil), c.providers...)
}

// Get returns the session for t, constructing it on first use. Concurrent
// first calls for the same type construct exactly once; calls for
// different types do not block each other.
func (c *Cache) Get(t ModelType) (*Session, error) {
	e, ok := c.entries[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, t)
	}

	if s := e.session.Load(); s != nil {
		return s, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.session.Load(); s != nil {
		return s, nil
	}

	s, err := c.construct(t, e.spec)
	if err != nil {
		return nil, err
	}
	e.session.Store(s)
	return s, nil
}

func (c *Cache) construct(t ModelType, spec ModelSpec) (*Session, error) {
	if accelerated(c.providers) {
		runner, err := c.open(spec, c.providers)
		if err == nil {
			log.Info("model loaded", "model", t, "provider", c.providers[0])
			return newSession(t, c.providers[0], runner), nil
		}
		log.Warn("accelerated session failed, falling back to CPU", "model", t, "error", err)
	}

	runner, err := c.open(spec, []Provider{ProviderCPU})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session: %w", t, err)
	}
	log.Info("model loaded", "model", t, "provider", ProviderCPU)
	return newSession(t, ProviderCPU, runner), nil
}

// Loaded reports whether a session for t has been constructed
func (c *Cache) Loaded(t ModelType) bool {
	e, ok := c.entries[t]
	return ok && e.session.Load() != nil
}

// Close destroys every constructed session
func (c *Cache) Close() error {
	var errs []error
	for t, e := range c.entries {
		e.mu.Lock()
		if s := e.session.Swap(nil); s != nil {
			if err := s.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
			}
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}
