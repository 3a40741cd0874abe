package scraper

import (
	"sync"
)

// Factory builds a fresh scraper for one scrape. Each invocation gives the
// adapter its own HTTP client, so nothing is shared across concurrent
// refreshes.
type Factory func(cfg ClientConfig) Scraper

// Registry maps source names (as stored in the sources table) to adapter
// factories. Sources without a registered adapter are skipped by the
// refresher; the system stays forward-compatible with administratively added
// sources.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// DefaultRegistry is the global registry instance.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers an adapter factory under a source name.
func (r *Registry) Register(sourceName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sourceName] = factory
}

// Lookup returns the factory for a source name.
func (r *Registry) Lookup(sourceName string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[sourceName]
	return f, ok
}

// Names returns all registered source names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// defaultBaseURLs carries the site roots used when the sources table is
// seeded with the built-in adapters.
var defaultBaseURLs = map[string]string{
	SourceMercadoLibre: "https://www.mercadolibre.cl",
	SourceFalabella:    "https://www.falabella.com/falabella-cl",
}

// BaseURL returns the default base URL for a built-in source name, or ""
// for sources without a built-in adapter.
func BaseURL(sourceName string) string {
	return defaultBaseURLs[sourceName]
}

// RegisterDefaults registers the built-in site adapters on a registry.
func RegisterDefaults(r *Registry) {
	r.Register(SourceMercadoLibre, func(cfg ClientConfig) Scraper {
		return NewMercadoLibreScraper(cfg)
	})
	r.Register(SourceFalabella, func(cfg ClientConfig) Scraper {
		return NewFalabellaScraper(cfg)
	})
}
