package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// cacheKey identifies a loaded Registry for the bounded process-local
// cache: (path, storage_variant). The registry's tree hash is not part of
// the key, so a registry rewritten in place at the same path and variant
// maps to the same cache slot as before.
type cacheKey struct {
	path    string
	variant Variant
}

const lruCacheLimit = 20

// Cache is a small LRU-bounded, concurrency-safe cache of opened
// Registries, keyed by (path, storage variant), replacing the global
// mutable in-memory registry cache the DESIGN NOTES call out for removal.
type Cache struct {
	mu    sync.Mutex
	order []cacheKey
	byKey map[cacheKey]*Registry
}

// NewCache returns an empty registry cache.
func NewCache() *Cache {
	return &Cache{byKey: make(map[cacheKey]*Registry)}
}

// Open returns a cached Registry for path if present, otherwise opens,
// caches (evicting the least-recently-used entry past the 20-entry bound),
// and returns it.
func (c *Cache) Open(path string) (*Registry, error) {
	variant, err := DetectVariant(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey{path: path, variant: variant}

	c.mu.Lock()
	if reg, ok := c.byKey[key]; ok {
		c.touch(key)
		c.mu.Unlock()
		return reg, nil
	}
	c.mu.Unlock()

	reg, err := Open(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key] = reg
	c.touch(key)
	for len(c.order) > lruCacheLimit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byKey, oldest)
	}
	return reg, nil
}

func (c *Cache) touch(key cacheKey) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

// ReachableRegistries enumerates every registry in each depot's
// registries/ subtree (§4.2). A packed registry is a (name.toml,
// name.tar.gz) pair; every other entry is a subdirectory detected per
// DetectVariant.
func ReachableRegistries(cache *Cache, registriesDirs []string) ([]*Registry, error) {
	var out []*Registry
	seen := make(map[string]bool)

	for _, dir := range registriesDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "listing registries under %s", dir)
		}

		for _, entry := range entries {
			var regPath string
			switch {
			case entry.IsDir():
				regPath = filepath.Join(dir, entry.Name())
			case strings.HasSuffix(entry.Name(), ".toml"):
				tarball := strings.TrimSuffix(entry.Name(), ".toml") + ".tar.gz"
				if _, err := os.Stat(filepath.Join(dir, tarball)); err != nil {
					continue
				}
				regPath = filepath.Join(dir, entry.Name())
			default:
				continue
			}

			if seen[regPath] {
				continue
			}
			seen[regPath] = true

			reg, err := cache.Open(regPath)
			if err != nil {
				return nil, errors.Wrapf(err, "opening registry at %s", regPath)
			}
			out = append(out, reg)
		}
	}
	return out, nil
}
