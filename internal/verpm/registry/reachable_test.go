package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReachableRegistriesDiscoversBareDirectory(t *testing.T) {
	registriesDir := t.TempDir()
	regRoot := filepath.Join(registriesDir, "fixture")
	regUUID := uuid.New()

	writeRegFixture(t, regRoot, "Registry.toml", `
name = "fixture"
uuid = "`+regUUID.String()+`"
repo = "https://example.invalid/fixture"
`)

	cache := NewCache()
	regs, err := ReachableRegistries(cache, []string{registriesDir})
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, regUUID, regs[0].UUID)

	// A second call hits the LRU cache and returns the same *Registry.
	regs2, err := ReachableRegistries(cache, []string{registriesDir})
	require.NoError(t, err)
	require.Same(t, regs[0], regs2[0])
}

func TestReachableRegistriesSkipsMissingDir(t *testing.T) {
	cache := NewCache()
	regs, err := ReachableRegistries(cache, []string{filepath.Join(t.TempDir(), "nonexistent")})
	require.NoError(t, err)
	require.Empty(t, regs)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewCache()
	root := t.TempDir()
	var paths []string
	for i := 0; i < lruCacheLimit+1; i++ {
		p := filepath.Join(root, string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(p, 0o755))
		writeRegFixture(t, p, "Registry.toml", `
name = "r`+string(rune('a'+i))+`"
uuid = "`+uuid.New().String()+`"
repo = "https://example.invalid/r"
`)
		paths = append(paths, p)
	}

	for _, p := range paths {
		_, err := cache.Open(p)
		require.NoError(t, err)
	}

	cache.mu.Lock()
	size := len(cache.byKey)
	cache.mu.Unlock()
	require.Equal(t, lruCacheLimit, size)
}
