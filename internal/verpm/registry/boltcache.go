package registry

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var pkgInfoBucket = []byte("pkginfo")

// BoltCache is an optional, persistent on-disk cache of materialized
// PkgInfo records keyed by tree-hash, mirroring the teacher's
// source_cache_bolt.go. Records are stored and fetched with Put and Get;
// PkgEntry.Info does not consult this cache and always parses the
// registry's TOML files itself.
type BoltCache struct {
	db *bolt.DB
}

// OpenBoltCache opens (creating if necessary) a BoltDB file under
// depotDir/registries/.cache.db.
func OpenBoltCache(depotDir string) (*BoltCache, error) {
	path := filepath.Join(depotDir, "registries", ".cache.db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating registry cache directory for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening registry cache %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pkgInfoBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing registry cache buckets")
	}
	return &BoltCache{db: db}, nil
}

// Close releases the underlying BoltDB file handle.
func (c *BoltCache) Close() error { return c.db.Close() }

func cacheEntryKey(regUUID, pkgUUID ID, treeHash string) []byte {
	return []byte(regUUID.String() + "/" + pkgUUID.String() + "/" + treeHash)
}

// Get returns a cached PkgInfo for (regUUID, pkgUUID) at the given tree
// hash, or ok=false on a cache miss. The tree hash in the key means a
// registry update that changes a package's tree hash naturally evicts the
// stale entry without any explicit invalidation step.
func (c *BoltCache) Get(regUUID, pkgUUID ID, treeHash string) (*PkgInfo, bool, error) {
	var info *PkgInfo
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(pkgInfoBucket)
		raw := b.Get(cacheEntryKey(regUUID, pkgUUID, treeHash))
		if raw == nil {
			return nil
		}
		dec := gob.NewDecoder(bytes.NewReader(raw))
		info = new(PkgInfo)
		return dec.Decode(info)
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "reading registry cache")
	}
	return info, info != nil, nil
}

// Put stores info under (regUUID, pkgUUID, treeHash).
func (c *BoltCache) Put(regUUID, pkgUUID ID, treeHash string, info *PkgInfo) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(info); err != nil {
		return errors.Wrap(err, "encoding registry cache entry")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(pkgInfoBucket)
		return b.Put(cacheEntryKey(regUUID, pkgUUID, treeHash), buf.Bytes())
	})
}
