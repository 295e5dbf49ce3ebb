package registry

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Variant identifies which of the four storage formats described in §3
// backs a Registry.
type Variant int

const (
	// VariantPacked is a gzipped tarball of the registry tree, paired with
	// a sidecar TOML holding uuid/git-tree-sha1/filename, read entirely
	// into memory.
	VariantPacked Variant = iota
	// VariantUnpacked is a directory tree with a .tree_info.toml recording
	// the tree hash.
	VariantUnpacked
	// VariantGit is a directory tree with a .git/ checkout.
	VariantGit
	// VariantBare is a directory tree with only a Registry.toml and no
	// hash or VCS metadata.
	VariantBare
)

func (v Variant) String() string {
	switch v {
	case VariantPacked:
		return "packed"
	case VariantUnpacked:
		return "unpacked"
	case VariantGit:
		return "git"
	case VariantBare:
		return "bare"
	default:
		return "unknown"
	}
}

// DetectVariant applies the storage-format detection rule of §4.2: a
// *.toml sidecar with a "path" key means packed; .tree_info.toml means
// unpacked; .git/ means git; otherwise, if Registry.toml is present, bare.
func DetectVariant(path string) (Variant, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "statting registry path %s", path)
	}

	if !fi.IsDir() {
		if filepath.Ext(path) == ".toml" {
			if hasPathKey(path) {
				return VariantPacked, nil
			}
		}
		return 0, errors.Errorf("%s is not a directory and not a packed registry sidecar", path)
	}

	if _, err := os.Stat(filepath.Join(path, ".tree_info.toml")); err == nil {
		return VariantUnpacked, nil
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return VariantGit, nil
	}
	if _, err := os.Stat(filepath.Join(path, "Registry.toml")); err == nil {
		return VariantBare, nil
	}

	return 0, errors.Errorf("%s has no recognizable registry storage marker", path)
}

func hasPathKey(sidecar string) bool {
	b, err := os.ReadFile(sidecar)
	if err != nil {
		return false
	}
	tree, err := toml.LoadBytes(b)
	if err != nil {
		return false
	}
	return tree.Has("path")
}

// fileSource abstracts reading a relative path out of either a disk tree or
// an in-memory packed file map.
type fileSource interface {
	ReadFile(rel string) ([]byte, bool)
	// Forget drops cached bytes under a subtree once they've been consumed,
	// per §4.2's "source bytes... freed from the in-memory map" rule. A
	// no-op for disk-backed sources.
	Forget(prefix string)
}

type diskSource struct{ root string }

func (d diskSource) ReadFile(rel string) ([]byte, bool) {
	b, err := os.ReadFile(filepath.Join(d.root, rel))
	if err != nil {
		return nil, false
	}
	return b, true
}

func (d diskSource) Forget(string) {}

type memSource struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memSource) ReadFile(rel string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[rel]
	return b, ok
}

func (m *memSource) Forget(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.files {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.files, k)
		}
	}
}

// loadPackedTarball reads a gzipped tarball entirely into an in-memory
// byte-keyed file map, as required for the packed storage variant.
func loadPackedTarball(path string) (*memSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening packed registry tarball %s", path)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading tar entry")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "reading tar entry %s", hdr.Name)
		}
		files[hdr.Name] = b
	}
	return &memSource{files: files}, nil
}
