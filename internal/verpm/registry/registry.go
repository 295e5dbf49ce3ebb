package registry

import (
	"os"
	"path/filepath"

	"github.com/armon/go-radix"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// Registry is an immutable-during-a-session view of one registry: a
// name->UUIDs multimap, a UUID->package-entry map, and lazily materialized
// PkgInfo records (§3 "Registry").
type Registry struct {
	UUID ID
	Name string

	variant Variant
	src     fileSource
	rootDir string // "" for the packed (in-memory) variant

	packages map[ID]*PkgEntry

	nameIndexOnce nameIndexState
}

type nameIndexState struct {
	tree *radix.Tree
}

// rawRegistryToml mirrors the top-level Registry.toml schema of §6.
type rawRegistryToml struct {
	Name        string                        `toml:"name"`
	UUID        string                        `toml:"uuid"`
	Repo        string                        `toml:"repo"`
	Description string                        `toml:"description"`
	Packages    map[string]rawRegistryPkgEntry `toml:"packages"`
}

type rawRegistryPkgEntry struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Open detects the storage variant at path and returns a lazily-loaded
// Registry handle. Packed registries (a sidecar TOML + tarball pair) are
// read entirely into memory; every other variant defers to the filesystem.
func Open(path string) (*Registry, error) {
	variant, err := DetectVariant(path)
	if err != nil {
		return nil, errors.Wrap(err, "detecting registry storage variant")
	}

	var src fileSource
	var rootDir string

	switch variant {
	case VariantPacked:
		sidecar, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading packed registry sidecar")
		}
		tree, err := toml.LoadBytes(sidecar)
		if err != nil {
			return nil, &pmerr.RegistryError{Registry: path, Reason: "corrupt sidecar TOML", Cause: err}
		}
		tarPath := tree.Get("path").(string)
		if !filepath.IsAbs(tarPath) {
			tarPath = filepath.Join(filepath.Dir(path), tarPath)
		}
		mem, err := loadPackedTarball(tarPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading packed registry tarball")
		}
		src = mem
	case VariantUnpacked, VariantGit, VariantBare:
		src = diskSource{root: path}
		rootDir = path
	}

	raw, ok := src.ReadFile("Registry.toml")
	if !ok {
		return nil, &pmerr.RegistryError{Registry: path, Reason: "missing Registry.toml"}
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: path, Reason: "registry parse error", Cause: err}
	}
	var rr rawRegistryToml
	if err := tree.Unmarshal(&rr); err != nil {
		return nil, &pmerr.RegistryError{Registry: path, Reason: "registry parse error", Cause: err}
	}

	regUUID, err := uuid.Parse(rr.UUID)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: path, Reason: "invalid registry uuid", Cause: err}
	}

	reg := &Registry{
		UUID:     regUUID,
		Name:     rr.Name,
		variant:  variant,
		src:      src,
		rootDir:  rootDir,
		packages: make(map[ID]*PkgEntry, len(rr.Packages)),
	}

	for idStr, entry := range rr.Packages {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, &pmerr.RegistryError{Registry: path, Reason: "invalid package uuid " + idStr, Cause: err}
		}
		reg.packages[id] = &PkgEntry{UUID: id, Name: entry.Name, reg: reg}
	}

	return reg, nil
}

// Variant reports which storage format backs this registry.
func (r *Registry) Variant() Variant { return r.variant }

// Packages returns every package entry known to the registry, in no
// particular order. Entries are not yet materialized; call Info on one to
// force a load.
func (r *Registry) Packages() []*PkgEntry {
	out := make([]*PkgEntry, 0, len(r.packages))
	for _, e := range r.packages {
		out = append(out, e)
	}
	return out
}

// Entry looks up a package entry by UUID without materializing it.
func (r *Registry) Entry(id ID) (*PkgEntry, bool) {
	e, ok := r.packages[id]
	return e, ok
}

// UUIDsByName returns every package UUID registered under name. The index
// is built once per registry (on first call) and cached for the lifetime
// of the Registry value, per §4.2's uuids_by_name contract.
func (r *Registry) UUIDsByName(name string) []ID {
	tree := r.nameIndex()
	v, ok := tree.Get(name)
	if !ok {
		return nil
	}
	return v.([]ID)
}

func (r *Registry) nameIndex() *radix.Tree {
	if r.nameIndexOnce.tree != nil {
		return r.nameIndexOnce.tree
	}
	tree := radix.New()
	for id, e := range r.packages {
		var existing []ID
		if v, ok := tree.Get(e.Name); ok {
			existing = v.([]ID)
		}
		tree.Insert(e.Name, append(existing, id))
	}
	r.nameIndexOnce.tree = tree
	return tree
}

// forgetSourceBytes drops the packed in-memory bytes for a package's
// subtree once its PkgInfo has been materialized (§4.2).
func (r *Registry) forgetSourceBytes(id ID) {
	entry, ok := r.packages[id]
	if !ok {
		return
	}
	r.src.Forget(packageDirHint(entry))
}

// packageDirHint is a best-effort prefix used only to free packed-registry
// memory early; a miss just means the bytes linger until the process exits.
func packageDirHint(e *PkgEntry) string {
	return e.Name + "/"
}
