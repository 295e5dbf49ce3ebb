package envcache

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// manifestFormatVersion is the only manifest schema this package writes or
// accepts, per §6 "version 2 format".
const manifestFormatVersion = 2

// ManifestEntry is one resolved dependency (§3 "Manifest entry").
type ManifestEntry struct {
	Name     string
	UUID     uuid.UUID
	Version  string // empty for path/repo entries
	TreeHash string
	Deps     map[string]uuid.UUID

	Path string // develop-mode source directory; mutually exclusive with Version

	RepoURL    string
	RepoRev    string
	RepoSubdir string

	Pinned bool
}

// IsPath reports whether this entry is a develop-mode path source.
func (e ManifestEntry) IsPath() bool { return e.Path != "" }

// IsRepo reports whether this entry is a (url, rev, subdir) source.
func (e ManifestEntry) IsRepo() bool { return e.RepoURL != "" }

// Manifest is the resolved lock file (§3 "Manifest", §6 "Manifest file").
type Manifest struct {
	FormatVersion int
	Entries       []ManifestEntry

	// ProjectHash is a hash of the project's deps ∪ compat at resolve time,
	// so a later instantiate can warn when the project changed without a
	// re-resolve (§6).
	ProjectHash string
}

// Clone returns a deep-enough copy of m for before/after diffing: the
// entries slice and each entry's Deps map are copied so mutating the
// original afterward does not retroactively change the snapshot.
func (m *Manifest) Clone() *Manifest {
	out := &Manifest{FormatVersion: m.FormatVersion, ProjectHash: m.ProjectHash}
	out.Entries = make([]ManifestEntry, len(m.Entries))
	for i, e := range m.Entries {
		deps := make(map[string]uuid.UUID, len(e.Deps))
		for k, v := range e.Deps {
			deps[k] = v
		}
		e.Deps = deps
		out.Entries[i] = e
	}
	return out
}

// ByName returns the entry named name, if present.
func (m *Manifest) ByName(name string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// ByUUID implements §4.3's manifest_info(uuid).
func (m *Manifest) ByUUID(id uuid.UUID) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.UUID == id {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Set replaces (or appends) the entry for e.Name.
func (m *Manifest) Set(e ManifestEntry) {
	for i, existing := range m.Entries {
		if existing.Name == e.Name {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
}

// Remove drops the named entry, if present.
func (m *Manifest) Remove(name string) {
	out := m.Entries[:0]
	for _, e := range m.Entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	m.Entries = out
}

// Prune keeps only entries transitively reachable from roots via Deps,
// enforcing §3's "manifest is pruned" invariant after a remove.
func (m *Manifest) Prune(roots []string) {
	byName := make(map[string]ManifestEntry, len(m.Entries))
	for _, e := range m.Entries {
		byName[e.Name] = e
	}
	uuidToName := make(map[uuid.UUID]string, len(m.Entries))
	for _, e := range m.Entries {
		uuidToName[e.UUID] = e.Name
	}

	reached := make(map[string]bool, len(m.Entries))
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if reached[name] {
			continue
		}
		reached[name] = true
		e, ok := byName[name]
		if !ok {
			continue
		}
		for depName := range e.Deps {
			queue = append(queue, depName)
		}
	}

	out := m.Entries[:0]
	for _, e := range m.Entries {
		if reached[e.Name] {
			out = append(out, e)
		}
	}
	m.Entries = out
}

// rawManifest mirrors the on-disk TOML schema.
type rawManifest struct {
	FormatVersion int                      `toml:"manifest_format"`
	ProjectHash   string                    `toml:"project_hash,omitempty"`
	Deps          map[string][]rawManEntry `toml:"deps"`
}

type rawManEntry struct {
	UUID       string            `toml:"uuid"`
	Version    string            `toml:"version,omitempty"`
	TreeHash   string            `toml:"git-tree-sha1,omitempty"`
	Deps       map[string]string `toml:"deps,omitempty"`
	Path       string            `toml:"path,omitempty"`
	RepoURL    string            `toml:"repo-url,omitempty"`
	RepoRev    string            `toml:"repo-rev,omitempty"`
	RepoSubdir string            `toml:"repo-subdir,omitempty"`
	Pinned     bool              `toml:"pinned,omitempty"`
}

// ParseManifest decodes raw manifest TOML bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &pmerr.ManifestError{Reason: "invalid TOML: " + err.Error()}
	}
	var rm rawManifest
	if err := tree.Unmarshal(&rm); err != nil {
		return nil, &pmerr.ManifestError{Reason: "schema mismatch: " + err.Error()}
	}
	if rm.FormatVersion != manifestFormatVersion {
		return nil, &pmerr.ManifestError{Reason: "unsupported manifest_format"}
	}

	m := &Manifest{FormatVersion: rm.FormatVersion, ProjectHash: rm.ProjectHash}
	for name, entries := range rm.Deps {
		for _, re := range entries {
			e := ManifestEntry{
				Name:       name,
				Version:    re.Version,
				TreeHash:   re.TreeHash,
				Path:       re.Path,
				RepoURL:    re.RepoURL,
				RepoRev:    re.RepoRev,
				RepoSubdir: re.RepoSubdir,
				Pinned:     re.Pinned,
			}
			if re.UUID != "" {
				id, err := uuid.Parse(re.UUID)
				if err != nil {
					return nil, &pmerr.ManifestError{Package: name, Reason: "invalid uuid", Cause: err}
				}
				e.UUID = id
			}
			if len(re.Deps) > 0 {
				e.Deps = make(map[string]uuid.UUID, len(re.Deps))
				for depName, idStr := range re.Deps {
					id, err := uuid.Parse(idStr)
					if err != nil {
						return nil, &pmerr.ManifestError{Package: name, Reason: "invalid dep uuid for " + depName, Cause: err}
					}
					e.Deps[depName] = id
				}
			}
			m.Entries = append(m.Entries, e)
		}
	}
	return m, nil
}

// Marshal renders the manifest back to TOML.
func (m *Manifest) Marshal() ([]byte, error) {
	rm := rawManifest{
		FormatVersion: manifestFormatVersion,
		ProjectHash:   m.ProjectHash,
		Deps:          make(map[string][]rawManEntry, len(m.Entries)),
	}
	names := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)

	for _, e := range m.Entries {
		re := rawManEntry{
			UUID:       uuidString(e.UUID),
			Version:    e.Version,
			TreeHash:   e.TreeHash,
			Path:       e.Path,
			RepoURL:    e.RepoURL,
			RepoRev:    e.RepoRev,
			RepoSubdir: e.RepoSubdir,
			Pinned:     e.Pinned,
		}
		if len(e.Deps) > 0 {
			re.Deps = uuidMapToString(e.Deps)
		}
		rm.Deps[e.Name] = append(rm.Deps[e.Name], re)
	}
	return toml.Marshal(rm)
}
