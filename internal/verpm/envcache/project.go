// Package envcache implements §4.3: reading and atomically writing the
// project/manifest TOML pair that make up one environment, plus the
// undo/redo history and the is_instantiated/manifest_info queries the ops
// state machine builds on.
package envcache

import (
	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// Project is the user-authored project file (§6): name, identity, direct
// deps, and compatibility/target declarations.
type Project struct {
	Name         string
	UUID         uuid.UUID
	Version      string
	ManifestPath string // optional override of the default manifest location

	Deps     map[string]uuid.UUID // name -> uuid
	WeakDeps map[string]uuid.UUID
	Extras   map[string]uuid.UUID
	Sources  map[string]DevSource // name -> local/dev source override
	Compat   map[string]string    // name -> version-spec string
	Targets  map[string][]string  // target name -> dep names
}

// DevSource is a `[sources.<name>]` entry pointing a dependency at a local
// path or a specific (url, rev, subdir), bypassing the registry.
type DevSource struct {
	Path string
	URL  string
	Rev  string
	Dir  string
}

// rawProject mirrors the on-disk TOML schema. Field declaration order is
// the fixed key order §4.3 requires: name, uuid, keywords, license, desc,
// deps, compat first, remaining keys alphabetically after.
type rawProject struct {
	Name        string            `toml:"name"`
	UUID        string            `toml:"uuid"`
	Keywords    []string          `toml:"keywords,omitempty"`
	License     string            `toml:"license,omitempty"`
	Description string            `toml:"desc,omitempty"`
	Deps        map[string]string `toml:"deps,omitempty"`
	Compat      map[string]string `toml:"compat,omitempty"`

	Extras   map[string]string              `toml:"extras,omitempty"`
	Manifest string                         `toml:"manifest,omitempty"`
	Sources  map[string]rawDevSource        `toml:"sources,omitempty"`
	Targets  map[string][]string            `toml:"targets,omitempty"`
	Version  string                         `toml:"version,omitempty"`
	WeakDeps map[string]string              `toml:"weakdeps,omitempty"`
}

type rawDevSource struct {
	Path string `toml:"path,omitempty"`
	URL  string `toml:"url,omitempty"`
	Rev  string `toml:"rev,omitempty"`
	Dir  string `toml:"subdir,omitempty"`
}

// ParseProject decodes raw project TOML bytes.
func ParseProject(data []byte) (*Project, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, &pmerr.ProjectError{Field: "(file)", Reason: "invalid TOML: " + err.Error()}
	}
	var rp rawProject
	if err := tree.Unmarshal(&rp); err != nil {
		return nil, &pmerr.ProjectError{Field: "(file)", Reason: "schema mismatch: " + err.Error()}
	}

	p := &Project{
		Name:         rp.Name,
		Version:      rp.Version,
		ManifestPath: rp.Manifest,
		Deps:         make(map[string]uuid.UUID, len(rp.Deps)),
		WeakDeps:     make(map[string]uuid.UUID, len(rp.WeakDeps)),
		Extras:       make(map[string]uuid.UUID, len(rp.Extras)),
		Sources:      make(map[string]DevSource, len(rp.Sources)),
		Compat:       rp.Compat,
		Targets:      rp.Targets,
	}
	if rp.UUID != "" {
		id, err := uuid.Parse(rp.UUID)
		if err != nil {
			return nil, &pmerr.ProjectError{Field: "uuid", Reason: "invalid uuid: " + err.Error()}
		}
		p.UUID = id
	}
	if err := parseNameUUIDMap(rp.Deps, p.Deps); err != nil {
		return nil, &pmerr.ProjectError{Field: "deps", Reason: err.Error()}
	}
	if err := parseNameUUIDMap(rp.WeakDeps, p.WeakDeps); err != nil {
		return nil, &pmerr.ProjectError{Field: "weakdeps", Reason: err.Error()}
	}
	if err := parseNameUUIDMap(rp.Extras, p.Extras); err != nil {
		return nil, &pmerr.ProjectError{Field: "extras", Reason: err.Error()}
	}
	for name, s := range rp.Sources {
		p.Sources[name] = DevSource{Path: s.Path, URL: s.URL, Rev: s.Rev, Dir: s.Dir}
	}

	if err := validateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

func parseNameUUIDMap(raw map[string]string, into map[string]uuid.UUID) error {
	for name, idStr := range raw {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return errors.Wrapf(err, "dep %q has invalid uuid %q", name, idStr)
		}
		into[name] = id
	}
	return nil
}

// validateProject enforces §3/§6 invariants: no duplicate UUID across deps,
// no compat/targets entry naming a dependency absent from deps ∪ extras ∪
// weakdeps.
func validateProject(p *Project) error {
	seen := make(map[uuid.UUID]string, len(p.Deps))
	for name, id := range p.Deps {
		if other, ok := seen[id]; ok {
			return &pmerr.ProjectError{Field: "deps", Reason: "uuid " + id.String() + " used by both " + other + " and " + name}
		}
		seen[id] = name
	}
	for name := range p.Compat {
		if name == p.Name {
			continue // a project may declare its own compat range
		}
		if !p.knownName(name) {
			return &pmerr.ProjectError{Field: "compat", Reason: "compat entry " + name + " names an unknown dependency"}
		}
	}
	for target, names := range p.Targets {
		for _, name := range names {
			if !p.knownName(name) {
				return &pmerr.ProjectError{Field: "targets." + target, Reason: "names unknown dependency " + name}
			}
		}
	}
	return nil
}

// knownName reports whether name is declared under deps, extras, or
// weakdeps — the three tables targets/compat entries may reference (§3).
func (p *Project) knownName(name string) bool {
	if _, ok := p.Deps[name]; ok {
		return true
	}
	if _, ok := p.Extras[name]; ok {
		return true
	}
	if _, ok := p.WeakDeps[name]; ok {
		return true
	}
	return false
}

// Marshal renders the project back to TOML with the fixed key order.
func (p *Project) Marshal() ([]byte, error) {
	rp := rawProject{
		Name:     p.Name,
		UUID:     uuidString(p.UUID),
		Deps:     uuidMapToString(p.Deps),
		Compat:   p.Compat,
		Manifest: p.ManifestPath,
		Version:  p.Version,
		WeakDeps: uuidMapToString(p.WeakDeps),
		Extras:   uuidMapToString(p.Extras),
		Targets:  p.Targets,
	}
	if len(p.Sources) > 0 {
		rp.Sources = make(map[string]rawDevSource, len(p.Sources))
		for name, s := range p.Sources {
			rp.Sources[name] = rawDevSource{Path: s.Path, URL: s.URL, Rev: s.Rev, Dir: s.Dir}
		}
	}
	return toml.Marshal(rp)
}

func uuidString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func uuidMapToString(m map[string]uuid.UUID) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
