package registry

import (
	"path"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

type rawPackageToml struct {
	Repo     string `toml:"repo"`
	Subdir   string `toml:"subdir"`
	Metadata struct {
		Deprecated bool `toml:"deprecated"`
	} `toml:"metadata"`
}

type rawVersionEntry struct {
	GitTreeSHA1 string `toml:"git-tree-sha1"`
	Yanked      bool   `toml:"yanked"`
}

// loadPkgInfo is the slow path behind PkgEntry.Info: it reads
// Package.toml, Versions.toml, Deps.toml, Compat.toml, WeakDeps.toml, and
// WeakCompat.toml for one package directory and validates the §3
// compressed-table invariants, surfacing a *pmerr.RegistryError on any
// violation.
func (r *Registry) loadPkgInfo(e *PkgEntry) (*PkgInfo, error) {
	dir := e.Name + "/"

	pkgRaw, ok := r.src.ReadFile(dir + "Package.toml")
	if !ok {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "missing Package.toml for " + e.Name}
	}
	pkgTree, err := toml.LoadBytes(pkgRaw)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + e.Name + "/Package.toml", Cause: err}
	}
	var rp rawPackageToml
	if err := pkgTree.Unmarshal(&rp); err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + e.Name + "/Package.toml", Cause: err}
	}

	versions, err := r.loadVersions(dir, e.Name)
	if err != nil {
		return nil, err
	}

	deps, err := r.loadDepsTable(dir+"Deps.toml", e.Name)
	if err != nil {
		return nil, err
	}
	weakDeps, err := r.loadDepsTable(dir+"WeakDeps.toml", e.Name)
	if err != nil {
		return nil, err
	}
	compat, err := r.loadCompatTable(dir+"Compat.toml", e.Name)
	if err != nil {
		return nil, err
	}
	weakCompat, err := r.loadCompatTable(dir+"WeakCompat.toml", e.Name)
	if err != nil {
		return nil, err
	}

	if err := ValidateDepsTable(r.Name+"/"+e.Name, deps); err != nil {
		return nil, err
	}
	if err := ValidateDepsTable(r.Name+"/"+e.Name, weakDeps); err != nil {
		return nil, err
	}
	if err := ValidateCompatTable(r.Name+"/"+e.Name, compat, deps, weakDeps); err != nil {
		return nil, err
	}
	if err := ValidateCompatTable(r.Name+"/"+e.Name, weakCompat, deps, weakDeps); err != nil {
		return nil, err
	}

	return &PkgInfo{
		UUID:       e.UUID,
		Name:       e.Name,
		Repo:       rp.Repo,
		Versions:   versions,
		Deps:       deps,
		Compat:     compat,
		WeakDeps:   weakDeps,
		WeakCompat: weakCompat,
	}, nil
}

func (r *Registry) loadVersions(dir, pkgName string) (map[string]VersionInfo, error) {
	raw, ok := r.src.ReadFile(dir + "Versions.toml")
	if !ok {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "missing Versions.toml for " + pkgName}
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + pkgName + "/Versions.toml", Cause: err}
	}
	var rawMap map[string]rawVersionEntry
	if err := tree.Unmarshal(&rawMap); err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + pkgName + "/Versions.toml", Cause: err}
	}
	out := make(map[string]VersionInfo, len(rawMap))
	for vs, entry := range rawMap {
		v, err := semver.Parse(vs)
		if err != nil {
			return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "invalid version " + vs + " in " + pkgName, Cause: err}
		}
		out[v.String()] = VersionInfo{TreeHash: entry.GitTreeSHA1, Yanked: entry.Yanked}
	}
	return out, nil
}

func (r *Registry) loadDepsTable(rel, pkgName string) ([]DepsEntry, error) {
	raw, ok := r.src.ReadFile(rel)
	if !ok {
		return nil, nil // absent file means "no entries", not an error
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + path.Join(pkgName, rel), Cause: err}
	}
	var rawMap map[string]map[string]string // rangeKey -> depName -> uuid string
	if err := tree.Unmarshal(&rawMap); err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + path.Join(pkgName, rel), Cause: err}
	}

	var out []DepsEntry
	for rk, depMap := range rawMap {
		rng, err := semver.ParseRangeKey(rk)
		if err != nil {
			return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "bad range key in " + pkgName, Cause: err}
		}
		entry := DepsEntry{Range: rng}
		for _, idStr := range depMap {
			id, err := uuid.Parse(idStr)
			if err != nil {
				return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "bad dependency uuid in " + pkgName, Cause: err}
			}
			entry.Deps = append(entry.Deps, id)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *Registry) loadCompatTable(rel, pkgName string) ([]CompatEntry, error) {
	raw, ok := r.src.ReadFile(rel)
	if !ok {
		return nil, nil
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + path.Join(pkgName, rel), Cause: err}
	}
	var rawMap map[string]map[string]string // rangeKey -> uuid string -> spec string
	if err := tree.Unmarshal(&rawMap); err != nil {
		return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "registry parse error in " + path.Join(pkgName, rel), Cause: err}
	}

	var out []CompatEntry
	for rk, specMap := range rawMap {
		rng, err := semver.ParseRangeKey(rk)
		if err != nil {
			return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "bad range key in " + pkgName, Cause: err}
		}
		entry := CompatEntry{Range: rng, Compat: make(map[ID]VersionSpec, len(specMap))}
		for idStr, specStr := range specMap {
			id, err := uuid.Parse(idStr)
			if err != nil {
				return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "bad dependency uuid in " + pkgName, Cause: err}
			}
			spec, err := semver.ParseSpec(specStr)
			if err != nil {
				return nil, &pmerr.RegistryError{Registry: r.Name, Reason: "bad compat spec in " + pkgName, Cause: err}
			}
			entry.Compat[id] = spec
		}
		out = append(out, entry)
	}
	return out, nil
}
