// Package ops implements §4.6: the user-facing operation state machine
// (add, remove, update, pin, free, develop, instantiate) that turns a
// Requires/Fixed pair into a resolver run, merges the result into the
// manifest, downloads new sources, and writes the environment atomically.
package ops

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/depgraph"
	"github.com/vermint-pm/vermint/internal/verpm/depot"
	"github.com/vermint-pm/vermint/internal/verpm/envcache"
	"github.com/vermint-pm/vermint/internal/verpm/pmctx"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
	"github.com/vermint-pm/vermint/internal/verpm/registry"
	"github.com/vermint-pm/vermint/internal/verpm/resolvelog"
	"github.com/vermint-pm/vermint/internal/verpm/resolver"
	"github.com/vermint-pm/vermint/internal/verpm/semver"
)

// Env bundles everything one operation needs: ambient config, the
// reachable registries, the depot, and the target runtime version that
// seeds the graph's synthetic fixed runtime entry.
type Env struct {
	Ctx            *pmctx.Context
	Registries     []*registry.Registry
	Depot          *depot.Depot
	RuntimeVersion semver.Version
}

// lookupUUID resolves a dependency name to a UUID, preferring an existing
// project dep entry, then searching the registries.
func (e *Env) lookupUUID(c *envcache.Cache, name string) (uuid.UUID, error) {
	if id, ok := c.Project.Deps[name]; ok {
		return id, nil
	}
	var found []uuid.UUID
	for _, reg := range e.Registries {
		found = append(found, reg.UUIDsByName(name)...)
	}
	switch len(found) {
	case 0:
		return uuid.Nil, &pmerr.RegistryError{Reason: "no package named " + name + " found in any reachable registry"}
	case 1:
		return found[0], nil
	default:
		// Multiple registries agree on the name with different UUIDs:
		// first-registry-wins, matching the cross-registry tiebreak used
		// for dependency constraints elsewhere.
		return found[0], nil
	}
}

// buildNames collects a UUID->name display map for resolvelog/depgraph
// from the project and manifest, falling back to the registries for
// anything not already known locally.
func (e *Env) buildNames(c *envcache.Cache, ids map[uuid.UUID]bool) map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(ids))
	for name, id := range c.Project.Deps {
		out[id] = name
	}
	for _, entry := range c.Manifest.Entries {
		out[entry.UUID] = entry.Name
	}
	for id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		for _, reg := range e.Registries {
			if pe, ok := reg.Entry(id); ok {
				out[id] = pe.Name
				break
			}
		}
	}
	return out
}

// resolveAndMerge runs the resolver over requires/fixed and folds the
// result into c.Manifest, keyed by display name. It does not write the
// environment to disk; callers do that once downloads succeed.
func (e *Env) resolveAndMerge(ctx context.Context, c *envcache.Cache, requires map[uuid.UUID]semver.Spec, fixed map[uuid.UUID]depgraph.Fixed) error {
	allIDs := make(map[uuid.UUID]bool, len(requires)+len(fixed))
	for id := range requires {
		allIDs[id] = true
	}
	for id := range fixed {
		allIDs[id] = true
	}
	names := e.buildNames(c, allIDs)

	log := resolvelog.New(names)
	for id, spec := range requires {
		log.Add(id, "explicit requirement: %s", spec.String())
	}

	graph, err := depgraph.Build(requires, fixed, e.Registries, e.RuntimeVersion, names, log)
	if err != nil {
		return err
	}

	required := make(map[depgraph.PkgID]bool, len(requires))
	for id := range requires {
		required[id] = true
	}

	result, err := resolver.Resolve(ctx, graph, required)
	if err != nil {
		return err
	}

	for id, state := range result.Assignment {
		uninstalled := graph.Spp[id] - 1
		if int(state) == uninstalled {
			c.Manifest.Remove(names[id])
			continue
		}
		v := graph.Pool[id][state]
		entry := envcache.ManifestEntry{
			Name:     names[id],
			UUID:     id,
			Version:  v.String(),
			TreeHash: treeHashFor(e.Registries, id, v),
			Deps:     resolvedDeps(graph, result.Assignment, id, names, e.RuntimeVersion),
		}
		if f, isFixed := graph.Fixed[id]; isFixed && f.Requires != nil {
			if prev, ok := c.Manifest.ByUUID(id); ok {
				entry.Path = prev.Path
				entry.RepoURL, entry.RepoRev, entry.RepoSubdir = prev.RepoURL, prev.RepoRev, prev.RepoSubdir
			}
		}
		if prev, ok := c.Manifest.ByUUID(id); ok {
			entry.Pinned = prev.Pinned
		}
		c.Manifest.Set(entry)
	}

	roots := make([]string, 0, len(c.Project.Deps))
	for name := range c.Project.Deps {
		roots = append(roots, name)
	}
	c.Manifest.Prune(roots)
	return nil
}

func treeHashFor(regs []*registry.Registry, id uuid.UUID, v semver.Version) string {
	for _, reg := range regs {
		entry, ok := reg.Entry(id)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if vi, ok := info.Versions[v.String()]; ok {
			return vi.TreeHash
		}
	}
	return ""
}

// resolvedDeps reconstructs p's effective dependency set at its resolved
// state from the graph's compatibility edges: q is a dependency of p iff
// an edge exists between them and q's own resolved state is compatible
// with p's, per Edge's "row v_q compatible with column v_p" encoding.
//
// Only a q actually present in the resolver's solution (assign holds a
// state for it) or recognized as a stdlib for runtimeVersion is ever
// written out; an edge the registry lists but the resolver never assigned
// is never emitted, since that would leave manifest[p].deps pointing at a
// UUID with no corresponding manifest record (§9).
func resolvedDeps(g *depgraph.Graph, assign map[depgraph.PkgID]resolver.State, p uuid.UUID, names map[uuid.UUID]string, runtimeVersion semver.Version) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID)
	vp := int(assign[p])
	for q, edge := range g.Edges[p] {
		if _, isStdlib := registry.IsStdlib(q, runtimeVersion); isStdlib {
			if n, ok := names[q]; ok {
				out[n] = q
			}
			continue
		}
		vq, resolved := assign[q]
		if !resolved {
			continue
		}
		if int(vq) == g.Spp[q]-1 {
			continue // q resolved to uninstalled: not an active dependency
		}
		if !edge.Rows[int(vq)].Test(vp) {
			continue
		}
		if n, ok := names[q]; ok {
			out[n] = q
		}
	}
	return out
}

// resolveWithTier runs resolveAndMerge under the given preservation tier.
// TierTiered and TierTieredInstalled are composite: each step is tried in
// order (ALL/ALL_INSTALLED, DIRECT, SEMVER, NONE) against a scratch copy
// of the manifest, keeping the first that resolves successfully, per
// §4.6's "first success wins" tiered policy.
func (e *Env) resolveWithTier(ctx context.Context, c *envcache.Cache, requires map[uuid.UUID]semver.Spec, tier Tier) error {
	var steps []Tier
	switch tier {
	case TierTiered:
		steps = []Tier{TierAll, TierDirect, TierSemver, TierNone}
	case TierTieredInstalled:
		steps = []Tier{TierAllInstalled, TierDirect, TierSemver, TierNone}
	default:
		steps = []Tier{tier}
	}

	savedEntries := append([]envcache.ManifestEntry(nil), c.Manifest.Entries...)
	var lastErr error
	for _, step := range steps {
		c.Manifest.Entries = append([]envcache.ManifestEntry(nil), savedEntries...)
		stepRequires := requires
		if step == TierSemver {
			stepRequires = narrowToCurrentCompat(c, requires)
		}
		fixed := step.fixedFor(c, stepRequires, e.Depot)
		if err := e.resolveAndMerge(ctx, c, stepRequires, fixed); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// narrowToCurrentCompat implements the SEMVER tier: every entry not
// already explicitly constrained by the caller is pinned to its current
// compatible caret range instead of left universal, so a resolve under
// this tier can only move unconstrained packages within their existing
// compatibility class.
func narrowToCurrentCompat(c *envcache.Cache, requires map[uuid.UUID]semver.Spec) map[uuid.UUID]semver.Spec {
	out := make(map[uuid.UUID]semver.Spec, len(requires))
	for id, spec := range requires {
		out[id] = spec
	}
	for _, entry := range c.Manifest.Entries {
		if entry.IsPath() || entry.IsRepo() || entry.Version == "" {
			continue
		}
		spec, explicit := requires[entry.UUID]
		unconstrained := !explicit || len(spec.Ranges()) == 0 || spec.Ranges()[0].Lo.Equal(semver.Zero)
		if unconstrained {
			if narrowed, err := semver.ParseSpec("^" + entry.Version); err == nil {
				out[entry.UUID] = narrowed
			}
		}
	}
	return out
}

// downloadNew fetches every manifest entry not yet present on disk,
// skipping develop-mode path entries (§4.7).
func (e *Env) downloadNew(ctx context.Context, c *envcache.Cache) error {
	var jobs []depot.Job
	for _, entry := range c.Manifest.Entries {
		if entry.IsPath() {
			continue
		}
		if entry.TreeHash == "" {
			continue
		}
		if e.Depot.IsInstalled(entry.Name, entry.UUID, entry.TreeHash) {
			continue
		}
		jobs = append(jobs, depot.Job{
			Name:     entry.Name,
			UUID:     entry.UUID,
			TreeHash: entry.TreeHash,
			Sources: depot.Source{
				PkgServerURL: e.Ctx.PkgServerURL,
				GitRemote:    entry.RepoURL,
				GitRev:       entry.RepoRev,
			},
		})
	}
	if len(jobs) == 0 {
		return nil
	}
	results, err := e.Depot.DownloadAll(ctx, jobs)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// Add implements §4.6 add: validate no conflict, register new deps, and
// resolve with the given preservation tier. It returns the show_update
// rendering of the resulting manifest change.
func (e *Env) Add(ctx context.Context, c *envcache.Cache, specs map[string]string, tier Tier) (string, error) {
	for name := range specs {
		if _, ok := c.Project.Deps[name]; ok {
			return "", &pmerr.ProjectError{Field: "deps", Reason: "already depends on " + name}
		}
	}

	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return "", err
	}
	before := c.Manifest.Clone()

	requires := make(map[uuid.UUID]semver.Spec)
	for name := range c.Project.Deps {
		requires[c.Project.Deps[name]] = semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
	}
	for name, specStr := range specs {
		id, err := e.lookupUUID(c, name)
		if err != nil {
			return "", err
		}
		spec, err := semver.ParseSpec(specStr)
		if err != nil {
			return "", errors.Wrapf(err, "parsing version spec for %s", name)
		}
		c.Project.Deps[name] = id
		requires[id] = spec
	}

	if err := e.resolveWithTier(ctx, c, requires, tier); err != nil {
		return "", err
	}
	if err := e.downloadNew(ctx, c); err != nil {
		return "", err
	}
	if err := c.Write(); err != nil {
		return "", err
	}
	return envcache.ShowUpdate(before, c.Manifest)
}

// Remove implements §4.6 remove.
func (e *Env) Remove(ctx context.Context, c *envcache.Cache, names []string) error {
	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return err
	}
	for _, name := range names {
		delete(c.Project.Deps, name)
		delete(c.Project.Compat, name)
		for target, deps := range c.Project.Targets {
			c.Project.Targets[target] = removeName(deps, name)
		}
		c.Manifest.Remove(name)
	}
	roots := make([]string, 0, len(c.Project.Deps))
	for n := range c.Project.Deps {
		roots = append(roots, n)
	}
	c.Manifest.Prune(roots)
	return c.Write()
}

func removeName(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// UpgradeLevel selects the range-widening rule for §4.6 update.
type UpgradeLevel int

const (
	UpgradeMajor UpgradeLevel = iota
	UpgradeMinor
	UpgradePatch
	UpgradeFixed
)

// Update implements §4.6 update: for each target, widen its allowed range
// per level and re-resolve. Pinned entries are skipped. It returns the
// show_update rendering of the resulting manifest change.
func (e *Env) Update(ctx context.Context, c *envcache.Cache, targets []string, level UpgradeLevel) (string, error) {
	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return "", err
	}
	before := c.Manifest.Clone()

	requires := make(map[uuid.UUID]semver.Spec)
	for name, id := range c.Project.Deps {
		entry, hasEntry := c.Manifest.ByUUID(id)
		if hasEntry && entry.Pinned {
			requires[id] = semver.NewSpec(semver.Range{Lo: mustParseOrZero(entry.Version), Hi: nextPatch(mustParseOrZero(entry.Version))})
			continue
		}
		wantsUpdate := len(targets) == 0
		for _, t := range targets {
			if t == name {
				wantsUpdate = true
			}
		}
		if !wantsUpdate || !hasEntry || level == UpgradeFixed {
			requires[id] = semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
			continue
		}
		requires[id] = widenedRange(entry.Version, level)
	}

	tier := TierDirect
	if level == UpgradeFixed {
		tier = TierNone
	}
	if err := e.resolveWithTier(ctx, c, requires, tier); err != nil {
		return "", err
	}
	if err := e.downloadNew(ctx, c); err != nil {
		return "", err
	}
	if err := c.Write(); err != nil {
		return "", err
	}
	return envcache.ShowUpdate(before, c.Manifest)
}

func mustParseOrZero(s string) semver.Version {
	v, err := semver.Parse(s)
	if err != nil {
		return semver.Zero
	}
	return v
}

func nextPatch(v semver.Version) semver.Version {
	return semver.MustParse(uintStr(v.Major()) + "." + uintStr(v.Minor()) + "." + uintStr(v.Patch()+1))
}

func widenedRange(versionStr string, level UpgradeLevel) semver.Spec {
	v, err := semver.Parse(versionStr)
	if err != nil {
		return semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
	}
	var hi semver.Version
	switch level {
	case UpgradeMajor:
		hi = semver.Infinity
	case UpgradeMinor:
		hi = semver.MustParse(uintStr(v.Major()+1) + ".0.0")
	case UpgradePatch:
		hi = semver.MustParse(uintStr(v.Major()) + "." + uintStr(v.Minor()+1) + ".0")
	default:
		hi = semver.MustParse(uintStr(v.Major()) + "." + uintStr(v.Minor()) + "." + uintStr(v.Patch()+1))
	}
	return semver.NewSpec(semver.Range{Lo: v, Hi: hi})
}

func uintStr(n uint64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Pin implements §4.6 pin: pins a manifest entry at its current version.
// A non-empty version first triggers an update of the package to the
// newest version its constraints allow; the value of version is not used
// to choose that version, so the entry is pinned at whatever the update
// selected.
func (e *Env) Pin(ctx context.Context, c *envcache.Cache, name, version string) error {
	id, ok := c.Project.Deps[name]
	if !ok {
		return &pmerr.ProjectError{Field: "deps", Reason: name + " is not a project dependency"}
	}
	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return err
	}
	if version != "" {
		if _, err := e.Update(ctx, c, []string{name}, UpgradeMajor); err != nil {
			return err
		}
	}
	entry, ok := c.Manifest.ByUUID(id)
	if !ok {
		return &pmerr.ManifestError{Package: name, Reason: "not present in manifest"}
	}
	entry.Pinned = true
	c.Manifest.Set(entry)
	return c.Write()
}

// Free implements §4.6 free: clears the pinned flag. The package must
// still be registered (present in the project's deps).
func (e *Env) Free(c *envcache.Cache, name string) error {
	if _, ok := c.Project.Deps[name]; !ok {
		return &pmerr.ProjectError{Field: "deps", Reason: name + " is not a project dependency"}
	}
	entry, ok := c.Manifest.ByName(name)
	if !ok {
		return &pmerr.ManifestError{Package: name, Reason: "not present in manifest"}
	}
	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return err
	}
	entry.Pinned = false
	c.Manifest.Set(entry)
	return c.Write()
}

// Develop implements §4.6 develop: records a path entry and resolves the
// package as Fixed, reading its own project file for Requires.
func (e *Env) Develop(ctx context.Context, c *envcache.Cache, name, path string) error {
	if err := envcache.RecordSnapshot(e.Ctx, c); err != nil {
		return err
	}
	id, err := e.lookupUUID(c, name)
	if err != nil {
		return err
	}
	c.Project.Deps[name] = id
	c.Project.Sources[name] = envcache.DevSource{Path: path}

	devCache, err := envcache.Read(path)
	if err != nil {
		return errors.Wrapf(err, "reading develop source project for %s", name)
	}

	requires := map[uuid.UUID]semver.Spec{id: semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})}
	for depName := range c.Project.Deps {
		if depName == name {
			continue
		}
		requires[c.Project.Deps[depName]] = semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
	}

	v, err := semver.Parse(devCache.Project.Version)
	if err != nil {
		v = semver.Zero
	}
	fixedReqs := make(map[uuid.UUID]semver.Spec, len(devCache.Project.Deps))
	for depName, depID := range devCache.Project.Deps {
		specStr := devCache.Project.Compat[depName]
		if specStr == "" {
			fixedReqs[depID] = semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
			continue
		}
		spec, err := semver.ParseSpec(specStr)
		if err != nil {
			return errors.Wrapf(err, "parsing compat for develop dep %s", depName)
		}
		fixedReqs[depID] = spec
	}

	fixed := map[uuid.UUID]depgraph.Fixed{id: {Version: v, Requires: fixedReqs}}
	if err := e.resolveAndMerge(ctx, c, requires, fixed); err != nil {
		return err
	}

	entry, _ := c.Manifest.ByUUID(id)
	entry.Path = path
	entry.Version = ""
	entry.TreeHash = ""
	c.Manifest.Set(entry)

	if err := e.downloadNew(ctx, c); err != nil {
		return err
	}
	return c.Write()
}

// Instantiate implements §4.6 instantiate: if the manifest has entries,
// download everything missing; otherwise resolve as if every project dep
// were newly added. It returns the show_update rendering of whatever
// changed in the manifest (empty when only downloads happened).
func (e *Env) Instantiate(ctx context.Context, c *envcache.Cache) (string, error) {
	before := c.Manifest.Clone()
	if len(c.Manifest.Entries) == 0 {
		requires := make(map[uuid.UUID]semver.Spec, len(c.Project.Deps))
		for name, id := range c.Project.Deps {
			specStr := c.Project.Compat[name]
			if specStr == "" {
				requires[id] = semver.NewSpec(semver.Range{Lo: semver.Zero, Hi: semver.Infinity})
				continue
			}
			spec, err := semver.ParseSpec(specStr)
			if err != nil {
				return "", errors.Wrapf(err, "parsing compat for %s", name)
			}
			requires[id] = spec
		}
		if err := e.resolveAndMerge(ctx, c, requires, nil); err != nil {
			return "", err
		}
	}
	if err := e.downloadNew(ctx, c); err != nil {
		return "", err
	}
	if err := c.Write(); err != nil {
		return "", err
	}
	return envcache.ShowUpdate(before, c.Manifest)
}
