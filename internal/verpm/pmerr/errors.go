// Package pmerr defines the typed error kinds of §7: ResolverError,
// RegistryError, ManifestError, DepotError, ProjectError. ResolverError,
// RegistryError, ManifestError and DepotError carry an optional Cause that
// they expose through Unwrap (for the standard errors.Is/errors.As);
// ProjectError carries none. None of them implements github.com/pkg/errors'
// Cause method, so errors.Cause stops at the typed value.
package pmerr

import "fmt"

// ResolverError reports unsatisfiable constraints. Log carries the
// resolve-log subtree (rendered text) for the primary conflicting package,
// per §7's "always surfaced... with the full log" policy.
type ResolverError struct {
	Package string
	Log     string
	Cause   error
}

func (e *ResolverError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("could not resolve %s:\n%s", e.Package, e.Log)
	}
	return fmt.Sprintf("could not resolve dependencies:\n%s", e.Log)
}

func (e *ResolverError) Unwrap() error { return e.Cause }

// RegistryError reports a missing registry, corrupt TOML, an overlapping
// compressed-range invariant violation, or an unknown UUID reference.
type RegistryError struct {
	Registry string
	Reason   string
	Cause    error
}

func (e *RegistryError) Error() string {
	if e.Registry != "" {
		return fmt.Sprintf("registry %s: %s", e.Registry, e.Reason)
	}
	return e.Reason
}

func (e *RegistryError) Unwrap() error { return e.Cause }

// ManifestError reports a manifest referencing a package absent from every
// registry, an unknown UUID in a deps sub-map, or a tree-hash mismatch at
// load time.
type ManifestError struct {
	Package string
	Reason  string
	Cause   error
}

func (e *ManifestError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("manifest entry %s: %s", e.Package, e.Reason)
	}
	return fmt.Sprintf("manifest: %s", e.Reason)
}

func (e *ManifestError) Unwrap() error { return e.Cause }

// DepotError reports a download that failed from every source, a tree-hash
// mismatch, or a stale/unacquirable pidfile.
type DepotError struct {
	Package string
	Reason  string
	Tried   []string
	Cause   error
}

func (e *DepotError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("depot: %s: %s", e.Package, e.Reason)
	}
	return fmt.Sprintf("depot: %s: %s (tried %v)", e.Package, e.Reason, e.Tried)
}

func (e *DepotError) Unwrap() error { return e.Cause }

// ProjectError reports a duplicate UUID in project deps, a targets entry
// naming an unknown dependency, or a compat entry naming an unknown
// dependency.
type ProjectError struct {
	Field  string
	Reason string
}

func (e *ProjectError) Error() string {
	return fmt.Sprintf("project.%s: %s", e.Field, e.Reason)
}

// Cancelled is returned by the resolver and by long-running depot
// operations when a caller-supplied cancellation token fires mid-operation,
// per the DESIGN NOTES "cooperative interrupt" guidance; callers map it to
// exit code 130.
type Cancelled struct{}

func (Cancelled) Error() string { return "operation cancelled" }
