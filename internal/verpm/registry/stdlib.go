package registry

// StdlibEntry records that a dependency UUID ships bundled with a range of
// runtime versions, at a fixed version of its own, instead of being
// resolved as an ordinary registry package for those runtimes (§4.4 step 3,
// §8 "stdlib on one runtime version, normal package on another").
type StdlibEntry struct {
	// Runtimes is the range of runtime versions for which the dependency is
	// bundled rather than separately resolved.
	Runtimes VersionRange
	// Version is the bundled dependency's own version for that runtime
	// range, checked against the edge's compat spec.
	Version Version
}

// stdlibTable holds registered stdlib classifications, keyed by dependency
// UUID. Empty until a caller seeds it with RegisterStdlib — a deployment
// does this once, from whatever runtime manifest lists its bundled
// packages, before building a graph or resolving.
var stdlibTable = map[ID][]StdlibEntry{}

// RegisterStdlib records that id ships bundled with the runtime for every
// version in runtimes, at the given bundled version.
func RegisterStdlib(id ID, runtimes VersionRange, version Version) {
	stdlibTable[id] = append(stdlibTable[id], StdlibEntry{Runtimes: runtimes, Version: version})
}

// ResetStdlib clears every registered classification. Exposed for tests
// that need a clean table between cases.
func ResetStdlib() {
	stdlibTable = map[ID][]StdlibEntry{}
}

// IsStdlib reports whether id is classified as a stdlib dependency for
// runtimeVersion, and if so, the version it ships at. Classification is
// always evaluated against the resolver's *target* runtime version, never
// the ambient one running the resolver: the same UUID can be a stdlib on
// one runtime version and a normal registry package on another (§8).
func IsStdlib(id ID, runtimeVersion Version) (Version, bool) {
	for _, e := range stdlibTable[id] {
		if e.Runtimes.Contains(runtimeVersion) {
			return e.Version, true
		}
	}
	return Version{}, false
}
