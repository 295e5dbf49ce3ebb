// Package resolvelog implements §4.8: a structured, per-package event
// journal used to explain why resolution succeeded or failed. Entries form
// a DAG (an entry may reference others it was caused by); per DESIGN NOTES
// §9 this is resolved by giving each entry a stable index in a flat slice
// and storing references as indices, with a visited set guarding recursive
// rendering against cycles.
package resolvelog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Global is the sentinel "package" used for entries that aren't about any
// single package (e.g. the initial graph-build summary).
var Global = uuid.Nil

// Entry is one journal record.
type Entry struct {
	idx     int
	Package uuid.UUID
	Message string
	Caused  []int // indices of entries this one was caused by
}

// Log is an append-only journal of Entries, indexed by insertion order.
type Log struct {
	entries []*Entry
	names   map[uuid.UUID]string
}

// New returns an empty Log. names maps package UUIDs to display names for
// rendering; it may be nil, in which case raw UUIDs are shown.
func New(names map[uuid.UUID]string) *Log {
	return &Log{names: names}
}

// Add appends a new entry and returns its stable index, for use as a
// Caused reference from later entries.
func (l *Log) Add(pkg uuid.UUID, format string, args ...interface{}) int {
	e := &Entry{
		idx:     len(l.entries),
		Package: pkg,
		Message: fmt.Sprintf(format, args...),
	}
	l.entries = append(l.entries, e)
	return e.idx
}

// AddCaused appends a new entry caused by the given prior indices.
func (l *Log) AddCaused(pkg uuid.UUID, caused []int, format string, args ...interface{}) int {
	idx := l.Add(pkg, format, args...)
	l.entries[idx].Caused = caused
	return idx
}

func (l *Log) name(id uuid.UUID) string {
	if id == Global {
		return "(global)"
	}
	if l.names != nil {
		if n, ok := l.names[id]; ok {
			return n
		}
	}
	return id.String()
}

// Plain renders every package's entries, alphabetically by display name,
// with no recursive expansion of Caused references.
func (l *Log) Plain() string {
	byPkg := l.groupByPackage()
	names := sortedNames(byPkg)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s:\n", name)
		for _, idx := range byPkg[name] {
			fmt.Fprintf(&b, "  %s\n", l.entries[idx].Message)
		}
	}
	return b.String()
}

// Tree renders every package's entries, alphabetically, with each entry's
// Caused references recursively expanded beneath it. Cycles are broken via
// a visited set, per DESIGN NOTES §9.
func (l *Log) Tree() string {
	byPkg := l.groupByPackage()
	names := sortedNames(byPkg)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s:\n", name)
		for _, idx := range byPkg[name] {
			visited := make(map[int]bool)
			l.renderTree(&b, idx, 1, visited)
		}
	}
	return b.String()
}

func (l *Log) renderTree(b *strings.Builder, idx int, depth int, visited map[int]bool) {
	indent := strings.Repeat("  ", depth)
	if visited[idx] {
		fmt.Fprintf(b, "%s%s (see above)\n", indent, l.entries[idx].Message)
		return
	}
	visited[idx] = true
	fmt.Fprintf(b, "%s%s\n", indent, l.entries[idx].Message)
	for _, causeIdx := range l.entries[idx].Caused {
		l.renderTree(b, causeIdx, depth+1, visited)
	}
}

// Chronological renders every entry, flat, in journal (insertion) order.
func (l *Log) Chronological() string {
	var b strings.Builder
	for _, e := range l.entries {
		fmt.Fprintf(&b, "[%s] %s\n", l.name(e.Package), e.Message)
	}
	return b.String()
}

// Subtree renders the Tree view restricted to the entries belonging to a
// single package, used to attach a focused log excerpt to a ResolverError.
func (l *Log) Subtree(pkg uuid.UUID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", l.name(pkg))
	for idx, e := range l.entries {
		if e.Package != pkg {
			continue
		}
		visited := make(map[int]bool)
		l.renderTree(&b, idx, 1, visited)
	}
	return b.String()
}

func (l *Log) groupByPackage() map[string][]int {
	out := make(map[string][]int)
	for idx, e := range l.entries {
		name := l.name(e.Package)
		out[name] = append(out[name], idx)
	}
	return out
}

func sortedNames(byPkg map[string][]int) []string {
	names := make([]string, 0, len(byPkg))
	for n := range byPkg {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
