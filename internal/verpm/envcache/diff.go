package envcache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ShowUpdate renders the §4.3 "show_update" summary between two manifest
// snapshots: a one-line version change per entry, plus, whenever the two
// manifests' TOML serializations differ, a character-level diffmatchpatch
// rendering (DiffPrettyText) of the whole serialization, the way the
// teacher's lockfile-diff feedback reports an `ensure`/`update`.
func ShowUpdate(before, after *Manifest) (string, error) {
	var b strings.Builder

	byName := func(m *Manifest) map[string]ManifestEntry {
		out := make(map[string]ManifestEntry, len(m.Entries))
		for _, e := range m.Entries {
			out[e.Name] = e
		}
		return out
	}
	oldByName, newByName := byName(before), byName(after)

	names := make(map[string]bool, len(oldByName)+len(newByName))
	for n := range oldByName {
		names[n] = true
	}
	for n := range newByName {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		oldE, hadOld := oldByName[name]
		newE, hasNew := newByName[name]
		switch {
		case !hadOld:
			fmt.Fprintf(&b, "+ %s: added at %s\n", name, versionLabel(newE))
		case !hasNew:
			fmt.Fprintf(&b, "- %s: removed (was %s)\n", name, versionLabel(oldE))
		case oldE.Version != newE.Version || oldE.TreeHash != newE.TreeHash:
			fmt.Fprintf(&b, "~ %s: %s -> %s\n", name, versionLabel(oldE), versionLabel(newE))
		}
	}

	oldData, err := before.Marshal()
	if err != nil {
		return "", err
	}
	newData, err := after.Marshal()
	if err != nil {
		return "", err
	}
	if string(oldData) != string(newData) {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(string(oldData), string(newData), false)
		b.WriteString("\n")
		b.WriteString(dmp.DiffPrettyText(diffs))
	}

	return b.String(), nil
}

func versionLabel(e ManifestEntry) string {
	if e.IsPath() {
		return "develop:" + e.Path
	}
	if e.Version == "" {
		return "(unresolved)"
	}
	return e.Version
}
