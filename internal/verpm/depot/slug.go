// Package depot implements §4.7: content-addressed package installation
// into a shared depot directory (packages/, clones/, registries/), with a
// bounded-concurrency download queue and a pidfile-protected registry
// mutation path.
package depot

import (
	"crypto/sha256"
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// slugEncoding is unpadded base32, lowercased, matching the teacher's
// filesystem-safe naming for content-addressed paths.
var slugEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Slug derives the install-path component for (uuid, treeHash): a base-32
// truncation of sha256(uuid || treeHash), per §4.7.
func Slug(id uuid.UUID, treeHash string) string {
	h := sha256.Sum256(append(id[:], []byte(treeHash)...))
	return strings.ToLower(slugEncoding.EncodeToString(h[:]))[:16]
}

// LegacySlug reproduces an older 4-character slug scheme that must still be
// probed for backward compatibility with packages installed by earlier
// depot layouts (§4.7 "an older 4-char slug must also be probed").
func LegacySlug(treeHash string) string {
	h := sha256.Sum256([]byte(treeHash))
	return strings.ToLower(slugEncoding.EncodeToString(h[:]))[:4]
}
