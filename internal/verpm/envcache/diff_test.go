package envcache

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestShowUpdateReportsAddedChangedRemoved(t *testing.T) {
	before := &Manifest{FormatVersion: manifestFormatVersion}
	before.Set(ManifestEntry{Name: "kept", UUID: uuid.New(), Version: "1.0.0"})
	before.Set(ManifestEntry{Name: "dropped", UUID: uuid.New(), Version: "1.0.0"})

	after := &Manifest{FormatVersion: manifestFormatVersion}
	after.Set(ManifestEntry{Name: "kept", UUID: uuid.New(), Version: "1.1.0"})
	after.Set(ManifestEntry{Name: "added", UUID: uuid.New(), Version: "1.0.0"})

	out, err := ShowUpdate(before, after)
	require.NoError(t, err)

	require.True(t, strings.Contains(out, "~ kept: 1.0.0 -> 1.1.0"))
	require.True(t, strings.Contains(out, "+ added: added at 1.0.0"))
	require.True(t, strings.Contains(out, "- dropped: removed (was 1.0.0)"))
}

func TestShowUpdateNoChange(t *testing.T) {
	m := &Manifest{FormatVersion: manifestFormatVersion}
	m.Set(ManifestEntry{Name: "a", UUID: uuid.New(), Version: "1.0.0"})

	out, err := ShowUpdate(m, m.Clone())
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))
}
