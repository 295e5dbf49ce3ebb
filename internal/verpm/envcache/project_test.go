package envcache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestProjectMarshalParseRoundTrip(t *testing.T) {
	depID := uuid.New()
	p := &Project{
		Name:    "widget",
		UUID:    uuid.New(),
		Version: "0.1.0",
		Deps:    map[string]uuid.UUID{"gadget": depID},
		Compat:  map[string]string{"gadget": "^1.0.0"},
		Targets: map[string][]string{"test": {"gadget"}},
	}

	data, err := p.Marshal()
	require.NoError(t, err)

	got, err := ParseProject(data)
	require.NoError(t, err)

	require.Equal(t, p.Name, got.Name)
	require.Equal(t, p.UUID, got.UUID)
	require.Equal(t, p.Version, got.Version)
	require.Equal(t, p.Deps, got.Deps)
	require.Equal(t, p.Compat, got.Compat)
	require.Equal(t, p.Targets, got.Targets)
}

func TestValidateProjectRejectsDuplicateUUID(t *testing.T) {
	depID := uuid.New()
	p := &Project{
		Name: "widget",
		Deps: map[string]uuid.UUID{"a": depID, "b": depID},
	}
	err := validateProject(p)
	require.Error(t, err)
}

func TestValidateProjectRejectsUnknownCompatTarget(t *testing.T) {
	p := &Project{
		Name:   "widget",
		Deps:   map[string]uuid.UUID{},
		Compat: map[string]string{"ghost": "^1.0.0"},
	}
	err := validateProject(p)
	require.Error(t, err)
}

func TestValidateProjectAcceptsTargetsNamingExtrasAndWeakDeps(t *testing.T) {
	testID := uuid.New()
	randomID := uuid.New()
	p := &Project{
		Name:     "widget",
		Deps:     map[string]uuid.UUID{},
		WeakDeps: map[string]uuid.UUID{"Random": randomID},
		Extras:   map[string]uuid.UUID{"Test": testID},
		Compat:   map[string]string{"Test": "^1.0.0"},
		Targets:  map[string][]string{"test": {"Test", "Random"}},
	}
	require.NoError(t, validateProject(p))
}
