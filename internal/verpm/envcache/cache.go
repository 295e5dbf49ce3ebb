package envcache

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/depot"
)

// Cache is the in-memory view of one environment: the project file plus
// its resolved manifest, bound to the paths they were loaded from (§4.3).
type Cache struct {
	ProjectPath  string
	ManifestPath string
	Project      *Project
	Manifest     *Manifest
}

// defaultManifestName is used when the project doesn't override
// ManifestPath.
const defaultManifestName = "Manifest.toml"

// Read loads the project at projectPath and its associated manifest
// (§4.3's read(project_path)). A missing manifest is not an error — it
// means the environment has never been resolved.
func Read(projectPath string) (*Cache, error) {
	data, err := os.ReadFile(projectPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading project file")
	}
	proj, err := ParseProject(data)
	if err != nil {
		return nil, err
	}

	manifestPath := proj.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(filepath.Dir(projectPath), defaultManifestName)
	} else if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(filepath.Dir(projectPath), manifestPath)
	}

	c := &Cache{ProjectPath: projectPath, ManifestPath: manifestPath, Project: proj}

	mdata, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		c.Manifest = &Manifest{FormatVersion: manifestFormatVersion}
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest file")
	}
	man, err := ParseManifest(mdata)
	if err != nil {
		return nil, err
	}
	c.Manifest = man
	return c, nil
}

// Write atomically persists both files. The project is written first so
// that a reader who observes the new manifest always observes the
// matching project underneath it (§5's ordering guarantee).
func (c *Cache) Write() error {
	pdata, err := c.Project.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshaling project")
	}
	if err := atomicWrite(c.ProjectPath, pdata); err != nil {
		return err
	}
	mdata, err := c.Manifest.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshaling manifest")
	}
	return atomicWrite(c.ManifestPath, mdata)
}

// ManifestInfo implements §4.3's manifest_info(uuid).
func (c *Cache) ManifestInfo(id uuid.UUID) (ManifestEntry, bool) {
	return c.Manifest.ByUUID(id)
}

// IsInstantiated implements §4.3's is_instantiated(): every manifest entry
// with a concrete version (not a develop-mode path) must have its source
// materialized in d.
func (c *Cache) IsInstantiated(d *depot.Depot) bool {
	for _, e := range c.Manifest.Entries {
		if e.IsPath() {
			continue
		}
		if e.TreeHash == "" {
			continue
		}
		if !d.IsInstalled(e.Name, e.UUID, e.TreeHash) {
			return false
		}
	}
	return true
}
