package envcache

import (
	"bytes"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vermint-pm/vermint/internal/verpm/pmctx"
)

// historyLimit bounds the ring buffer so undo/redo history doesn't grow
// without bound across a long-lived environment.
const historyLimit = 50

// historySnapshot is one (project, manifest) pair captured before a
// mutating operation.
type historySnapshot struct {
	ProjectData  []byte
	ManifestData []byte
}

// history is the on-disk ring buffer for one project file's undo/redo
// stack, keyed by project file identity (§4.3).
type history struct {
	Snapshots []historySnapshot
	Cursor    int // index of the currently-applied snapshot; -1 means "current working state", not yet undone
}

func historyPath(ctx *pmctx.Context, projectPath string) (string, error) {
	root, err := ctx.WritableDepot()
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(abs))
	return filepath.Join(root, "history", hex.EncodeToString(sum[:])+".gob"), nil
}

func loadHistory(path string) (*history, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &history{Cursor: -1}, nil
	}
	if err != nil {
		return nil, err
	}
	var h history
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&h); err != nil {
		return nil, errors.Wrap(err, "decoding history")
	}
	return &h, nil
}

func saveHistory(path string, h *history) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return errors.Wrap(err, "encoding history")
	}
	return atomicWrite(path, buf.Bytes())
}

// RecordSnapshot appends the environment's current on-disk (project,
// manifest) pair to its history ring buffer before a mutating operation
// applies, and discards any redo entries beyond the current cursor (the
// standard undo/redo invalidation rule: a new edit after an undo replaces
// the abandoned future).
func RecordSnapshot(ctx *pmctx.Context, c *Cache) error {
	path, err := historyPath(ctx, c.ProjectPath)
	if err != nil {
		return err
	}
	h, err := loadHistory(path)
	if err != nil {
		return err
	}

	pdata, err := os.ReadFile(c.ProjectPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	mdata, err := os.ReadFile(c.ManifestPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if h.Cursor >= 0 && h.Cursor < len(h.Snapshots)-1 {
		h.Snapshots = h.Snapshots[:h.Cursor+1]
	}
	h.Snapshots = append(h.Snapshots, historySnapshot{ProjectData: pdata, ManifestData: mdata})
	if len(h.Snapshots) > historyLimit {
		h.Snapshots = h.Snapshots[len(h.Snapshots)-historyLimit:]
	}
	h.Cursor = len(h.Snapshots) - 1
	return saveHistory(path, h)
}

// Undo moves the history pointer back one step and rewrites both files to
// that snapshot.
func Undo(ctx *pmctx.Context, c *Cache) error {
	path, err := historyPath(ctx, c.ProjectPath)
	if err != nil {
		return err
	}
	h, err := loadHistory(path)
	if err != nil {
		return err
	}
	if h.Cursor <= 0 {
		return errors.New("nothing to undo")
	}
	h.Cursor--
	snap := h.Snapshots[h.Cursor]
	if err := atomicWrite(c.ProjectPath, snap.ProjectData); err != nil {
		return err
	}
	if err := atomicWrite(c.ManifestPath, snap.ManifestData); err != nil {
		return err
	}
	return saveHistory(path, h)
}

// Redo moves the history pointer forward one step and rewrites both files
// to that snapshot.
func Redo(ctx *pmctx.Context, c *Cache) error {
	path, err := historyPath(ctx, c.ProjectPath)
	if err != nil {
		return err
	}
	h, err := loadHistory(path)
	if err != nil {
		return err
	}
	if h.Cursor >= len(h.Snapshots)-1 {
		return errors.New("nothing to redo")
	}
	h.Cursor++
	snap := h.Snapshots[h.Cursor]
	if err := atomicWrite(c.ProjectPath, snap.ProjectData); err != nil {
		return err
	}
	if err := atomicWrite(c.ManifestPath, snap.ManifestData); err != nil {
		return err
	}
	return saveHistory(path, h)
}
