package depot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/vcs"
	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
	"github.com/vermint-pm/vermint/internal/verpm/pmctx"
	"github.com/vermint-pm/vermint/internal/verpm/pmerr"
)

// Depot is a handle onto one writable depot root, offering content-addressed
// install paths and the download strategies of §4.7.
type Depot struct {
	ctx      *pmctx.Context
	packages string
	clones   string
}

// New returns a Depot bound to ctx's writable root.
func New(ctx *pmctx.Context) (*Depot, error) {
	packages, err := ctx.PackagesDir()
	if err != nil {
		return nil, err
	}
	clones, err := ctx.ClonesDir()
	if err != nil {
		return nil, err
	}
	return &Depot{ctx: ctx, packages: packages, clones: clones}, nil
}

// InstallPath returns the deterministic install directory for one resolved
// package version, under packages/<name>/<slug(uuid, tree_hash)>.
func (d *Depot) InstallPath(name string, id uuid.UUID, treeHash string) string {
	return filepath.Join(d.packages, name, Slug(id, treeHash))
}

// legacyInstallPath probes the older 4-char slug scheme for backward
// compatibility (§4.7).
func (d *Depot) legacyInstallPath(name string, treeHash string) string {
	return filepath.Join(d.packages, name, LegacySlug(treeHash))
}

// IsInstalled reports whether a package's source is already materialized on
// disk, checking both the current and legacy slug scheme.
func (d *Depot) IsInstalled(name string, id uuid.UUID, treeHash string) bool {
	if fi, err := os.Stat(d.InstallPath(name, id, treeHash)); err == nil && fi.IsDir() {
		return true
	}
	if fi, err := os.Stat(d.legacyInstallPath(name, treeHash)); err == nil && fi.IsDir() {
		return true
	}
	return false
}

// Source describes one candidate download location for a package version,
// tried in the order §4.7 specifies.
type Source struct {
	PkgServerURL string // strategy 1
	ArchiveURL   string // strategy 2 (derived per-registry archive endpoint)
	GitRemote    string // strategy 3
	GitRev       string
}

// Job is one unit of work for the bounded download queue.
type Job struct {
	Name     string
	UUID     uuid.UUID
	TreeHash string
	Sources  Source
}

// JobResult reports the outcome of one Job.
type JobResult struct {
	Job  Job
	Path string
	Err  error
}

// DownloadAll drains jobs through a bounded worker pool sized by
// ctx.Concurrency (default 8), falling back to a git clone for anything
// still missing once every worker has finished, per §4.7's "main task
// collects results and falls back to git clone" description.
func (d *Depot) DownloadAll(ctx context.Context, jobs []Job) ([]JobResult, error) {
	n := d.ctx.Concurrency
	if n <= 0 {
		n = 8
	}

	in := make(chan Job)
	out := make(chan JobResult, len(jobs))

	workerCount := n
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}
	if workerCount == 0 {
		return nil, nil
	}

	for i := 0; i < workerCount; i++ {
		go func() {
			for job := range in {
				path, err := d.downloadOne(ctx, job)
				out <- JobResult{Job: job, Path: path, Err: err}
			}
		}()
	}
	go func() {
		defer close(in)
		for _, j := range jobs {
			select {
			case in <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]JobResult, 0, len(jobs))
	for i := 0; i < len(jobs); i++ {
		select {
		case r := <-out:
			results = append(results, r)
		case <-ctx.Done():
			return results, pmerr.Cancelled{}
		}
	}

	for i, r := range results {
		if r.Err == nil {
			continue
		}
		path, err := d.gitFallback(ctx, r.Job)
		if err != nil {
			results[i].Err = &pmerr.DepotError{
				Package: r.Job.Name,
				Reason:  "every download strategy failed",
				Tried:   triedList(r.Job.Sources),
				Cause:   err,
			}
			continue
		}
		results[i] = JobResult{Job: r.Job, Path: path}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Job.Name < results[j].Job.Name })
	return results, nil
}

func triedList(s Source) []string {
	var out []string
	if s.PkgServerURL != "" {
		out = append(out, s.PkgServerURL)
	}
	if s.ArchiveURL != "" {
		out = append(out, s.ArchiveURL)
	}
	if s.GitRemote != "" {
		out = append(out, s.GitRemote)
	}
	return out
}

// downloadOne tries the pkg-server archive, then the per-registry archive
// URL; the git fallback is attempted separately by DownloadAll once every
// worker has finished, matching §4.7's ordering.
func (d *Depot) downloadOne(ctx context.Context, job Job) (string, error) {
	dest := d.InstallPath(job.Name, job.UUID, job.TreeHash)
	if d.IsInstalled(job.Name, job.UUID, job.TreeHash) {
		return dest, nil
	}
	if d.ctx.Offline {
		return "", errors.New("offline mode: no archive source available")
	}

	for _, url := range []string{job.Sources.PkgServerURL, job.Sources.ArchiveURL} {
		if url == "" {
			continue
		}
		if err := d.fetchArchive(ctx, url, dest); err != nil {
			continue
		}
		if err := d.verifyTreeHash(dest, job.TreeHash); err != nil {
			os.RemoveAll(dest)
			continue
		}
		return dest, nil
	}
	return "", errors.New("no archive source succeeded")
}

// fetchArchive downloads a gzipped tarball from url into a temporary path
// and extracts it to dest, renaming into place only once fully extracted
// (so a reader never observes a partially written install directory).
func (d *Depot) fetchArchive(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building archive request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetching archive")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("archive fetch: unexpected status %s", resp.Status)
	}

	tmp := dest + ".download"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return err
	}
	if err := extractTarGz(resp.Body, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

// gitFallback clones (or reuses a cached bare clone under clones/<uuid>)
// and checks out the requested revision, using github.com/Masterminds/vcs
// to shell out to the system git binary, per §4.7 strategy 3.
func (d *Depot) gitFallback(ctx context.Context, job Job) (string, error) {
	if job.Sources.GitRemote == "" {
		return "", errors.New("no git remote known for package")
	}
	dest := d.InstallPath(job.Name, job.UUID, job.TreeHash)
	clonePath := filepath.Join(d.clones, job.UUID.String())

	repo, err := vcs.NewGitRepo(job.Sources.GitRemote, clonePath)
	if err != nil {
		return "", errors.Wrap(err, "constructing git repo handle")
	}
	if !repo.CheckLocal() {
		if err := repo.Get(); err != nil {
			return "", errors.Wrapf(err, "cloning %s", job.Sources.GitRemote)
		}
	} else {
		if err := repo.Update(); err != nil {
			return "", errors.Wrapf(err, "updating cached clone of %s", job.Sources.GitRemote)
		}
	}

	rev := job.Sources.GitRev
	if rev == "" {
		rev = "HEAD"
	}
	if err := repo.UpdateVersion(rev); err != nil {
		return "", errors.Wrapf(err, "checking out %s", rev)
	}

	tmp := dest + ".checkout"
	os.RemoveAll(tmp)
	if err := copyTree(clonePath, tmp); err != nil {
		return "", err
	}
	if err := d.verifyTreeHash(tmp, job.TreeHash); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// copyTree copies a checked-out VCS tree into an install destination,
// skipping .git, the same way the teacher copies a cached clone into its
// version cache: github.com/termie/go-shutil's CopyTree, with Symlinks
// preserved and an Ignore hook dropping VCS metadata directories.
func copyTree(src, dst string) error {
	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
		Ignore: func(src string, contents []os.FileInfo) (ignore []string) {
			for _, fi := range contents {
				if !fi.IsDir() {
					continue
				}
				switch fi.Name() {
				case ".git", ".bzr", ".svn", ".hg":
					ignore = append(ignore, fi.Name())
				}
			}
			return
		},
	}
	return shutil.CopyTree(src, dst, cfg)
}

// verifyTreeHash recomputes dir's tree hash and compares it to expected,
// per §4.7's "every successful download must be verified" requirement.
func (d *Depot) verifyTreeHash(dir, expected string) error {
	got, err := TreeHash(dir)
	if err != nil {
		return err
	}
	if got != expected {
		return errors.Errorf("tree hash mismatch: got %s, want %s", got, expected)
	}
	return nil
}

// TreeHash computes a git-tree-like content hash of dir: a sha1 over the
// sorted, relative file paths and their contents. It walks with
// karrick/godirwalk rather than filepath.Walk for the same reason the
// teacher's own tree lister does — large dependency trees make the syscall
// savings measurable.
func TreeHash(dir string) (string, error) {
	var names []string
	sizes := make(map[string]int64)
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			names = append(names, rel)
			sizes[rel] = fi.Size()
			return nil
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "walking tree for hashing")
	}
	sort.Strings(names)

	h := sha1.New()
	for _, rel := range names {
		fmt.Fprintf(h, "%s %d\n", rel, sizes[rel])
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// pidfileStaleAge is how old an existing pidfile must be before a new
// acquirer treats it as abandoned, per §4.7.
const pidfileStaleAge = 10 * time.Second

// LockRegistries acquires the depot-wide registries/.pid lock, stealing a
// stale lock older than pidfileStaleAge. The returned release func must be
// called to drop the lock.
func (d *Depot) LockRegistries() (release func(), err error) {
	root, err := d.ctx.WritableDepot()
	if err != nil {
		return nil, err
	}
	regDir := filepath.Join(root, "registries")
	if err := os.MkdirAll(regDir, 0o755); err != nil {
		return nil, err
	}
	pidPath := filepath.Join(regDir, ".pid")

	deadline := time.Now().Add(pidfileStaleAge * 3)
	for {
		f, err := os.OpenFile(pidPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(pidPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "creating registries pidfile")
		}
		if fi, statErr := os.Stat(pidPath); statErr == nil && time.Since(fi.ModTime()) > pidfileStaleAge {
			os.Remove(pidPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, &pmerr.DepotError{Reason: "registries lock held past stale-age deadline"}
		}
		time.Sleep(100 * time.Millisecond)
	}
}
