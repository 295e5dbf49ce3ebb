// Package pmctx collects the ambient configuration threaded through every
// environment operation: depot location, network behavior, and the default
// preservation tier. It replaces the package-level globals (GOPATH, Verbose)
// that the teacher tool relied on with an explicit value every call site
// receives as an argument.
package pmctx

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Environment variable names recognized by Context.FromEnv.
const (
	EnvDepotPath     = "VERMINT_DEPOT_PATH"
	EnvPkgServer     = "VERMINT_PKG_SERVER"
	EnvRegistryFlavor = "VERMINT_REGISTRY_FLAVOR"
	EnvConcurrency   = "VERMINT_NUM_CONCURRENT_DOWNLOADS"
	EnvOffline       = "VERMINT_OFFLINE"
	EnvDefaultTier   = "VERMINT_DEFAULT_PRESERVATION"
	EnvUnpackReg     = "VERMINT_REGISTRY_UNPACK"
	EnvExternalGit   = "VERMINT_USE_EXTERNAL_GIT"
)

const defaultConcurrency = 8

// Context is the ambient configuration passed into every operation in
// package ops. A zero Context is not usable; construct one with FromEnv or
// Default.
type Context struct {
	// DepotStack lists one or more depot roots, first-writable. Most setups
	// have exactly one.
	DepotStack []string

	// PkgServerURL, if set, is tried first for content-addressed downloads.
	PkgServerURL string

	// RegistryFlavor records the registry flavor named by the environment
	// (git, tarball-only, etc). No package in this module reads it.
	RegistryFlavor string

	// Concurrency bounds the number of simultaneous package downloads.
	Concurrency int

	// Offline disables all network access; only already-downloaded sources
	// may be used to satisfy an instantiate.
	Offline bool

	// DefaultPreservationTier records the tier name from the environment.
	// The operations in package ops always take an explicit tier and do not
	// read it.
	DefaultPreservationTier string

	// UnpackRegistries records whether packed registries are to be unpacked
	// onto disk. Package registry does not read it: packed registries are
	// always read into memory.
	UnpackRegistries bool

	// UseExternalGit records the external-git setting. The depot's git
	// fallback always shells out to the system git binary, whatever its
	// value.
	UseExternalGit bool

	Log *logrus.Logger
}

// Default returns a Context with conservative defaults and no depot
// configured; callers typically follow with FromEnv or set DepotStack
// directly.
func Default() *Context {
	return &Context{
		Concurrency:             defaultConcurrency,
		DefaultPreservationTier: "TIERED",
		UseExternalGit:          true,
		Log:                     logrus.StandardLogger(),
	}
}

// FromEnv builds a Context by reading the environment variables listed
// above, falling back to Default for anything unset.
func FromEnv() (*Context, error) {
	c := Default()

	if v := os.Getenv(EnvDepotPath); v != "" {
		for _, p := range filepath.SplitList(v) {
			c.DepotStack = append(c.DepotStack, p)
		}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolving default depot path")
		}
		c.DepotStack = []string{filepath.Join(home, ".vermint")}
	}

	c.PkgServerURL = os.Getenv(EnvPkgServer)
	c.RegistryFlavor = os.Getenv(EnvRegistryFlavor)

	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", EnvConcurrency)
		}
		c.Concurrency = n
	}

	if v := os.Getenv(EnvOffline); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", EnvOffline)
		}
		c.Offline = b
	}

	if v := os.Getenv(EnvDefaultTier); v != "" {
		c.DefaultPreservationTier = v
	}

	if v := os.Getenv(EnvUnpackReg); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", EnvUnpackReg)
		}
		c.UnpackRegistries = b
	}

	if v := os.Getenv(EnvExternalGit); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", EnvExternalGit)
		}
		c.UseExternalGit = b
	}

	return c, nil
}

// WritableDepot returns the first, writable depot in the stack.
func (c *Context) WritableDepot() (string, error) {
	if len(c.DepotStack) == 0 {
		return "", errors.New("no depot configured")
	}
	return c.DepotStack[0], nil
}

// RegistriesDirs returns the registries/ subtree of every depot in the
// stack, in search order.
func (c *Context) RegistriesDirs() []string {
	dirs := make([]string, len(c.DepotStack))
	for i, d := range c.DepotStack {
		dirs[i] = filepath.Join(d, "registries")
	}
	return dirs
}

// PackagesDir returns the packages/ subtree of the writable depot.
func (c *Context) PackagesDir() (string, error) {
	d, err := c.WritableDepot()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "packages"), nil
}

// ClonesDir returns the clones/ subtree of the writable depot.
func (c *Context) ClonesDir() (string, error) {
	d, err := c.WritableDepot()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "clones"), nil
}
