package dispatch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// resolver resolves an executable name to an absolute, stat-verified
// path, caching lookups for the lifetime of one invocation. Adapted
// from the teacher's shell command resolver: the builtin-detection
// half doesn't apply here (sys never runs a shell builtin), but the
// search-path walking, symlink resolution, and per-invocation cache
// carry over directly.
type resolver struct {
	searchPaths []string
	denyPaths   []string
	cache       map[string]string
}

func newResolver(searchPaths, denyPaths []string) *resolver {
	return &resolver{searchPaths: searchPaths, denyPaths: denyPaths, cache: make(map[string]string)}
}

// resolve implements spec.md §4.9 step 6: an absolute name is used
// directly; a relative one is searched across searchPaths in order,
// skipping any directory a `!paths` glob denies, and resolved through
// any symlinks so authorization checks downstream see the real file.
func (r *resolver) resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		return r.verify(name)
	}
	if cached, ok := r.cache[name]; ok {
		if cached == "" {
			return "", fmt.Errorf("executable %q not found in allowed search paths", name)
		}
		return cached, nil
	}

	for _, dir := range r.searchPaths {
		candidate := filepath.Join(os.ExpandEnv(dir), name)
		if r.denied(candidate) {
			continue
		}
		if resolved, err := r.verify(candidate); err == nil {
			r.cache[name] = resolved
			return resolved, nil
		}
	}
	r.cache[name] = ""
	return "", fmt.Errorf("executable %q not found in allowed search paths", name)
}

func (r *resolver) verify(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
		return "", fmt.Errorf("%s is not a regular executable file", path)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	return path, nil
}

// denied checks path against the !paths glob set using the same
// doublestar matcher internal/authz uses for the identical concern, so
// a `!paths` entry authored with `**` semantics matches consistently
// whether it is tested here or in authz.CheckPaths.
func (r *resolver) denied(path string) bool {
	for _, g := range r.denyPaths {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}
