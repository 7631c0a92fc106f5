package dispatch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestResolveAbsoluteNameVerifiesDirectly(t *testing.T) {
	dir := t.TempDir()
	path := writeExecutable(t, dir, "tool")

	r := newResolver(nil, nil)
	got, err := r.resolve(path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != path {
		t.Errorf("resolve = %q, want %q", got, path)
	}
}

func TestResolveAbsoluteRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("hi"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := newResolver(nil, nil)
	if _, err := r.resolve(path); err == nil {
		t.Error("expected a non-executable file to be rejected")
	}
}

func TestResolveRelativeSearchesPathsInOrder(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	want := writeExecutable(t, dir2, "tool")

	r := newResolver([]string{dir1, dir2}, nil)
	got, err := r.resolve("tool")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("resolve = %q, want %q", got, want)
	}
}

func TestResolveRelativeNotFoundErrors(t *testing.T) {
	r := newResolver([]string{t.TempDir()}, nil)
	if _, err := r.resolve("nosuchtool"); err == nil {
		t.Error("expected an error for a name not found in any search path")
	}
}

func TestResolveRelativeSkipsDeniedDirectory(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeExecutable(t, dir1, "tool")
	want := writeExecutable(t, dir2, "tool")

	r := newResolver([]string{dir1, dir2}, []string{filepath.Join(dir1, "tool")})
	got, err := r.resolve("tool")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("resolve = %q, want the second directory's copy %q (first is denied)", got, want)
	}
}

func TestResolveRelativeCachesLookup(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "tool")

	r := newResolver([]string{dir}, nil)
	first, err := r.resolve("tool")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := r.cache["tool"]; !ok {
		t.Fatal("expected the lookup to be cached")
	}
	second, err := r.resolve("tool")
	if err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	if first != second {
		t.Errorf("cached resolve = %q, want %q", second, first)
	}
}

func TestResolveRelativeCachesNegativeLookup(t *testing.T) {
	r := newResolver([]string{t.TempDir()}, nil)
	if _, err := r.resolve("ghost"); err == nil {
		t.Fatal("expected the first lookup to fail")
	}
	cached, ok := r.cache["ghost"]
	if !ok || cached != "" {
		t.Errorf("cache[\"ghost\"] = %q, %v; want empty string cached as a negative result", cached, ok)
	}
	if _, err := r.resolve("ghost"); err == nil {
		t.Error("expected the cached negative lookup to still fail")
	}
}

func TestResolveFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := writeExecutable(t, dir, "realtool")
	link := filepath.Join(dir, "tool")
	if err := os.Symlink(real, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	r := newResolver(nil, nil)
	got, err := r.resolve(link)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != real {
		t.Errorf("resolve = %q, want the symlink target %q", got, real)
	}
}

func TestDeniedMatchesGlob(t *testing.T) {
	r := newResolver(nil, []string{"/usr/bin/*"})
	if !r.denied("/usr/bin/rm") {
		t.Error("expected /usr/bin/rm to match the deny glob")
	}
	if r.denied("/opt/bin/rm") {
		t.Error("expected /opt/bin/rm to not match the deny glob")
	}
}

func TestDeniedMatchesDoublestarGlob(t *testing.T) {
	r := newResolver(nil, []string{"/usr/local/**"})
	if !r.denied("/usr/local/bin/sub/tool") {
		t.Error("expected /usr/local/bin/sub/tool to match the ** deny glob across multiple directory levels")
	}
	if r.denied("/usr/bin/tool") {
		t.Error("expected /usr/bin/tool to not match a /usr/local/** deny glob")
	}
}
