package ruledb

import (
	"fmt"
	"os"
	"syscall"
)

// RequiredMode is the mode .dat and config files must carry.
const RequiredMode = 0600

// checkDataFileMode enforces spec.md §4.1/§6: a regular file, owned by
// uid 0 / gid 0, mode 0600. A policy violation is reported as
// ErrDataFileMode (checkable with errors.Is) so callers can skip the
// file with a warning rather than abort the directory scan.
func checkDataFileMode(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm() != RequiredMode {
		return fmt.Errorf("%s: %w", path, ErrDataFileMode)
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("stat %s: unsupported platform", path)
	}
	if sys.Uid != 0 || sys.Gid != 0 {
		return fmt.Errorf("%s: %w", path, ErrDataFileMode)
	}
	return nil
}
