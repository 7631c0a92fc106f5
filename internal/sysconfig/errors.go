package sysconfig

import "errors"

// Sentinel errors for sys.cfg loading and validation.
// Use errors.Is() to check for these.
var (
	// ErrDirNotFound indicates a configured directory does not exist
	// when it is validated, per spec.md §6. A Logs directory that cannot
	// be created is reported with the underlying mkdir error instead.
	ErrDirNotFound = errors.New("configured directory does not exist")

	// ErrDirMode indicates a configured directory exists but is not
	// mode 0700 owned root:root, per spec.md §6. This is a Fatal
	// condition (spec.md §7): the dispatcher refuses to start.
	ErrDirMode = errors.New("configured directory has wrong owner or mode")
)
