//go:build linux

package authn

import "golang.org/x/sys/unix"

// unixTcgetpgrp reads the controlling terminal's foreground process
// group via TIOCGPGRP, used by isForeground to fail the password prompt
// closed when not run interactively in its own session (spec.md §4.7).
func unixTcgetpgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}
