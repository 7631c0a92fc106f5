//go:build linux

// Package dispatch implements the identity switch and exec sequence
// (C9): dropping privileges, invoking the target, and reporting status,
// per spec.md §4.9.
package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Request is everything C9 needs to drop privileges and exec the target.
type Request struct {
	TargetUser  *user.User
	TargetGroup *user.Group // nil unless -g was requested
	Umask       *int        // nil if the rule specifies none
	Argv        []string    // argv[0] is the resolved executable
	Env         []string
	SearchPaths []string // allowed path set for a relative executable
	DenyPaths   []string // !paths glob set, checked during resolution
	Daemonize   bool
	// OwnerCheck re-validates `owners` against the final resolved path,
	// since path resolution can change which file gets executed.
	OwnerCheck func(resolvedPath string) error
}

// Outcome reports what happened to the child: its exit code, or the
// terminating signal.
type Outcome struct {
	ExitCode     int
	Signaled     bool
	Signal       string
	InvocationID string
}

// Run performs the C9 sequence and waits for the child (unless
// Daemonize is set). In the calling process, before any child exists,
// it resolves the executable path and re-checks owners on it, then sets
// the umask around the start. The child is started through os/exec,
// which applies the target credentials from SysProcAttr.Credential
// (supplementary groups, then gid, then uid) before execve.
func Run(req *Request) (*Outcome, error) {
	invocationID := uuid.NewString()

	resolvedPath, err := newResolver(req.SearchPaths, req.DenyPaths).resolve(req.Argv[0])
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve executable: %w", err)
	}
	if req.OwnerCheck != nil {
		if err := req.OwnerCheck(resolvedPath); err != nil {
			return nil, err
		}
	}

	cmd := exec.Command(resolvedPath, req.Argv[1:]...)
	cmd.Env = req.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	uid, gid, groups, err := resolveCredentials(req.TargetUser, req.TargetGroup)
	if err != nil {
		return nil, err
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    uid,
			Gid:    gid, // setgid happens before setuid inside the kernel's setresuid/setresgid ordering
			Groups: groups,
		},
	}
	if req.Umask != nil {
		old := unix.Umask(*req.Umask)
		defer unix.Umask(old)
	}

	if req.Daemonize {
		return daemonizeAndRun(cmd, invocationID)
	}

	if err := cmd.Run(); err != nil {
		return outcomeFromError(err, invocationID)
	}
	return &Outcome{ExitCode: 0, InvocationID: invocationID}, nil
}

// resolveCredentials mirrors spec.md §4.9 steps 1-3: drop supplementary
// groups, resolve the target's passwd entry and initialize its
// supplementary groups, and (if a non-primary group was requested)
// verify membership before allowing it.
func resolveCredentials(targetUser *user.User, targetGroup *user.Group) (uid, gid uint32, groups []uint32, err error) {
	uid64, err := strconv.ParseUint(targetUser.Uid, 10, 32)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("dispatch: bad target uid %q", targetUser.Uid)
	}
	primaryGid64, err := strconv.ParseUint(targetUser.Gid, 10, 32)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("dispatch: bad target gid %q", targetUser.Gid)
	}
	gid = uint32(primaryGid64)

	if targetGroup != nil {
		requestedGid64, err := strconv.ParseUint(targetGroup.Gid, 10, 32)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("dispatch: bad requested gid %q", targetGroup.Gid)
		}
		if requestedGid64 != primaryGid64 {
			if !isMember(targetUser, targetGroup) {
				return 0, 0, nil, fmt.Errorf("dispatch: %s is not a member of group %s", targetUser.Username, targetGroup.Name)
			}
		}
		gid = uint32(requestedGid64)
	}

	groupIDs, err := targetUser.GroupIds()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("dispatch: resolve supplementary groups: %w", err)
	}
	for _, g := range groupIDs {
		n, err := strconv.ParseUint(g, 10, 32)
		if err == nil {
			groups = append(groups, uint32(n))
		}
	}

	return uint32(uid64), gid, groups, nil
}

func isMember(u *user.User, g *user.Group) bool {
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id == g.Gid {
			return true
		}
	}
	return false
}

// outcomeFromError classifies an *exec.ExitError into the Outcome the
// parent reports, per spec.md §4.9 step 10 / §5 "logs the child's exit
// status or terminating signal".
func outcomeFromError(err error, invocationID string) (*Outcome, error) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return nil, fmt.Errorf("dispatch: exec failed: %w", err)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return &Outcome{ExitCode: exitErr.ExitCode(), InvocationID: invocationID}, nil
	}
	if status.Signaled() {
		return &Outcome{Signaled: true, Signal: status.Signal().String(), InvocationID: invocationID}, nil
	}
	return &Outcome{ExitCode: status.ExitStatus(), InvocationID: invocationID}, nil
}

// daemonizeAndRun starts the target once (a single fork, no second
// one) in a new session (setsid), with its working directory "/" and
// stdin/stdout/stderr on /dev/null, and returns without waiting. Only
// those three descriptors are set up; no other descriptors are closed
// beyond what os/exec does by default.
func daemonizeAndRun(cmd *exec.Cmd, invocationID string) (*Outcome, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("dispatch: open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dispatch: start daemonized process: %w", err)
	}
	// The parent does not wait for a daemonized child (spec.md §5); it
	// reports the launch and returns immediately.
	return &Outcome{ExitCode: 0, InvocationID: invocationID}, nil
}
