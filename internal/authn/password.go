// Package authn implements the password prompt (C7): a secure tty
// prompt plus local or PAM verification, per spec.md §4.7.
package authn

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
)

const maxPasswordBytes = 128

// Verifier checks a plaintext password for an account, returning true
// on success. The two back-ends (local shadow file, PAM) are chosen at
// build time, per spec.md §4.7.
type Verifier interface {
	Verify(username string, password []byte) (bool, error)
}

// Prompter owns the process-local success cache (§4.7) that elides
// re-prompts for an account already checked successfully within the
// same invocation.
type Prompter struct {
	verifier Verifier
	mu       sync.Mutex
	success  map[string]bool
}

// NewPrompter returns a Prompter backed by v.
func NewPrompter(v Verifier) *Prompter {
	return &Prompter{verifier: v, success: make(map[string]bool)}
}

// Authenticate prompts for a password for username (skipping the prompt
// if username already succeeded earlier in this invocation) and verifies
// it. It fails closed whenever the process is not in the controlling
// terminal's foreground process group, per spec.md §4.7.
func (p *Prompter) Authenticate(username string) (bool, error) {
	p.mu.Lock()
	if p.success[username] {
		p.mu.Unlock()
		return true, nil
	}
	p.mu.Unlock()

	if !isForeground() {
		return false, fmt.Errorf("authn: not in controlling terminal's foreground process group")
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return false, err
	}
	defer zero(password)

	ok, err := p.verifier.Verify(username, password)
	if err != nil {
		return false, err
	}
	if ok {
		p.mu.Lock()
		p.success[username] = true
		p.mu.Unlock()
	}
	return ok, nil
}

// readPassword opens /dev/tty directly (never stdin), disables echo for
// the duration of the read via a scoped termios change that is always
// restored, installs a SIGINT/SIGTSTP handler that cancels the read and
// clears the buffer, and reads at most maxPasswordBytes until
// newline/EOF/signal.
func readPassword(prompt string) (password []byte, err error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("authn: open /dev/tty: %w", err)
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if _, err := tty.WriteString(prompt); err != nil {
		return nil, fmt.Errorf("authn: write prompt: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTSTP)
	defer signal.Stop(sigCh)

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("authn: set raw terminal mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 0, maxPasswordBytes)
		one := make([]byte, 1)
		for len(buf) < maxPasswordBytes {
			n, rerr := tty.Read(one)
			if n == 1 {
				if one[0] == '\n' || one[0] == '\r' {
					break
				}
				buf = append(buf, one[0])
			}
			if rerr != nil {
				break
			}
		}
		done <- result{buf: buf}
	}()

	select {
	case r := <-done:
		tty.WriteString("\n")
		return r.buf, r.err
	case <-sigCh:
		tty.WriteString("\n")
		return nil, fmt.Errorf("authn: password entry cancelled")
	}
}

// zero overwrites a password buffer immediately after use, per spec.md
// §4.7.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// isForeground reports whether the calling process is in the
// controlling terminal's foreground process group.
func isForeground() bool {
	tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer tty.Close()
	pgrp, err := unixTcgetpgrp(int(tty.Fd()))
	if err != nil {
		return false
	}
	return pgrp == os.Getpgrp()
}
