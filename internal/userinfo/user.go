// Package userinfo resolves the invoker's OS identity once per invocation
// and provides the user/group name resolution helpers the rest of the
// dispatcher needs (rule authorization, identity switch, environment).
package userinfo

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// Record is the invoker's identity, resolved once at startup and treated
// as read-only thereafter.
type Record struct {
	UID      int
	GID      int
	Name     string
	Shell    string
	Hostname string
	Groups   []string
}

// Current builds the Record for the calling process's real uid/gid.
func Current() (*Record, error) {
	u, err := user.LookupId(strconv.Itoa(os.Getuid()))
	if err != nil {
		return nil, fmt.Errorf("userinfo: lookup current user: %w", err)
	}
	return fromOSUser(u)
}

// fromOSUser turns a *user.User into a Record, resolving its group names
// and the host's shell entry (os/user does not expose the shell, so
// shellFor scans /etc/passwd for it; if the file or the entry is
// missing, Shell is left empty).
func fromOSUser(u *user.User) (*Record, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("userinfo: malformed uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("userinfo: malformed gid %q: %w", u.Gid, err)
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("userinfo: resolve groups for %s: %w", u.Username, err)
	}
	names := make([]string, 0, len(groupIDs))
	for _, gidStr := range groupIDs {
		if g, err := user.LookupGroupId(gidStr); err == nil {
			names = append(names, g.Name)
		}
	}
	host, _ := os.Hostname()
	return &Record{
		UID:      uid,
		GID:      gid,
		Name:     u.Username,
		Shell:    shellFor(u.Username),
		Hostname: host,
		Groups:   names,
	}, nil
}

// HasGroup reports whether name is among the record's groups.
func (r *Record) HasGroup(name string) bool {
	for _, g := range r.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// ResolveUser resolves a target identity given as a numeric uid or a login
// name, mirroring the original's str_to_user.
func ResolveUser(spec string) (*user.User, error) {
	if uid, err := strconv.Atoi(spec); err == nil {
		u, err := user.LookupId(strconv.Itoa(uid))
		if err != nil {
			return nil, fmt.Errorf("userinfo: no such uid %d: %w", uid, err)
		}
		return u, nil
	}
	u, err := user.Lookup(spec)
	if err != nil {
		return nil, fmt.Errorf("userinfo: no such user %q: %w", spec, err)
	}
	return u, nil
}

// ResolveGroup resolves a target group given as a numeric gid or a group
// name, mirroring the original's str_to_group.
func ResolveGroup(spec string) (*user.Group, error) {
	if gid, err := strconv.Atoi(spec); err == nil {
		g, err := user.LookupGroupId(strconv.Itoa(gid))
		if err != nil {
			return nil, fmt.Errorf("userinfo: no such gid %d: %w", gid, err)
		}
		return g, nil
	}
	g, err := user.LookupGroup(spec)
	if err != nil {
		return nil, fmt.Errorf("userinfo: no such group %q: %w", spec, err)
	}
	return g, nil
}

// shellFor best-effort resolves a login shell by scanning /etc/passwd;
// os/user does not expose the shell field. Failures return "".
func shellFor(username string) string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) == 7 && fields[0] == username {
			return fields[6]
		}
	}
	return ""
}
