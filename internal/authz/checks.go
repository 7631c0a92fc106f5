// Package authz implements the authorization checks (C6): users, groups,
// netgroups, paths, owners, dates, and plugins, per spec.md §4.6, plus
// the ordering spec.md §4.6 mandates: Invalid → Disabled → Paths →
// Users/Groups/Netgroups → Pattern match → Plugins → Password.
package authz

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"sysdispatch/internal/ruledb"
	"sysdispatch/internal/userinfo"
)

// Denial is a structured authorization failure: the failing check's
// name and a user-facing message that never leaks secret inputs, per
// spec.md §4.6/§7.
type Denial struct {
	Check   string
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Check, d.Message)
}

func deny(check, format string, args ...any) *Denial {
	return &Denial{Check: check, Message: fmt.Sprintf(format, args...)}
}

// acceptDenyPolicy applies spec.md §4.6's shared accept/deny rule: a
// single deny match forbids outright; otherwise an empty accept list
// accepts everything, else at least one accept entry must match.
func acceptDenyPolicy(accept, deny []string, matches func(pattern string) bool) bool {
	for _, d := range deny {
		if matches(d) {
			return false
		}
	}
	if len(accept) == 0 {
		return true
	}
	for _, a := range accept {
		if matches(a) {
			return true
		}
	}
	return false
}

func splitParamPair(r *ruledb.Rule, name string) (accept, denyList []string) {
	if p, ok := r.Param(name); ok {
		accept = p.Values
	}
	if p, ok := r.Param("!" + name); ok {
		denyList = p.Values
	}
	return
}

// userHostExpiry is one parsed `user@host/expiry` entry (§4.6).
type userHostExpiry struct {
	UserRegex *regexp.Regexp
	HostRegex *regexp.Regexp
	HasHost   bool
	Expiry    string
}

func parseUserHostExpiry(raw string) (*userHostExpiry, error) {
	entry := raw
	expiry := ""
	if idx := strings.IndexByte(entry, '/'); idx >= 0 {
		expiry = entry[idx+1:]
		entry = entry[:idx]
	}
	userPart := entry
	hostPart := ""
	hasHost := false
	if idx := strings.IndexByte(entry, '@'); idx >= 0 {
		userPart = entry[:idx]
		hostPart = entry[idx+1:]
		hasHost = true
	}
	uRe, err := regexp.Compile(anchor(userPart))
	if err != nil {
		return nil, fmt.Errorf("user regex %q: %w", userPart, err)
	}
	var hRe *regexp.Regexp
	if hasHost {
		hRe, err = regexp.Compile(anchor(hostPart))
		if err != nil {
			return nil, fmt.Errorf("host regex %q: %w", hostPart, err)
		}
	}
	return &userHostExpiry{UserRegex: uRe, HostRegex: hRe, HasHost: hasHost, Expiry: expiry}, nil
}

func anchor(expr string) string {
	if !strings.HasPrefix(expr, "^") {
		expr = "^" + expr
	}
	if !strings.HasSuffix(expr, "$") {
		expr = expr + "$"
	}
	return expr
}

// DateHasExpired compares a `YYYYMMDDhhmm`-prefixed expiry string
// (missing tail digits treated as 0, per spec.md §4.6) against now.
func DateHasExpired(expiry string, now time.Time) bool {
	if expiry == "" {
		return false
	}
	padded := expiry
	for len(padded) < 12 {
		padded += "0"
	}
	if len(padded) > 12 {
		padded = padded[:12]
	}
	t, err := time.ParseInLocation("200601021504", padded, now.Location())
	if err != nil {
		return false
	}
	return now.After(t)
}

// CheckUsers implements the `users`/`!users` check (§4.6).
func CheckUsers(r *ruledb.Rule, ud *userinfo.Record, now time.Time) error {
	accept, denyList := splitParamPair(r, "users")
	if len(accept) == 0 && len(denyList) == 0 {
		return nil
	}
	matches := func(raw string) bool {
		entry, err := parseUserHostExpiry(raw)
		if err != nil {
			return false
		}
		if !entry.UserRegex.MatchString(ud.Name) {
			return false
		}
		if entry.HasHost && !entry.HostRegex.MatchString(ud.Hostname) {
			return false
		}
		if DateHasExpired(entry.Expiry, now) {
			return false
		}
		return true
	}
	if !acceptDenyPolicy(accept, denyList, matches) {
		return deny("users", "user %s is not authorized for this tag", ud.Name)
	}
	return nil
}

// CheckGroups implements the `groups`/`!groups` check (§4.6), matched
// against every group the invoker belongs to.
func CheckGroups(r *ruledb.Rule, ud *userinfo.Record, now time.Time) error {
	accept, denyList := splitParamPair(r, "groups")
	if len(accept) == 0 && len(denyList) == 0 {
		return nil
	}
	matches := func(raw string) bool {
		entry, err := parseUserHostExpiry(raw)
		if err != nil {
			return false
		}
		if DateHasExpired(entry.Expiry, now) {
			return false
		}
		for _, g := range ud.Groups {
			if entry.UserRegex.MatchString(g) {
				if !entry.HasHost || entry.HostRegex.MatchString(ud.Hostname) {
					return true
				}
			}
		}
		return false
	}
	if !acceptDenyPolicy(accept, denyList, matches) {
		return deny("groups", "no group of %s is authorized for this tag", ud.Name)
	}
	return nil
}

// CheckNetgroups implements the `netgroups` check (§4.6) via the OS
// netgroup database.
func CheckNetgroups(r *ruledb.Rule, ud *userinfo.Record) error {
	accept, denyList := splitParamPair(r, "netgroups")
	if len(accept) == 0 && len(denyList) == 0 {
		return nil
	}
	matches := func(name string) bool {
		return userinfo.InNetgroup(name, ud.Hostname, ud.Name)
	}
	if !acceptDenyPolicy(accept, denyList, matches) {
		return deny("netgroups", "invoker is not a member of an authorized netgroup")
	}
	return nil
}

// HasUsersGroupsNetgroupsParam reports whether the rule restricts by
// any of users/groups/netgroups, mirroring the original's
// has_users_groups_netgroups_param. The cmd/sys password decision does
// not consult it: there the `password` parameter alone makes the prompt
// mandatory, whether or not users/groups/netgroups are present, and a
// rejection by those filters is final rather than falling back to a
// password prompt.
func HasUsersGroupsNetgroupsParam(r *ruledb.Rule) bool {
	for _, name := range []string{"users", "groups", "netgroups"} {
		if r.HasParam(name) || r.HasParam("!"+name) {
			return true
		}
	}
	return false
}

// CheckUsersGroupsNetgroups runs all three identity checks and reports
// overall authorization, short-circuiting on the first denial.
func CheckUsersGroupsNetgroups(r *ruledb.Rule, ud *userinfo.Record, now time.Time) error {
	if err := CheckUsers(r, ud, now); err != nil {
		return err
	}
	if err := CheckGroups(r, ud, now); err != nil {
		return err
	}
	if err := CheckNetgroups(r, ud); err != nil {
		return err
	}
	return nil
}

// CheckPaths implements the `paths`/`!paths` check (§4.6): each value is
// a glob compared against executablePath exactly as given. A bare name
// with no directory is matched unchanged against the globs; it is not
// resolved through them here (dispatch resolves it later, from the
// request's SearchPaths).
func CheckPaths(r *ruledb.Rule, executablePath string) (resolvedPath string, err error) {
	accept, denyList := splitParamPair(r, "paths")
	if len(accept) == 0 && len(denyList) == 0 {
		return executablePath, nil
	}
	for _, d := range denyList {
		if ok, _ := doublestar.Match(d, executablePath); ok {
			return "", deny("paths", "path constraints not respected")
		}
	}
	if len(accept) == 0 {
		return executablePath, nil
	}
	for _, a := range accept {
		if ok, _ := doublestar.Match(a, executablePath); ok {
			return executablePath, nil
		}
	}
	return "", deny("paths", "path constraints not respected")
}

// CheckOwners implements the `owners` check (§4.6): value is
// `user_regex-group_regex`, evaluated against the executable's stat
// result.
func CheckOwners(r *ruledb.Rule, resolvedPath string) error {
	p, ok := r.Param("owners")
	if !ok || len(p.Values) == 0 {
		return nil
	}
	info, err := os.Stat(resolvedPath)
	if err != nil {
		return deny("owners", "executable not accessible")
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return deny("owners", "owner check unsupported on this platform")
	}
	ownerUser, uerr := userinfo.ResolveUser(strconv.FormatUint(uint64(sys.Uid), 10))
	ownerGroup, gerr := userinfo.ResolveGroup(strconv.FormatUint(uint64(sys.Gid), 10))
	for _, spec := range p.Values {
		idx := strings.LastIndexByte(spec, '-')
		if idx < 0 {
			continue
		}
		userRe, err1 := regexp.Compile(anchor(spec[:idx]))
		groupRe, err2 := regexp.Compile(anchor(spec[idx+1:]))
		if err1 != nil || err2 != nil {
			continue
		}
		ownerName := strconv.FormatUint(uint64(sys.Uid), 10)
		if uerr == nil {
			ownerName = ownerUser.Username
		}
		groupName := strconv.FormatUint(uint64(sys.Gid), 10)
		if gerr == nil {
			groupName = ownerGroup.Name
		}
		if userRe.MatchString(ownerName) && groupRe.MatchString(groupName) {
			return nil
		}
	}
	return deny("owners", "executable owner/group not authorized")
}

// Ordered runs the C6 checks in the order spec.md §4.6 mandates, up to
// (but not including) pattern matching, plugins, and password, which are
// driven by the caller (pattern matching needs argv; plugins and
// password need extra context).
func Ordered(r *ruledb.Rule, ud *userinfo.Record, executablePath string, now time.Time) (resolvedPath string, err error) {
	if r.Invalid {
		return "", deny("invalid", "rule is marked invalid: %s", r.InvalidErr)
	}
	if reason, disabled := r.Disabled(); disabled {
		return "", deny("disabled", strings.Join(reason, " "))
	}
	resolvedPath, err = CheckPaths(r, executablePath)
	if err != nil {
		return "", err
	}
	if err := CheckUsersGroupsNetgroups(r, ud, now); err != nil {
		return "", err
	}
	if err := CheckOwners(r, resolvedPath); err != nil {
		return "", err
	}
	return resolvedPath, nil
}
