// Command sys is the privileged command dispatcher described in
// spec.md: given a tag and arguments, it authorizes, validates, and
// execs a policy-selected target under a different identity.
package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"sysdispatch/internal/auditlog"
	"sysdispatch/internal/authn"
	"sysdispatch/internal/authz"
	"sysdispatch/internal/dispatch"
	"sysdispatch/internal/pattern"
	"sysdispatch/internal/ruledb"
	"sysdispatch/internal/rulecache"
	"sysdispatch/internal/sysconfig"
	"sysdispatch/internal/sysenv"
	"sysdispatch/internal/userinfo"
)

const version = "1.0.0"

// Exit codes, per spec.md §6.
const (
	exitOK    = 0
	exitError = 1
)

const defaultConfigPath = "/etc/sys.cfg"

type cliFlags struct {
	list     bool
	daemon   bool
	verbose  bool
	version  bool
	insecure bool
	help     bool
	user     string
	group    string
	config   string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("sys", pflag.ContinueOnError)
	var f cliFlags
	flags.BoolVarP(&f.list, "list", "l", false, "list tags the invoker may use")
	flags.BoolVarP(&f.daemon, "daemon", "d", false, "daemonize after authorization")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "verbose diagnostics")
	flags.BoolVarP(&f.version, "version", "V", false, "print version and exit")
	flags.BoolVarP(&f.insecure, "insecure", "i", false, "skip interactive password prompt fallback")
	flags.BoolVarP(&f.help, "help", "h", false, "show usage")
	flags.StringVarP(&f.user, "user", "u", "", "request a specific target user")
	flags.StringVarP(&f.group, "group", "g", "", "request a specific target group")
	flags.StringVar(&f.config, "config", defaultConfigPath, "path to sys.cfg")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	if f.help {
		fmt.Fprintln(os.Stderr, "usage: sys [-l] [-d] [-v] [-V] [-i] [-h] [-u user] [-g group] TAG [tag-args...]")
		return exitOK
	}
	if f.version {
		fmt.Println(version)
		return exitOK
	}

	cfg, err := sysconfig.Load(f.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sys:", err)
		return exitError
	}

	logger, err := auditlog.Open(cfg.Directories.Logs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sys:", err)
		return exitError
	}
	defer logger.Close()

	remaining := flags.Args()
	if f.list {
		return doList(cfg, logger)
	}
	if len(remaining) == 0 {
		fmt.Fprintln(os.Stderr, "sys: missing TAG")
		return exitError
	}
	tag, tagArgs := remaining[0], remaining[1:]

	ud, err := userinfo.Current()
	if err != nil {
		logger.Errorf("resolve invoker identity: %v", err)
		fmt.Fprintln(os.Stderr, "sys: internal error")
		return exitError
	}

	rule, ok := lookupTagFast(cfg, tag)
	if !ok {
		store, err := loadStore(cfg, logger)
		if err != nil {
			logger.Errorf("load rule store: %v", err)
			fmt.Fprintln(os.Stderr, "sys: internal error")
			return exitError
		}
		rule, ok = store.Lookup(tag)
		if !ok {
			logger.Warnf("%s requested by %s: %v", tag, ud.Name, ruledb.ErrUnknownTag)
			fmt.Fprintf(os.Stderr, "sys: %v: %q\n", ruledb.ErrUnknownTag, tag)
			return exitError
		}
	}

	resolvedPath, err := authz.Ordered(rule, ud, rule.Executable, time.Now())
	if err != nil {
		logger.Warnf("authorization denied for %s (tag %q): %v", ud.Name, tag, err)
		fmt.Fprintln(os.Stderr, "sys:", friendlyDenial(err))
		return exitError
	}

	patterns, err := pattern.Compile(rule)
	if err != nil {
		logger.Dataf("rule %q: %v", tag, err)
		fmt.Fprintln(os.Stderr, "sys: contact your sys admin (invalid command specification)")
		return exitError
	}
	argvResult := pattern.Match(patterns, tagArgs)
	if !argvResult.OK {
		fmt.Fprintln(os.Stderr, "sys:", argvResult.Diag)
		return exitError
	}

	if err := authz.CheckPlugins(rule, cfg.Directories.Plugins); err != nil {
		logger.Warnf("plugin denial for %s (tag %q): %v", ud.Name, tag, err)
		fmt.Fprintln(os.Stderr, "sys:", friendlyDenial(err))
		return exitError
	}

	if needsPassword(rule) && !f.insecure {
		if err := authenticate(rule, ud); err != nil {
			logger.Warnf("password authentication failed for %s (tag %q): %v", ud.Name, tag, err)
			fmt.Fprintln(os.Stderr, "sys: authentication failed")
			return exitError
		}
	}

	env, err := sysenv.Build(rule, os.Environ())
	if err != nil {
		logger.Errorf("environment build failed for tag %q: %v", tag, err)
		fmt.Fprintln(os.Stderr, "sys: internal error")
		return exitError
	}

	targetUser, targetGroup, err := resolveTargetIdentity(rule, ud, f.user, f.group)
	if err != nil {
		logger.Warnf("identity selection denied for %s (tag %q): %v", ud.Name, tag, err)
		fmt.Fprintln(os.Stderr, "sys:", friendlyDenial(err))
		return exitError
	}

	req := &dispatch.Request{
		TargetUser:  targetUser,
		TargetGroup: targetGroup,
		Argv:        append([]string{resolvedPath}, argvResult.Argv...),
		Env:         env,
		SearchPaths: append(append([]string{}, paramValues(rule, "paths")...), cfg.Misc.DefaultPaths...),
		DenyPaths:   paramValues(rule, "!paths"),
		Daemonize:   f.daemon,
		OwnerCheck:  func(p string) error { return authz.CheckOwners(rule, p) },
	}

	outcome, err := dispatch.Run(req)
	if err != nil {
		logger.Errorf("exec failed for tag %q: %v", tag, err)
		fmt.Fprintln(os.Stderr, "sys:", err)
		return exitError
	}
	if outcome.Signaled {
		logger.Warnf("tag %q terminated by signal %s (invocation %s)", tag, outcome.Signal, outcome.InvocationID)
		fmt.Fprintf(os.Stderr, "sys: terminated by signal %s\n", outcome.Signal)
		return exitError
	}
	logger.Infof("tag %q invoked by %s exited %d (invocation %s)", tag, ud.Name, outcome.ExitCode, outcome.InvocationID)
	return outcome.ExitCode
}

func paramValues(r *ruledb.Rule, name string) []string {
	if p, ok := r.Param(name); ok {
		return p.Values
	}
	return nil
}

func needsPassword(r *ruledb.Rule) bool {
	return r.HasParam("password")
}

// authenticate satisfies a rule's `password` parameter: its values name
// the accounts whose password is acceptable (an empty list falls back
// to the invoker's own account), and any one of them succeeding is
// sufficient, per spec.md §4.7.
func authenticate(r *ruledb.Rule, ud *userinfo.Record) error {
	candidates := paramValues(r, "password")
	if len(candidates) == 0 {
		candidates = []string{ud.Name}
	}
	prompter := authn.NewPrompter(authn.NewLocalVerifier())
	for _, candidate := range candidates {
		ok, err := prompter.Authenticate(candidate)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("no candidate account authenticated")
}

func resolveTargetIdentity(r *ruledb.Rule, ud *userinfo.Record, requestedUser, requestedGroup string) (*user.User, *user.Group, error) {
	userSpec := requestedUser
	if userSpec == "" {
		userSpec = ud.Name
	}
	targetUser, err := userinfo.ResolveUser(userSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve target user: %w", err)
	}
	// -u/-g targets must be within the rule's allowed users/groups set;
	// a rule with no `users` (resp. `groups`) parameter grants no -u
	// (resp. -g) request, so root is never implicitly requestable, per
	// the decision recorded in SPEC_FULL.md §9.
	if requestedUser != "" {
		if !r.HasParam("users") {
			return nil, nil, &authz.Denial{Check: "users", Message: "this rule allows no -u target user"}
		}
		if err := authz.CheckUsers(r, &userinfo.Record{Name: targetUser.Username, Hostname: ud.Hostname}, time.Now()); err != nil {
			return nil, nil, err
		}
	}

	var targetGroup *user.Group
	if requestedGroup != "" {
		targetGroup, err = userinfo.ResolveGroup(requestedGroup)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve target group: %w", err)
		}
		if !r.HasParam("groups") {
			return nil, nil, &authz.Denial{Check: "groups", Message: "this rule allows no -g target group"}
		}
		groupRec := &userinfo.Record{Name: targetUser.Username, Hostname: ud.Hostname, Groups: []string{targetGroup.Name}}
		if err := authz.CheckGroups(r, groupRec, time.Now()); err != nil {
			return nil, nil, err
		}
	}
	return targetUser, targetGroup, nil
}

func friendlyDenial(err error) string {
	if denial, ok := err.(*authz.Denial); ok {
		return denial.Message
	}
	return "not authorized"
}

// lookupTagFast tries to resolve an exact tag straight from the binary
// cache, skipping a full directory parse entirely. It only ever
// satisfies an exact-tag hit; a miss (including a stale or corrupt
// cache) falls through to the caller's full store build, which alone
// knows how to fall back to a generic (`@N`) rule.
func lookupTagFast(cfg *sysconfig.Config, tag string) (*ruledb.Rule, bool) {
	cachePath := filepath.Join(cfg.Directories.Cache, "sys.cache")
	if rulecache.IsOutdated(cachePath, cfg.DataFiles()) {
		return nil, false
	}
	entry, err := rulecache.Search(cachePath, tag)
	if err != nil || entry == nil {
		return nil, false
	}
	rule, err := rulecache.DecodeRule(entry)
	if err != nil {
		return nil, false
	}
	return rule, true
}

// loadStore parses the full rule store from the configured data
// directories. It runs for `-l` and whenever lookupTagFast misses, since
// only the complete store can resolve generic (`@N`) fallbacks. When the
// on-disk cache is outdated, it is rebuilt on a goroutine of this same
// process (no child process is started) so that lookupTagFast can hit it
// on later runs; the rebuild is not waited for, and it is abandoned if
// this process exits first.
func loadStore(cfg *sysconfig.Config, logger *auditlog.Logger) (*ruledb.Store, error) {
	dataDirs := cfg.DataFiles()
	store, parseErrors, err := ruledb.Build(dataDirs)
	if err != nil {
		return nil, err
	}
	for _, pe := range parseErrors {
		logger.Dataf("%s", pe.Error())
	}

	cachePath := filepath.Join(cfg.Directories.Cache, "sys.cache")
	if rulecache.IsOutdated(cachePath, dataDirs) {
		go func() {
			_ = rulecache.BuildWithRetry(cachePath, store.All(),
				rulecache.DefaultHashesPerIndex, rulecache.DefaultBucketsPerIndex, rulecache.DefaultBucketSize)
		}()
	}

	return store, nil
}

func doList(cfg *sysconfig.Config, logger *auditlog.Logger) int {
	ud, err := userinfo.Current()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sys: internal error")
		return exitError
	}
	store, err := loadStore(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sys: internal error")
		return exitError
	}
	now := time.Now()
	for _, r := range store.All() {
		if r.Invalid {
			continue
		}
		if _, disabled := r.Disabled(); disabled {
			continue
		}
		if err := authz.CheckUsersGroupsNetgroups(r, ud, now); err != nil {
			continue
		}
		fmt.Println(r.Tag)
	}
	return exitOK
}
