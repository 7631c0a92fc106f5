package ruledb

import "errors"

// Sentinel errors for the rule-file pipeline (C1/C2/C3).
// Use errors.Is() to check for these.
var (
	// ErrDataFileMode indicates a .dat file does not carry the required
	// ownership (uid 0/gid 0) and mode (0600), per spec.md §4.1. The
	// offending file is skipped, not fatal to the scan.
	ErrDataFileMode = errors.New("data file has wrong owner or mode")

	// ErrDynamicWord indicates a command_template's executable word uses
	// shell expansion (parameter expansion, command substitution, …)
	// instead of a static literal; spec.md §4.1 treats this as a
	// quarantined rule, not a shell feature to honor.
	ErrDynamicWord = errors.New("command template executable is not a static word")

	// ErrExpansionCycle indicates @{name} variable expansion did not
	// reach a fixed point within maxExpansionPasses, per spec.md §4.2.
	ErrExpansionCycle = errors.New("variable expansion did not converge")

	// ErrUnknownTag indicates a lookup found neither an exact tag nor a
	// usable generic (@N) fallback, per spec.md §3.
	ErrUnknownTag = errors.New("no such tag")
)
