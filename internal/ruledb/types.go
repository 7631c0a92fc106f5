// Package ruledb implements the rule-file parser (C1), variable expander
// (C2), and rule store (C3): reading declarative ".dat" policy files into
// a keyed collection of compiled rules.
package ruledb

import "fmt"

// Variable is a `name = value` statement from a .dat file. Global
// variables (prefixed `*`) survive into every subsequent file's scope;
// file-local ones do not.
type Variable struct {
	Name     string
	Value    string
	IsGlobal bool
}

// Param is a rule parameter: an ordered list of values keyed by name.
// Names starting with `!` are deny lists, `$` denotes a pattern/env
// constraint, `%` denotes a plugin call.
type Param struct {
	Name   string
	Values []string
}

// Rule is a compiled `tag: command_template { params }` statement.
type Rule struct {
	Tag             string
	Executable      string
	CommandTemplate string
	Params          []Param

	// Invalid marks a rule that failed to parse or compile cleanly; it
	// must never be selected for execution.
	Invalid    bool
	InvalidErr string

	// Source records where the rule was defined, for diagnostics.
	SourceFile string
	SourceLine int
}

// IsGeneric reports whether the tag is a `@N` generic rule slot, and
// returns N when it is.
func (r *Rule) IsGeneric() (n int, ok bool) {
	return parseGenericTag(r.Tag)
}

// Param looks up a parameter by exact name; ok is false when absent.
func (r *Rule) Param(name string) (Param, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// HasParam reports whether the rule carries a parameter named name.
func (r *Rule) HasParam(name string) bool {
	_, ok := r.Param(name)
	return ok
}

// Disabled reports whether the rule carries a `disabled` parameter, and
// its value list (the user-facing reason), per spec.md §3.
func (r *Rule) Disabled() (reason []string, ok bool) {
	p, ok := r.Param("disabled")
	if !ok {
		return nil, false
	}
	return p.Values, true
}

func (p Param) String() string {
	return fmt.Sprintf("%s: %v", p.Name, p.Values)
}
