package ruledb

import (
	"sort"
	"strconv"
	"strings"
)

// Store is the rule store (C3): an ordered, by-tag keyed collection of
// compiled rules. Duplicate tags replace the earlier definition at
// insertion time, matching spec.md §3/§4.3.
type Store struct {
	byTag map[string]*Rule
	order []string // insertion order, for -l listing and cache serialization
}

// NewStore returns an empty rule store.
func NewStore() *Store {
	return &Store{byTag: make(map[string]*Rule)}
}

// Insert adds or replaces the rule for its tag.
func (s *Store) Insert(r *Rule) {
	if _, exists := s.byTag[r.Tag]; !exists {
		s.order = append(s.order, r.Tag)
	}
	s.byTag[r.Tag] = r
}

// Lookup finds the rule for tag, falling back to the lowest-numbered
// generic slot (`@1`, `@2`, …) when the literal tag is absent, per
// spec.md §3's "Rule" definition.
func (s *Store) Lookup(tag string) (*Rule, bool) {
	if r, ok := s.byTag[tag]; ok {
		return r, true
	}
	var genericTags []int
	for t := range s.byTag {
		if n, ok := parseGenericTag(t); ok {
			genericTags = append(genericTags, n)
		}
	}
	sort.Ints(genericTags)
	for _, n := range genericTags {
		r := s.byTag["@"+strconv.Itoa(n)]
		if r != nil && !r.Invalid {
			return r, true
		}
	}
	return nil, false
}

// All returns every rule in insertion order (used by cache serialization
// and the `-l` listing).
func (s *Store) All() []*Rule {
	rules := make([]*Rule, 0, len(s.order))
	for _, tag := range s.order {
		rules = append(rules, s.byTag[tag])
	}
	return rules
}

// Len reports the number of distinct tags in the store.
func (s *Store) Len() int { return len(s.byTag) }

// parseGenericTag reports whether tag has the form `@N` for a positive
// integer N.
func parseGenericTag(tag string) (int, bool) {
	if !strings.HasPrefix(tag, "@") {
		return 0, false
	}
	n, err := strconv.Atoi(tag[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SplitCommandPath splits a tag carrying a directory prefix (`dir/name`)
// into its directory and base name, mirroring the original's
// split_command_path. The authorization checks do not call it: the
// `paths` check matches only the rule's executable, so a tag's directory
// prefix is not compared against it.
func SplitCommandPath(tag string) (dir, name string) {
	idx := strings.LastIndexByte(tag, '/')
	if idx < 0 {
		return "", tag
	}
	return tag[:idx], tag[idx+1:]
}

// Build runs the full C1→C2→C3 pipeline over a set of policy directories:
// parse every .dat file (sorted, per directory in the order given),
// expand variables, and insert the resulting rules into a fresh Store.
func Build(dirs []string) (*Store, []*ParseError, error) {
	store := NewStore()
	var allErrors []*ParseError
	var globals []Variable
	for _, dir := range dirs {
		result, newGlobals, err := ParseDir(dir, globals)
		if err != nil {
			return nil, allErrors, err
		}
		globals = newGlobals
		allErrors = append(allErrors, result.Errors...)
		for _, r := range result.Rules {
			if !r.Invalid {
				if err := ExpandRule(r, globals); err != nil {
					r.Invalid = true
					r.InvalidErr = err.Error()
					allErrors = append(allErrors, &ParseError{
						File: r.SourceFile, Line: r.SourceLine, Msg: err.Error(),
					})
				}
			}
			store.Insert(r)
		}
	}
	return store, allErrors, nil
}
