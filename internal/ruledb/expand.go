package ruledb

import (
	"fmt"
	"strings"
)

const maxExpansionPasses = 64

// ExpandRule performs the fixed-point `@{name}` substitution of spec.md
// §4.2 over every string field of r (executable, command template,
// parameter values), then re-splits each parameter's values on `,`
// (C-escape aware) so that an expanded value like "a,b,c" contributes
// three list entries, per spec.md §3/§4.2.
func ExpandRule(r *Rule, vars []Variable) error {
	lookup := make(map[string]string, len(vars))
	for _, v := range vars {
		lookup[v.Name] = v.Value
	}

	var err error
	r.Executable, err = expandString(r.Executable, lookup)
	if err != nil {
		return fmt.Errorf("executable: %w", err)
	}
	r.CommandTemplate, err = expandString(r.CommandTemplate, lookup)
	if err != nil {
		return fmt.Errorf("command_template: %w", err)
	}
	for i := range r.Params {
		var expandedValues []string
		for _, v := range r.Params[i].Values {
			ev, err := expandString(v, lookup)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", r.Params[i].Name, err)
			}
			expandedValues = append(expandedValues, splitValues(ev)...)
		}
		r.Params[i].Values = expandedValues
	}
	return nil
}

// expandString repeatedly substitutes `@{name}` references until none
// remain (a fixed point). A pass that leaves the string unchanged while
// still finding a reference (a variable that refers to itself) halts
// expansion, and the remaining references become empty. Any other cycle
// is not emptied: if the string is still changing after
// maxExpansionPasses passes, expandString returns ErrExpansionCycle.
func expandString(s string, vars map[string]string) (string, error) {
	for i := 0; i < maxExpansionPasses; i++ {
		next, changed := expandOnce(s, vars)
		if !changed {
			return next, nil
		}
		if next == s {
			// No progress despite reporting a reference: a self-cycle.
			resolved, _ := expandOnce(next, nil) // force remaining refs to empty
			return resolved, nil
		}
		s = next
	}
	return s, fmt.Errorf("%q: %w", s, ErrExpansionCycle)
}

// expandOnce performs a single left-to-right pass, substituting each
// `@{name}` (unless immediately preceded by a backslash, which suppresses
// expansion and is consumed) with vars[name], or "" if name is unknown or
// vars is nil.
func expandOnce(s string, vars map[string]string) (result string, changed bool) {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '\\' && i+2 < len(s) && s[i+1] == '@' && s[i+2] == '{' {
			b.WriteString("@{")
			i += 3
			continue
		}
		if s[i] == '@' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				i++
				continue
			}
			name := s[i+2 : i+2+end]
			val := vars[name]
			b.WriteString(val)
			changed = true
			i = i + 2 + end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String(), changed
}
