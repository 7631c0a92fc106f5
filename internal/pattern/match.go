package pattern

import "fmt"

// MatchResult is the pattern engine's verdict, per spec.md §4.5: accept
// or reject plus an optional human-readable diagnostic.
type MatchResult struct {
	OK   bool
	Argv []string // final argv, with inserts spliced in
	Diag string   // diagnostic naming the offending pattern/argument
}

// Match walks patterns left-to-right against argv (the invoker's
// arguments, tag already stripped), implementing spec.md §4.5's
// algorithm: TI tokens buffer literal inserts that are materialized just
// before the next consuming pattern; multi-match tokens greedily consume
// while their regex lists accept, stopping when the next pattern would
// also accept the current argument; TP enforces an absolute positional
// slot; TT requires an exact literal match.
func Match(patterns []*Pattern, argv []string) MatchResult {
	work := append([]string(nil), argv...)
	cursor := 0
	var pending []string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		tail := append([]string(nil), work[cursor:]...)
		work = append(work[:cursor], append(append([]string(nil), pending...), tail...)...)
		cursor += len(pending)
		pending = nil
	}

	for i, p := range patterns {
		switch p.Type {
		case TI:
			pending = append(pending, p.Literal)
			continue
		case TL:
			flush()
			continue
		}
		flush()

		switch p.Type {
		case TT:
			if cursor >= len(work) || work[cursor] != p.Literal {
				return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("expected literal %q", p.Literal)}
			}
			cursor++
			p.Matches++

		case TP:
			idx := p.Pos - 1
			if idx < cursor || idx >= len(work) {
				return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("missing argument at position %d", p.Pos)}
			}
			if !accepts(p, work[idx]) {
				return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("argument %d does not satisfy %s", p.Pos, p.Name)}
			}
			cursor = idx + 1
			p.Matches++

		case TS:
			if cursor >= len(work) || !accepts(p, work[cursor]) {
				return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("missing mandatory argument for %s", p.Name)}
			}
			cursor++
			p.Matches++

		case TO:
			if cursor < len(work) && accepts(p, work[cursor]) {
				cursor++
				p.Matches++
			}

		case T0, T1, T2S, T2M:
			tolerant := p.Type == T2S || p.Type == T2M
			count := 0
			for cursor < len(work) {
				arg := work[cursor]
				if !accepts(p, arg) {
					// Intolerant types (T0/T1) stop consuming on the
					// first mismatch, yielding it to a later pattern.
					// Tolerant types (T2S/T2M) skip over it and keep
					// scanning, unless a later pattern would claim it.
					if !tolerant || wouldLaterPatternAccept(patterns, i+1, arg) {
						break
					}
					cursor++
					continue
				}
				if minSatisfied(p.Type, count) && wouldLaterPatternAccept(patterns, i+1, arg) {
					break
				}
				cursor++
				count++
			}
			p.Matches = count
			switch p.Type {
			case T1:
				if count < 1 {
					return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("%s requires at least one argument", p.Name)}
				}
			case T2S:
				if count != 1 {
					return MatchResult{OK: false, Argv: work, Diag: fmt.Sprintf("%s requires exactly one argument", p.Name)}
				}
			}
		}
	}

	if cursor < len(work) {
		return MatchResult{OK: false, Argv: work, Diag: "extra unmatched arguments"}
	}
	return MatchResult{OK: true, Argv: work}
}

func minSatisfied(t Type, count int) bool {
	switch t {
	case T1, T2S, T2M:
		return count >= 1
	default:
		// T0's minimum (zero) is always already met, so it defers to a
		// later pattern's lookahead from the very first argument.
		return true
	}
}

// accepts reports whether arg passes p's accept/deny regex lists: a deny
// match always rejects; otherwise an empty accept list accepts anything,
// else at least one accept regex must match.
func accepts(p *Pattern, arg string) bool {
	for _, re := range p.Deny {
		if re.MatchString(arg) {
			return false
		}
	}
	if len(p.Accept) == 0 {
		return true
	}
	for _, re := range p.Accept {
		if re.MatchString(arg) {
			return true
		}
	}
	return false
}

// wouldLaterPatternAccept looks ahead to the next non-TI, non-TL pattern
// to decide whether a greedy multi-match should yield the current
// argument to it, per spec.md §4.5.
func wouldLaterPatternAccept(patterns []*Pattern, from int, arg string) bool {
	for _, p := range patterns[from:] {
		if p.Type == TI {
			continue
		}
		if p.Type == TL {
			return false
		}
		if p.Type == TT {
			// TT carries no accept/deny lists, so the generic accepts()
			// check (which treats an empty list as "accepts anything")
			// does not apply; only an exact literal match counts.
			return p.Literal == arg
		}
		return accepts(p, arg)
	}
	return false
}
