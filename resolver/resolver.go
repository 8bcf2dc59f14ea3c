// Package resolver implements deterministic conflict resolution between two
// versions of the same keychain item.
//
// The rule depends only on the two candidates, never on arrival order, so every
// replica that sees the same set of versions converges on the same winner:
//
//  1. the strictly newer modification time wins;
//  2. on a tie, the smaller content digest (unsigned, big-endian) wins;
//  3. identical digests resolve to the second argument.
//
// Resolve always returns one of its inputs; it never builds a merged value.
package resolver

import (
	"xdao.co/keycircle/item"
)

// Side identifies which argument won.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "a"
	}
	return "b"
}

// Rule names the step of the ordering that decided.
type Rule string

const (
	RuleNewer     Rule = "NewerModificationTime"
	RuleDigest    Rule = "SmallerContentDigest"
	RuleIdentical Rule = "Identical"
)

type Decision struct {
	Winner item.Object
	Side   Side
	Rule   Rule
}

func Resolve(a, b item.Object) Decision {
	ta, tb := a.ModTime(), b.ModTime()
	switch {
	case ta.After(tb):
		return Decision{Winner: a, Side: SideA, Rule: RuleNewer}
	case tb.After(ta):
		return Decision{Winner: b, Side: SideB, Rule: RuleNewer}
	}
	switch c := a.Digest().Compare(b.Digest()); {
	case c < 0:
		return Decision{Winner: a, Side: SideA, Rule: RuleDigest}
	case c > 0:
		return Decision{Winner: b, Side: SideB, Rule: RuleDigest}
	default:
		return Decision{Winner: b, Side: SideB, Rule: RuleIdentical}
	}
}

// Winner folds Resolve over versions in the given order. The result does not
// depend on that order.
func Winner(versions []item.Object) (item.Object, bool) {
	if len(versions) == 0 {
		return item.Object{}, false
	}
	w := versions[0]
	for _, v := range versions[1:] {
		w = Resolve(v, w).Winner
	}
	return w, true
}
