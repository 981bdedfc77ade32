package engine

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RuleKind is the predicate type of a classification rule.
type RuleKind string

const (
	RuleKeyword   RuleKind = "keyword"
	RuleExtension RuleKind = "extension"
	RulePattern   RuleKind = "pattern"
)

// Rule maps one predicate to a tier.
type Rule struct {
	Kind  RuleKind
	Value string
	Tier  Tier
}

// RuleSet is an ordered, validated list of classification rules.
// Build it with CompileRules.
type RuleSet struct {
	rules []Rule
}

// CompileRules validates and normalizes rules. Keywords and extensions are
// lower-cased, extensions gain a leading dot, and glob patterns must parse.
// Any malformed rule is reported as a PreconditionError.
func CompileRules(rules []Rule) (*RuleSet, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Tier != TierSensitive && r.Tier != TierCritical {
			return nil, &PreconditionError{Reason: fmt.Sprintf("rule %d: tier %s cannot be assigned by a rule", i, r.Tier)}
		}
		v := strings.TrimSpace(r.Value)
		if v == "" {
			return nil, &PreconditionError{Reason: fmt.Sprintf("rule %d: empty %s", i, r.Kind)}
		}
		switch r.Kind {
		case RuleKeyword:
			v = strings.ToLower(v)
		case RuleExtension:
			v = strings.ToLower(v)
			if !strings.HasPrefix(v, ".") {
				v = "." + v
			}
		case RulePattern:
			if !doublestar.ValidatePattern(v) {
				return nil, &PreconditionError{Reason: fmt.Sprintf("rule %d: invalid glob pattern %q", i, v)}
			}
		default:
			return nil, &PreconditionError{Reason: fmt.Sprintf("rule %d: unknown rule kind %q", i, r.Kind)}
		}
		compiled = append(compiled, Rule{Kind: r.Kind, Value: v, Tier: r.Tier})
	}
	return &RuleSet{rules: compiled}, nil
}

// Rules returns a copy of the compiled rules.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.rules...)
}

// Classify returns the union of tiers whose rules match p. A path that
// matches nothing is standard. Classify is pure and safe for concurrent use.
func Classify(p string, rs *RuleSet) TierSet {
	var tiers TierSet
	if rs != nil {
		slashed := filepath.ToSlash(p)
		lower := strings.ToLower(slashed)
		ext := strings.ToLower(path.Ext(slashed))

		for _, r := range rs.rules {
			if tiers.Has(r.Tier) {
				continue
			}
			if ruleMatches(r, slashed, lower, ext) {
				tiers = tiers.With(r.Tier)
			}
		}
	}
	if tiers.IsEmpty() {
		return NewTierSet(TierStandard)
	}
	return tiers
}

func ruleMatches(r Rule, slashed, lower, ext string) bool {
	switch r.Kind {
	case RuleKeyword:
		return strings.Contains(lower, r.Value)
	case RuleExtension:
		return ext != "" && ext == r.Value
	case RulePattern:
		return matchAnchoredRight(r.Value, slashed)
	}
	return false
}

// matchAnchoredRight matches an absolute pattern against the whole path and
// a relative pattern against every trailing run of path segments, so
// "*.key" matches /home/u/.ssh/id.key and "docs/*.pdf" matches
// /home/u/docs/tax.pdf.
func matchAnchoredRight(pattern, slashed string) bool {
	if strings.HasPrefix(pattern, "/") {
		ok, _ := doublestar.Match(pattern, slashed)
		return ok
	}
	rest := strings.TrimPrefix(slashed, "/")
	for {
		if ok, _ := doublestar.Match(pattern, rest); ok {
			return true
		}
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return false
		}
		rest = rest[i+1:]
	}
}
