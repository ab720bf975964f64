// Package patterns holds the fixed table of rules describing how a workflow
// input can be referenced in log text or in workflow expressions.
package patterns

import (
	"regexp"
	"strings"
)

const (
	// NameExpr matches an input identifier
	NameExpr = `[a-zA-Z_][a-zA-Z0-9_-]*`
	// TimestampExpr matches the ISO-8601 prefix runners put on every log line
	TimestampExpr = `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?Z`

	envInputPrefix = "INPUT_"
)

// RuleID names a rule in the table
type RuleID string

const (
	RuleDotted        RuleID = "dotted"
	RuleTemplated     RuleID = "templated"
	RuleBare          RuleID = "bare"
	RuleLabel         RuleID = "label"
	RuleEnvAssignment RuleID = "env_assignment"
	RuleEnvPrefixed   RuleID = "env_prefixed"
)

// Rule is one compiled pattern. The first capture group is the input name.
type Rule struct {
	ID RuleID
	// Global rules report every match on a line, others only the first
	Global bool
	// WholeLine rules are anchored to the line with the runner timestamp removed
	WholeLine bool
	expr      *regexp.Regexp
}

// Hit is one rule match on a line
type Hit struct {
	Rule   RuleID
	Name   string // normalized
	Raw    string // as written in the line
	Offset int    // byte offset of Raw in the line
}

var (
	nameRe      = regexp.MustCompile(`^` + NameExpr + `$`)
	timestampRe = regexp.MustCompile(`^\s*` + TimestampExpr + `\s*`)

	rules = []Rule{
		{ID: RuleDotted, Global: true, expr: regexp.MustCompile(`github\.event\.inputs\.(` + NameExpr + `)`)},
		{ID: RuleTemplated, Global: true, expr: regexp.MustCompile(`\$\{\{\s*inputs\.(` + NameExpr + `)\s*\}\}`)},
		{ID: RuleBare, Global: true, expr: regexp.MustCompile(`inputs\.(` + NameExpr + `)`)},
		{ID: RuleLabel, Global: true, expr: regexp.MustCompile(`(?i)Input\s+(` + NameExpr + `)\s*:`)},
		{ID: RuleEnvAssignment, WholeLine: true, expr: regexp.MustCompile(`^\s*([A-Z_][A-Z0-9_]*)\s*=.*$`)},
		{ID: RuleEnvPrefixed, Global: true, expr: regexp.MustCompile(envInputPrefix + `([A-Za-z_][A-Za-z0-9_]*)`)},
	}
)

// Rules returns the rule table in its fixed order
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Normalize case-folds an input name
func Normalize(name string) string {
	return strings.ToLower(name)
}

// ValidName reports whether name is a well-formed input identifier
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Reserved reports names injected by the platform that are never user inputs
func Reserved(name string) bool {
	upper := strings.ToUpper(name)
	return strings.HasPrefix(upper, "GITHUB_") || strings.HasPrefix(upper, "RUNNER_")
}

// StripTimestamp removes a leading runner timestamp and returns the rest of
// the line together with the number of bytes removed.
func StripTimestamp(line string) (string, int) {
	loc := timestampRe.FindStringIndex(line)
	if loc == nil {
		return line, 0
	}
	return line[loc[1]:], loc[1]
}

// Match applies one rule to a line
func (r Rule) Match(line string) []Hit {
	if r.WholeLine {
		body, shift := StripTimestamp(line)
		m := r.expr.FindStringSubmatchIndex(body)
		if m == nil {
			return nil
		}
		raw, off := body[m[2]:m[3]], shift+m[2]
		// INPUT_FOO=bar is how runners hand action inputs to steps
		if strings.HasPrefix(raw, envInputPrefix) {
			raw, off = raw[len(envInputPrefix):], off+len(envInputPrefix)
		}
		if h, ok := newHit(r.ID, raw, off); ok {
			return []Hit{h}
		}
		return nil
	}

	n := 1
	if r.Global {
		n = -1
	}
	var hits []Hit
	for _, m := range r.expr.FindAllStringSubmatchIndex(line, n) {
		if h, ok := newHit(r.ID, line[m[2]:m[3]], m[2]); ok {
			hits = append(hits, h)
		}
	}
	return hits
}

func newHit(id RuleID, raw string, off int) (Hit, bool) {
	if !ValidName(raw) {
		return Hit{}, false
	}
	return Hit{Rule: id, Name: Normalize(raw), Raw: raw, Offset: off}, true
}

// Match applies every rule to a line, in table order
func Match(line string) []Hit {
	var hits []Hit
	for _, r := range rules {
		hits = append(hits, r.Match(line)...)
	}
	return hits
}
