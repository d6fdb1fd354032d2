package runtimeregistry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

// WheelTagsFor builds the ordered, most-specific-first list of wheel tag
// triples an interpreter can consume, following the standard
// cpythonXY-abi-platform / py3-none-platform / py3-none-any fallback chain.
func WheelTagsFor(impl, version, abi, platform string) []string {
	major, minor := majorMinor(version)
	if major == 0 {
		return nil
	}
	pyTag := fmt.Sprintf("cp%d%d", major, minor)
	if impl != "" && impl != "cpython" {
		pyTag = fmt.Sprintf("%s%d%d", shortImpl(impl), major, minor)
	}

	var tags []string
	tags = append(tags, fmt.Sprintf("%s-%s-%s", pyTag, abi, platform))
	tags = append(tags, fmt.Sprintf("%s-none-%s", pyTag, platform))
	tags = append(tags, fmt.Sprintf("py%d-none-%s", major, platform))
	tags = append(tags, fmt.Sprintf("%s-none-any", pyTag))
	tags = append(tags, fmt.Sprintf("py%d-none-any", major))
	return tags
}

func shortImpl(impl string) string {
	switch impl {
	case "pypy":
		return "pp"
	default:
		return "cp"
	}
}

func majorMinor(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return maj, min
}

// VersionSatisfies reports whether an interpreter version (M.m.p) satisfies
// a PEP 440-style requires-python specifier (e.g. ">=3.8,!=3.9.*,<4"). The
// comma-joined comparator grammar requires-python uses lines up closely
// enough with semver.Constraint's own comma-AND grammar that the comparison
// itself is delegated to it rather than hand-rolled, after normalizing each
// clause's operand and the probed version to a full major.minor.patch form.
func VersionSatisfies(version, requirement string) bool {
	if requirement == "" {
		return true
	}
	v, err := semver.NewVersion(padVersion(version))
	if err != nil {
		return false
	}
	var clauses []string
	for _, clause := range strings.Split(requirement, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		clauses = append(clauses, normalizeClause(clause))
	}
	if len(clauses) == 0 {
		return true
	}
	c, err := semver.NewConstraint(strings.Join(clauses, ", "))
	if err != nil {
		return false
	}
	return c.Check(v)
}

// normalizeClause rewrites a single requires-python comparator clause into
// one semver.NewConstraint accepts, padding its operand to three components
// and dropping PEP 440 wildcard suffixes (!=3.9.* has no direct semver
// equivalent; callers needing exact wildcard exclusion should split it into
// an explicit range instead).
func normalizeClause(clause string) string {
	ops := []string{">=", "<=", "==", "!=", ">", "<"}
	for _, op := range ops {
		if strings.HasPrefix(clause, op) {
			operand := strings.TrimSpace(strings.TrimPrefix(clause, op))
			operand = strings.TrimSuffix(operand, ".*")
			want := op
			if op == "==" {
				want = "="
			}
			return want + padVersion(operand)
		}
	}
	return padVersion(clause)
}

// padVersion extends a dotted version string to three numeric components so
// partial specifiers like "3.8" parse as valid semver ("3.8.0").
func padVersion(version string) string {
	parts := strings.Split(version, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts[:3], ".")
}
