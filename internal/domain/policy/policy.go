// Package policy implements the command policy engine: an allowlist over
// head tokens plus a dangerous-pattern blocklist, and risk classification.
// Pure functions, no side effects; called optionally at plan time and
// mandatorily at step dispatch.
package policy

import (
	"regexp"
	"strings"

	"github.com/localops/localops/internal/domain/plan"
)

// Allowed is the head-token allowlist. A command whose first
// whitespace-separated token is not in this set is denied.
var Allowed = map[string]bool{
	"git":    true,
	"python": true,
	"pytest": true,
	"node":   true,
	"pnpm":   true,
	"npm":    true,
	"rg":     true,
	"sed":    true,
	"awk":    true,
	"echo":   true,
	"ls":     true,
	"pwd":    true,
}

// dangerous patterns are checked before the allowlist so that an
// allowlisted head token cannot smuggle a destructive tail.
var dangerous = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\bchmod\s+777\s+/\b`),
}

// Deny reasons surfaced to audits and API responses.
const (
	ReasonEmpty     = "empty command"
	ReasonDangerous = "dangerous pattern blocked"
	ReasonOK        = "ok"
)

// Validate returns whether the command may be dispatched, with a reason.
func Validate(command string) (bool, string) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false, ReasonEmpty
	}
	for _, re := range dangerous {
		if re.MatchString(trimmed) {
			return false, ReasonDangerous
		}
	}
	head := strings.Fields(trimmed)[0]
	if !Allowed[head] {
		return false, "command '" + head + "' not in allowlist"
	}
	return true, ReasonOK
}

// EvaluateRisk classifies a command: high when it needs network access,
// medium when it touches VCS or package managers, low otherwise.
func EvaluateRisk(command string, networkRequired bool) plan.RiskLevel {
	if networkRequired {
		return plan.RiskHigh
	}
	for _, tok := range []string{"git", "pnpm", "npm"} {
		if strings.Contains(command, tok) {
			return plan.RiskMedium
		}
	}
	return plan.RiskLow
}

// HeadToken returns the first whitespace-separated token of a command,
// or "unknown" for empty commands. Used as a metric attribute.
func HeadToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}
