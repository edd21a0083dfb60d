// Package classifier maps round logs to an ErrorSignature.
package classifier

import (
	"regexp"
	"strings"

	"github.com/jordanhubbard/healloop/pkg/models"
)

// Rule pairs a signature with the patterns that select it.
type Rule struct {
	Signature models.ErrorSignature
	Patterns  []*regexp.Regexp
}

// Rules is the ordered rule list. The first matching rule wins, so more
// actionable signatures come before generic ones. Memory retrieval keys off
// the result; do not reorder.
var Rules = []Rule{
	{
		Signature: models.SigSyntaxError,
		Patterns: compile(
			`syntaxerror`,
			`indentationerror`,
			`taberror`,
			`invalid syntax`,
		),
	},
	{
		Signature: models.SigMissingDependency,
		Patterns: compile(
			`modulenotfounderror`,
			`no module named`,
			`importerror`,
			`cannot import name`,
			`could not find a version that satisfies`,
			`no matching distribution found`,
		),
	},
	{
		Signature: models.SigPortConflict,
		Patterns: compile(
			`address already in use`,
			`port is already allocated`,
			`no free port`,
			`bind for .* failed`,
		),
	},
	{
		Signature: models.SigBuildFailure,
		Patterns: compile(
			`failed to solve`,
			`error building image`,
			`dockerfile parse error`,
			`returned a non-zero code`,
			`unknown instruction`,
			`pull access denied`,
		),
	},
	{
		Signature: models.SigTestFailure,
		Patterns: compile(
			`assertionerror`,
			`=+ failures =+`,
			`\d+ failed`,
			`failed\s+test_`,
			`errors? during collection`,
		),
	},
	{
		Signature: models.SigHealthCheck,
		Patterns: compile(
			`health check failed`,
			`connection refused`,
			`connection reset`,
			`unhealthy`,
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Classify returns the signature of the first rule matching the
// concatenated logs, case-insensitively, or SigUnclassified.
func Classify(buildLog, testLog, runtimeLog string) models.ErrorSignature {
	text := strings.ToLower(buildLog + "\n" + testLog + "\n" + runtimeLog)
	for _, rule := range Rules {
		for _, re := range rule.Patterns {
			if re.MatchString(text) {
				return rule.Signature
			}
		}
	}
	return models.SigUnclassified
}

// Priority returns the rule index of sig, or len(Rules) for unclassified.
func Priority(sig models.ErrorSignature) int {
	for i, rule := range Rules {
		if rule.Signature == sig {
			return i
		}
	}
	return len(Rules)
}
