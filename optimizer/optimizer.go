// Package optimizer is the zero-network source of optimization suggestions
// and light script repair. Every function here is pure.
package optimizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

const (
	// maxScore caps local results below typical backend scores.
	maxScore = 60.0

	pointsPerImprovement = 15.0
)

var (
	busyLoopRe   = regexp.MustCompile(`while\s*\(\s*true\s*\)`)
	sleepRe      = regexp.MustCompile(`\bsleep\s*\(`)
	coordClickRe = regexp.MustCompile(`\b(click|press|longClick)\s*\(\s*\d+\s*,\s*\d+`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
	doubleSemiRe = regexp.MustCompile(`;{2,}`)
)

// Optimize applies the local rules to script. When no rule applies the input
// comes back unchanged with no suggestions and a zero score.
func Optimize(script string, ctx *models.ScreenContext) models.OptimizationResult {
	result := models.OptimizationResult{
		OriginalScript:  script,
		OptimizedScript: script,
		Improvements:    []models.Improvement{},
		Suggestions:     []models.Suggestion{},
		Warnings:        []string{},
		IsSuccessful:    true,
	}

	optimized := trimTrailingWhitespace(script)
	if optimized != script {
		result.Improvements = append(result.Improvements, models.Improvement{
			Type:        "formatting",
			Description: "Removed trailing whitespace",
		})
	}

	collapsed := blankRunRe.ReplaceAllString(optimized, "\n\n")
	if collapsed != optimized {
		result.Improvements = append(result.Improvements, models.Improvement{
			Type:        "formatting",
			Description: "Collapsed consecutive blank lines",
		})
		optimized = collapsed
	}
	result.OptimizedScript = optimized

	for _, s := range ruleSuggestions(script) {
		result.Suggestions = append(result.Suggestions, s)
		if s.Priority >= 8 {
			result.Warnings = append(result.Warnings, s.Description)
		}
	}

	if ctx != nil && ctx.PackageName != "" && !strings.Contains(script, ctx.PackageName) &&
		strings.Contains(script, "launch") {
		result.Suggestions = append(result.Suggestions, models.Suggestion{
			Title:       "Check target app",
			Description: fmt.Sprintf("The script launches an app but the current screen belongs to %s", ctx.PackageName),
			Category:    "context",
			Priority:    3,
		})
	}

	result.Score = score(len(result.Improvements), len(result.Suggestions))
	return result
}

// Suggestions returns the rule-based suggestions for script, plus hints
// derived from the last execution when one is given.
func Suggestions(script string, exec *models.ExecutionResult) []models.Suggestion {
	out := ruleSuggestions(script)
	if exec == nil || exec.Success {
		return out
	}

	errText := strings.ToLower(exec.Error)
	switch {
	case strings.Contains(errText, "timeout"):
		out = append(out, models.Suggestion{
			Title:       "Increase wait timeout",
			Description: "The last run timed out; wait for the target element before acting on it",
			Category:    "reliability",
			Priority:    7,
			Code:        "waitFor(selector, 5000);",
		})
	case strings.Contains(errText, "not found"):
		out = append(out, models.Suggestion{
			Title:       "Guard missing elements",
			Description: "The last run could not find an element; check for existence before use",
			Category:    "reliability",
			Priority:    6,
		})
	case errText != "":
		out = append(out, models.Suggestion{
			Title:       "Handle runtime errors",
			Description: "Wrap the failing section in try/catch and log the error",
			Category:    "reliability",
			Priority:    5,
		})
	}
	return out
}

// Repair performs one light repair pass: duplicated semicolons are collapsed
// and unbalanced brackets are closed at the end of the script. The errors are
// only used to decide whether any work is needed.
func Repair(script string, errs []models.ValidationError) string {
	if len(errs) == 0 {
		return script
	}

	repaired := doubleSemiRe.ReplaceAllString(script, ";")
	missing := unclosed(repaired)
	if missing == "" {
		return repaired
	}
	if !strings.HasSuffix(repaired, "\n") {
		repaired += "\n"
	}
	return repaired + missing + "\n"
}

func ruleSuggestions(script string) []models.Suggestion {
	out := []models.Suggestion{}
	if busyLoopRe.MatchString(script) && !sleepRe.MatchString(script) {
		out = append(out, models.Suggestion{
			Title:       "Add delay to infinite loop",
			Description: "An infinite loop without sleep() will drain the battery and may freeze the device",
			Category:    "performance",
			Priority:    9,
			Code:        "sleep(500);",
		})
	}
	if coordClickRe.MatchString(script) {
		out = append(out, models.Suggestion{
			Title:       "Prefer selectors over coordinates",
			Description: "Hard-coded coordinates break on other screen sizes; select elements by text or id",
			Category:    "compatibility",
			Priority:    5,
		})
	}
	return out
}

func score(improvements, suggestions int) float64 {
	if improvements == 0 && suggestions == 0 {
		return 0
	}
	s := pointsPerImprovement * float64(improvements+suggestions)
	if s > maxScore {
		return maxScore
	}
	return s
}

func trimTrailingWhitespace(script string) string {
	lines := strings.Split(script, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// unclosed returns the closers needed to balance script, ignoring brackets
// inside string literals. Stray closers are left alone.
func unclosed(script string) string {
	var stack []rune
	var quote rune
	escaped := false
	for _, r := range script {
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if n := len(stack); n > 0 && pairs[stack[n-1]] == r {
				stack = stack[:n-1]
			}
		}
	}

	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteRune(pairs[stack[i]])
	}
	return b.String()
}

var pairs = map[rune]rune{'(': ')', '[': ']', '{': '}'}

// Local exposes the package functions as a value, for callers that take them
// through an interface.
type Local struct{}

func (Local) Optimize(script string, ctx *models.ScreenContext) models.OptimizationResult {
	return Optimize(script, ctx)
}

func (Local) Suggestions(script string, exec *models.ExecutionResult) []models.Suggestion {
	return Suggestions(script, exec)
}

func (Local) Repair(script string, errs []models.ValidationError) string {
	return Repair(script, errs)
}
