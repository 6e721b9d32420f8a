package models

type Improvement struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
}

type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Priority    int    `json:"priority"`
	Code        string `json:"code,omitempty"`
}

// OptimizationResult is produced by a backend, by the local optimizer, or by
// fusing the two. Score is in [0,100].
type OptimizationResult struct {
	OriginalScript  string        `json:"original_script"`
	OptimizedScript string        `json:"optimized_script"`
	Improvements    []Improvement `json:"improvements"`
	Score           float64       `json:"score"`
	Suggestions     []Suggestion  `json:"suggestions"`
	Warnings        []string      `json:"warnings"`
	IsSuccessful    bool          `json:"is_successful"`
}

type ScriptGenerationResult struct {
	Script              string   `json:"script"`
	Explanation         string   `json:"explanation"`
	Confidence          float64  `json:"confidence"`
	RequiredPermissions []string `json:"required_permissions"`
	IsExecutable        bool     `json:"is_executable"`
	Warnings            []string `json:"warnings,omitempty"`
}

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

type ValidationError struct {
	Line     int      `json:"line"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Blocking reports whether the error prevents the script from running.
func (e ValidationError) Blocking() bool {
	return e.Severity != SeverityWarning
}

type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// ExecutionResult describes the last run of a script, used as a hint for suggestions.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type ScriptTemplate struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	Script              string   `json:"script"`
	Tags                []string `json:"tags,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
}
