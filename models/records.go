package models

import "time"

type OptimizationRecord struct {
	ID        string             `json:"id"`
	Result    OptimizationResult `json:"result"`
	Context   *ScreenContext     `json:"context,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

type GenerationRecord struct {
	ID        string                 `json:"id"`
	Request   string                 `json:"request"`
	Result    ScriptGenerationResult `json:"result"`
	CreatedAt time.Time              `json:"created_at"`
}

type ScriptExecutionRecord struct {
	ID         string          `json:"id"`
	ScriptName string          `json:"script_name"`
	Script     string          `json:"script"`
	Result     ExecutionResult `json:"result"`
	ExecutedAt time.Time       `json:"executed_at"`
}
