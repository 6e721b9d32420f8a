package models

import (
	"time"
)

const (
	SESSION_END = "<SESSION_END>"

	// DefaultSessionID is used when a chat caller does not name a session.
	DefaultSessionID = "default"
)

type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

type ChatMessage struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Role      Role           `json:"role"`
	Context   *ScreenContext `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChatResponse is what a backend returns for one chat turn.
type ChatResponse struct {
	Message     string       `json:"message"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Script      string       `json:"script,omitempty"`
}

// ActionSuggestion is the outcome of analyzing a single realtime screen event.
type ActionSuggestion struct {
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Script      string         `json:"script,omitempty"`
	Context     *ScreenContext `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
