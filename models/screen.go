package models

import (
	"strings"
	"time"
)

// ScreenContext is a snapshot of the current UI surface on the device.
// The orchestrator only uses it as a fingerprint component and passes it
// through to backends untouched.
type ScreenContext struct {
	ID          string    `json:"id"`
	PackageName string    `json:"package_name"`
	Activity    string    `json:"activity"`
	Texts       []string  `json:"texts,omitempty"`
	Elements    []string  `json:"elements,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Identity returns a stable identity string for the context. A nil context
// has an empty identity.
func (c *ScreenContext) Identity() string {
	if c == nil {
		return ""
	}
	if c.ID != "" {
		return c.ID
	}
	var b strings.Builder
	b.WriteString(c.PackageName)
	b.WriteByte('/')
	b.WriteString(c.Activity)
	for _, t := range c.Texts {
		b.WriteByte('|')
		b.WriteString(t)
	}
	for _, e := range c.Elements {
		b.WriteByte('#')
		b.WriteString(e)
	}
	return b.String()
}

// Summary renders the context as prompt text.
func (c *ScreenContext) Summary() string {
	if c == nil {
		return "No screen context available."
	}
	var b strings.Builder
	b.WriteString("App: " + c.PackageName + "\n")
	if c.Activity != "" {
		b.WriteString("Activity: " + c.Activity + "\n")
	}
	if len(c.Texts) > 0 {
		b.WriteString("Visible text: " + strings.Join(c.Texts, ", ") + "\n")
	}
	if len(c.Elements) > 0 {
		b.WriteString("Elements: " + strings.Join(c.Elements, ", ") + "\n")
	}
	return b.String()
}
