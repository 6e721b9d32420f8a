// Package templates finds reusable script templates for a generation request.
package templates

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// MinOverlap is the keyword overlap a template needs to count as similar.
const MinOverlap = 0.5

// MemoryManager matches templates by keyword overlap. It is used when no
// vector index is configured.
type MemoryManager struct {
	mu        sync.RWMutex
	templates []models.ScriptTemplate
}

func NewMemoryManager(seed ...models.ScriptTemplate) *MemoryManager {
	m := &MemoryManager{}
	for _, t := range seed {
		_ = m.SaveTemplate(context.Background(), t)
	}
	return m
}

// FindSimilarTemplates returns templates whose keywords cover at least
// MinOverlap of the request's keywords, best match first.
func (m *MemoryManager) FindSimilarTemplates(_ context.Context, request string) ([]models.ScriptTemplate, error) {
	want := keywords(request)
	if len(want) == 0 {
		return []models.ScriptTemplate{}, nil
	}

	type scored struct {
		t     models.ScriptTemplate
		score float64
	}
	var hits []scored

	m.mu.RLock()
	for _, t := range m.templates {
		have := keywords(t.Name + " " + t.Description + " " + strings.Join(t.Tags, " "))
		matched := 0
		for w := range want {
			if _, ok := have[w]; ok {
				matched++
			}
		}
		if s := float64(matched) / float64(len(want)); s >= MinOverlap {
			hits = append(hits, scored{t: t, score: s})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]models.ScriptTemplate, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.t)
	}
	return out, nil
}

func (m *MemoryManager) GetTemplates(_ context.Context, category, query string) ([]models.ScriptTemplate, error) {
	q := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ScriptTemplate{}
	for _, t := range m.templates {
		if category != "" && !strings.EqualFold(t.Category, category) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(t.Name+" "+t.Description), q) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveTemplate inserts t, or replaces the template with the same id.
func (m *MemoryManager) SaveTemplate(_ context.Context, t models.ScriptTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.templates {
		if m.templates[i].ID == t.ID {
			m.templates[i] = t
			return nil
		}
	}
	m.templates = append(m.templates, t)
	return nil
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "and": {}, "or": {}, "of": {}, "in": {},
	"on": {}, "for": {}, "me": {}, "my": {}, "please": {}, "script": {}, "that": {},
	"with": {}, "it": {}, "is": {}, "i": {}, "want": {},
}

func keywords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, skip := stopWords[w]; skip || len(w) < 2 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
