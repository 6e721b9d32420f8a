package templates

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Perceptus-Labs/perceptus-agent/models"
	"github.com/Perceptus-Labs/perceptus-agent/utils"
)

const (
	defaultTopK     = 5
	defaultMinScore = 0.8
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PineconeManager stores templates as vectors with their fields in metadata.
type PineconeManager struct {
	index    utils.PineconeIndex
	embedder Embedder
	topK     int
	minScore float32
	logger   *zap.Logger
}

func NewPineconeManager(index utils.PineconeIndex, embedder Embedder, topK int, minScore float32, logger *zap.Logger) *PineconeManager {
	if topK <= 0 {
		topK = defaultTopK
	}
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	return &PineconeManager{
		index:    index,
		embedder: embedder,
		topK:     topK,
		minScore: minScore,
		logger:   logger.Named("templates"),
	}
}

// FindSimilarTemplates returns templates scoring at least minScore against
// request, in index order (highest similarity first).
func (p *PineconeManager) FindSimilarTemplates(ctx context.Context, request string) ([]models.ScriptTemplate, error) {
	matches, err := p.query(ctx, request, nil)
	if err != nil {
		return nil, err
	}
	out := []models.ScriptTemplate{}
	for _, m := range matches {
		if m.Score < p.minScore {
			continue
		}
		out = append(out, fromMetadata(m.ID, m.Metadata))
	}
	return out, nil
}

func (p *PineconeManager) GetTemplates(ctx context.Context, category, query string) ([]models.ScriptTemplate, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		text = category
	}
	if text == "" {
		text = "automation script"
	}
	var filter map[string]interface{}
	if category != "" {
		filter = map[string]interface{}{"category": map[string]interface{}{"$eq": category}}
	}

	matches, err := p.query(ctx, text, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScriptTemplate, 0, len(matches))
	for _, m := range matches {
		out = append(out, fromMetadata(m.ID, m.Metadata))
	}
	return out, nil
}

func (p *PineconeManager) SaveTemplate(ctx context.Context, t models.ScriptTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	embedding, err := p.embedder.Embed(ctx, embeddingText(t))
	if err != nil {
		return fmt.Errorf("failed to create embedding: %w", err)
	}
	if err := utils.UpsertToPinecone(ctx, p.index, t.ID, embedding, toMetadata(t)); err != nil {
		return err
	}
	p.logger.Debug("Template stored", zap.String("id", t.ID), zap.String("name", t.Name))
	return nil
}

func (p *PineconeManager) query(ctx context.Context, text string, filter map[string]interface{}) ([]utils.PineconeMatch, error) {
	embedding, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return utils.QueryPinecone(ctx, p.index, embedding, p.topK, filter)
}

func embeddingText(t models.ScriptTemplate) string {
	return t.Name + "\n" + t.Description + "\n" + strings.Join(t.Tags, ", ")
}

func toMetadata(t models.ScriptTemplate) map[string]interface{} {
	return map[string]interface{}{
		"name":                 t.Name,
		"description":          t.Description,
		"category":             t.Category,
		"script":               t.Script,
		"tags":                 toList(t.Tags),
		"required_permissions": toList(t.RequiredPermissions),
		"type":                 "script_template",
	}
}

func fromMetadata(id string, md map[string]interface{}) models.ScriptTemplate {
	str := func(k string) string {
		s, _ := md[k].(string)
		return s
	}
	return models.ScriptTemplate{
		ID:                  id,
		Name:                str("name"),
		Description:         str("description"),
		Category:            str("category"),
		Script:              str("script"),
		Tags:                fromList(md["tags"]),
		RequiredPermissions: fromList(md["required_permissions"]),
	}
}

// structpb only accepts []interface{} for lists.
func toList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func fromList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
