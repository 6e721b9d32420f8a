package backend

import (
	"context"
	"fmt"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// ModelManager resolves registry model ids to clients.
type ModelManager interface {
	GetModelByID(id string) (models.ModelInfo, error)
	CreateClientForModel(m models.ModelInfo, apiKey string) (Client, error)
	TestModelConnection(ctx context.Context, m models.ModelInfo, apiKey string) models.ConnectionTestResult
}

type SelectionKind int

const (
	SelectRegistry SelectionKind = iota
	SelectCloud
	SelectLocal
	SelectCustom
	SelectInvalid
)

func (k SelectionKind) String() string {
	switch k {
	case SelectRegistry:
		return "registry"
	case SelectCloud:
		return "cloud"
	case SelectLocal:
		return "local"
	case SelectCustom:
		return "custom"
	default:
		return "invalid"
	}
}

// Selection is the backend choice derived from an AgentConfig.
type Selection struct {
	Kind    SelectionKind
	ModelID string
	APIKey  string
	BaseURL string
	Model   string
	Reason  string
}

// Select decides which backend a configuration asks for without building
// anything. A model id with an API key goes through the registry; otherwise
// the legacy model type decides.
func Select(cfg models.AgentConfig) Selection {
	if cfg.ModelID != "" && cfg.APIKey != "" {
		return Selection{Kind: SelectRegistry, ModelID: cfg.ModelID, APIKey: cfg.APIKey}
	}

	switch cfg.ModelType {
	case models.ModelTypeCloudAPI, "":
		return Selection{Kind: SelectCloud, APIKey: cfg.APIKey, BaseURL: cfg.APIURL, Model: cfg.ModelName}
	case models.ModelTypeLocalModel:
		return Selection{Kind: SelectLocal, BaseURL: cfg.APIURL, Model: cfg.ModelName}
	case models.ModelTypeCustom:
		return Selection{Kind: SelectCustom}
	default:
		return Selection{Kind: SelectInvalid, Reason: fmt.Sprintf("unknown model type %q", cfg.ModelType)}
	}
}

// Resolve builds the client for cfg. A custom selection resolves to a nil
// client and a nil error: it is an explicit unsupported state.
func Resolve(cfg models.AgentConfig, mm ModelManager) (Client, error) {
	sel := Select(cfg)
	switch sel.Kind {
	case SelectRegistry:
		if mm == nil {
			return nil, fmt.Errorf("model %q requested but no model manager is configured", sel.ModelID)
		}
		m, err := mm.GetModelByID(sel.ModelID)
		if err != nil {
			return nil, err
		}
		return mm.CreateClientForModel(m, sel.APIKey)
	case SelectCloud:
		return NewCloudClient(sel.APIKey, sel.BaseURL, sel.Model), nil
	case SelectLocal:
		return NewLocalClient(sel.BaseURL, sel.Model), nil
	case SelectCustom:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot resolve backend: %s", sel.Reason)
	}
}
