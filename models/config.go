package models

type ModelType string

const (
	ModelTypeCloudAPI   ModelType = "CLOUD_API"
	ModelTypeLocalModel ModelType = "LOCAL_MODEL"
	ModelTypeCustom     ModelType = "CUSTOM"
)

// AgentConfig selects the backend. ModelID and APIKey take precedence; the
// legacy ModelType/APIURL/ModelName fields are used when either is missing.
type AgentConfig struct {
	ModelID   string    `json:"model_id" mapstructure:"model_id" yaml:"model_id"`
	APIKey    string    `json:"-" mapstructure:"api_key" yaml:"api_key"`
	ModelType ModelType `json:"model_type" mapstructure:"model_type" yaml:"model_type"`
	APIURL    string    `json:"api_url" mapstructure:"api_url" yaml:"api_url"`
	ModelName string    `json:"model_name" mapstructure:"model_name" yaml:"model_name"`
}

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// ModelInfo is one entry of the model registry.
type ModelInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
	Endpoint string   `json:"endpoint"`
	Model    string   `json:"model"`
}

type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}
