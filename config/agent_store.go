package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// AgentStore persists the AgentConfig selected at runtime in a YAML file.
// When the file does not exist yet, Load returns the fallback.
type AgentStore struct {
	mu       sync.Mutex
	path     string
	fallback models.AgentConfig
}

func NewAgentStore(path string, fallback models.AgentConfig) *AgentStore {
	return &AgentStore{path: path, fallback: fallback}
}

func (s *AgentStore) Load(_ context.Context) (models.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return s.fallback, nil
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return models.AgentConfig{}, fmt.Errorf("failed to read agent config: %w", err)
	}

	var cfg models.AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return models.AgentConfig{}, fmt.Errorf("failed to decode agent config: %w", err)
	}
	return cfg, nil
}

func (s *AgentStore) Save(_ context.Context, cfg models.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("model_id", cfg.ModelID)
	v.Set("api_key", cfg.APIKey)
	v.Set("model_type", string(cfg.ModelType))
	v.Set("api_url", cfg.APIURL)
	v.Set("model_name", cfg.ModelName)

	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write agent config: %w", err)
	}
	return nil
}
