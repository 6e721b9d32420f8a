package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Perceptus-Labs/perceptus-agent/githubsync"
	"github.com/Perceptus-Labs/perceptus-agent/models"
)

type Config struct {
	Logger   LoggerConfig       `mapstructure:"logger"`
	Server   ServerConfig       `mapstructure:"server"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Cache    CacheConfig        `mapstructure:"cache"`
	History  HistoryConfig      `mapstructure:"history"`
	OpenAI   OpenAIConfig       `mapstructure:"openai"`
	Pinecone PineconeConfig     `mapstructure:"pinecone"`
	Deepgram DeepgramConfig     `mapstructure:"deepgram"`
	GitHub   githubsync.Config  `mapstructure:"github"`
	Agent    models.AgentConfig `mapstructure:"agent"`
	// AgentStorePath is where runtime model switches are persisted.
	AgentStorePath string `mapstructure:"agent_store_path"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type CacheConfig struct {
	Size     int           `mapstructure:"size"`
	TTL      time.Duration `mapstructure:"ttl"`
	RedisTTL time.Duration `mapstructure:"redis_ttl"`
}

type HistoryConfig struct {
	SessionLimit int `mapstructure:"session_limit"`
	MaxRecords   int `mapstructure:"max_records"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type PineconeConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	Index     string  `mapstructure:"index"`
	Namespace string  `mapstructure:"namespace"`
	TopK      int     `mapstructure:"top_k"`
	MinScore  float32 `mapstructure:"min_score"`
}

type DeepgramConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Language            string  `mapstructure:"language"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// Enabled reports whether the optional integrations are configured.
func (p PineconeConfig) Enabled() bool { return p.APIKey != "" && p.Index != "" }
func (d DeepgramConfig) Enabled() bool { return d.APIKey != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "perceptus-agent")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", 20*time.Second)

	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.redis_ttl", 24*time.Hour)

	v.SetDefault("history.session_limit", 20)
	v.SetDefault("history.max_records", 500)

	v.SetDefault("pinecone.namespace", "script-templates")
	v.SetDefault("pinecone.top_k", 5)
	v.SetDefault("pinecone.min_score", 0.8)

	v.SetDefault("deepgram.language", "en")
	v.SetDefault("deepgram.confidence_threshold", 0.3)

	v.SetDefault("github.branch", "main")
	v.SetDefault("github.dir", "scripts")

	v.SetDefault("agent.model_type", string(models.ModelTypeCloudAPI))
	v.SetDefault("agent_store_path", "agent-model.yaml")
}

// bindLegacyEnv keeps the plain environment variable names working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"redis.addr":       "REDIS_HOST",
		"redis.password":   "REDIS_PASSWORD",
		"openai.api_key":   "OPENAI_API_KEY",
		"pinecone.api_key": "PINECONE_API_KEY",
		"pinecone.index":   "PINECONE_INDEX",
		"deepgram.api_key": "DEEPGRAM_API_KEY",
		"github.token":     "GITHUB_TOKEN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "AGENT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Load reads configuration from path (or ./agent.yaml when path is empty),
// then AGENT_* environment variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Agent.APIKey == "" {
		cfg.Agent.APIKey = cfg.OpenAI.APIKey
	}
	return &cfg, nil
}
