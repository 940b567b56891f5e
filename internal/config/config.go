package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Generation  GenerationConfig          `json:"generation"`
	Retrieval   RetrievalConfig           `json:"retrieval"`
	Usage       UsageConfig               `json:"usage"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type GenerationConfig struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxTokens      int    `json:"max_tokens"`
}

type RetrievalConfig struct {
	RelevanceThreshold float64 `json:"relevance_threshold"`
	MaxResults         int     `json:"max_results"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	EmbeddingModel     string  `json:"embedding_model"`
	Jurisdiction       string  `json:"jurisdiction"`
}

// PlanLimits caps a subscription plan's daily consumption.
type PlanLimits struct {
	DailyTokens  int64 `json:"daily_tokens"`
	DailyQueries int64 `json:"daily_queries"`
}

type UsageConfig struct {
	DefaultPlan string                `json:"default_plan"`
	Plans       map[string]PlanLimits `json:"plans"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if cfg.Generation.Provider == "" {
		return nil, fmt.Errorf("generation provider must be configured")
	}
	if _, ok := cfg.Providers[cfg.Generation.Provider]; !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.Generation.Provider)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.Workers <= 0 {
		c.BasicConfig.Workers = 4
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = 64
	}
	if c.Retrieval.RelevanceThreshold <= 0 {
		c.Retrieval.RelevanceThreshold = 0.65
	}
	if c.Retrieval.MaxResults <= 0 {
		c.Retrieval.MaxResults = 5
	}
	if c.Retrieval.TimeoutSeconds <= 0 {
		c.Retrieval.TimeoutSeconds = 10
	}
	if c.Retrieval.EmbeddingModel == "" {
		c.Retrieval.EmbeddingModel = "gemini-embedding-001"
	}
	if c.Retrieval.Jurisdiction == "" {
		c.Retrieval.Jurisdiction = "kenya"
	}
	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = 60
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 3000
	}
	if c.Usage.DefaultPlan == "" {
		c.Usage.DefaultPlan = "free"
	}
	if c.Usage.Plans == nil {
		c.Usage.Plans = map[string]PlanLimits{}
	}
	if _, ok := c.Usage.Plans[c.Usage.DefaultPlan]; !ok {
		c.Usage.Plans[c.Usage.DefaultPlan] = PlanLimits{DailyTokens: 20000, DailyQueries: 20}
	}
}
