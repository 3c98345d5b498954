package config

import (
	"encoding/json"
	"fmt"

	"github.com/farid/orbit/pkg/ai"
)

// Config represents the main Orbit configuration
type Config struct {
	// Agents directory holding YAML manifests
	AgentsDir string `json:"agents_dir" mapstructure:"agents_dir"`

	// Data directory for the database and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path file tools are confined to
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// AI configuration
	AI ai.Config `json:"ai" mapstructure:"ai"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Port    int    `json:"port" mapstructure:"port"`
	Host    string `json:"host" mapstructure:"host"`
}

// ToolsConfig holds tool policy and cache configuration
type ToolsConfig struct {
	ApprovedRisk     string  `json:"approved_risk" mapstructure:"approved_risk"` // low, medium, high
	DailyCostLimit   float64 `json:"daily_cost_limit" mapstructure:"daily_cost_limit"`
	MonthlyCostLimit float64 `json:"monthly_cost_limit" mapstructure:"monthly_cost_limit"`
	CacheTTLSeconds  int     `json:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AgentsDir: "",
		DataDir:   "",
		Gateway: GatewayConfig{
			Enabled: true,
			Port:    8080,
			Host:    "0.0.0.0",
		},
		Tools: ToolsConfig{
			ApprovedRisk:     "medium",
			DailyCostLimit:   10,
			MonthlyCostLimit: 100,
			CacheTTLSeconds:  300,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		AI: ai.Config{
			Primary: ai.ProviderConfig{Kind: "ollama"},
			Models: ai.TierModels{
				Fast:      "llama3.2",
				Smart:     "llama3.1:70b",
				Default:   "llama3.2",
				Embedding: "nomic-embed-text",
			},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Enabled {
		if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
	}

	switch c.Tools.ApprovedRisk {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid approved risk level: %s (must be: low, medium, high)", c.Tools.ApprovedRisk)
	}
	if c.Tools.DailyCostLimit < 0 || c.Tools.MonthlyCostLimit < 0 {
		return fmt.Errorf("cost limits must not be negative")
	}

	if c.AI.Primary.Kind == "" {
		return fmt.Errorf("ai primary provider kind is required")
	}
	providers := append([]ai.ProviderConfig{c.AI.Primary}, c.AI.Fallbacks...)
	if c.AI.Smart != nil {
		providers = append(providers, *c.AI.Smart)
	}
	for _, p := range providers {
		switch p.Kind {
		case "openai", "anthropic", "gemini", "ollama", "grok":
		default:
			return fmt.Errorf("invalid provider kind: %s (must be: openai, anthropic, gemini, ollama, grok)", p.Kind)
		}
	}

	if c.AI.Models.Default == "" {
		return fmt.Errorf("ai default model is required")
	}

	return nil
}
