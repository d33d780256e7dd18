package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/pairprep/collab/clients/completion_client"
	"github.com/pairprep/collab/internal/collab/session"
)

// EnvConfig is the environment-sourced configuration.
type EnvConfig struct {
	Port            string `envconfig:"PORT" default:"8080"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	ConfigPath      string `envconfig:"CONFIG_PATH" default:"config.yaml"`
	NATSURL         string `envconfig:"NATS_URL"`
	AssistantAPIKey string `envconfig:"ASSISTANT_API_KEY"`
}

func loadEnvConfig() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &cfg, nil
}

// Config is the file-sourced tunables.
type Config struct {
	Session struct {
		GracePeriodSec    int `yaml:"grace_period_sec"`
		ExpectedOccupancy int `yaml:"expected_occupancy"`
	} `yaml:"session"`
	Assistant struct {
		BaseURL      string `yaml:"base_url"`
		Model        string `yaml:"model"`
		SystemPrompt string `yaml:"system_prompt"`
		TimeoutSec   int    `yaml:"timeout_sec"`
	} `yaml:"assistant"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// sessionConfig merges file values over the coordinator defaults.
func sessionConfig(cfg *Config) session.Config {
	out := session.DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Session.GracePeriodSec > 0 {
		out.GracePeriod = time.Duration(cfg.Session.GracePeriodSec) * time.Second
	}
	if cfg.Session.ExpectedOccupancy > 0 {
		out.ExpectedOccupancy = cfg.Session.ExpectedOccupancy
	}
	return out
}

// assistantConfig merges file values and the API key over the client
// defaults.
func assistantConfig(cfg *Config, apiKey string) completion_client.Config {
	out := completion_client.DefaultConfig()
	out.APIKey = apiKey
	if cfg == nil {
		return out
	}
	if cfg.Assistant.BaseURL != "" {
		out.BaseURL = cfg.Assistant.BaseURL
	}
	if cfg.Assistant.Model != "" {
		out.Model = cfg.Assistant.Model
	}
	if cfg.Assistant.SystemPrompt != "" {
		out.SystemPrompt = cfg.Assistant.SystemPrompt
	}
	if cfg.Assistant.TimeoutSec > 0 {
		out.Timeout = time.Duration(cfg.Assistant.TimeoutSec) * time.Second
	}
	return out
}
