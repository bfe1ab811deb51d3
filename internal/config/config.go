// Package config loads service configuration from a YAML file with
// environment-variable fallback for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = "You are a helpful assistant for users of a " +
	"compute cluster. Answer questions about job submission, scheduling, " +
	"storage, and cluster tooling. Use the search_docs tool to look up " +
	"documentation before answering questions you are not certain about, " +
	"and cite the sources you used."

// Duration unmarshals from YAML strings like "30m" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level service configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	Model      ModelConfig     `yaml:"model"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Session    SessionConfig   `yaml:"session"`
	Chat       ChatConfig      `yaml:"chat"`
	Audit      AuditConfig     `yaml:"audit"`
	RateLimit  RateLimitConfig `yaml:"ratelimit"`
}

// ModelConfig configures the model backend.
type ModelConfig struct {
	Endpoint    string   `yaml:"endpoint"`
	APIKey      string   `yaml:"api_key"`
	Name        string   `yaml:"name"`
	Temperature float32  `yaml:"temperature"`
	TopP        float32  `yaml:"top_p"`
	MaxTokens   int      `yaml:"max_tokens"`
	Timeout     Duration `yaml:"timeout"`
}

// RetrievalConfig configures the document search service.
type RetrievalConfig struct {
	Endpoint string   `yaml:"endpoint"`
	TopK     int      `yaml:"top_k"`
	Timeout  Duration `yaml:"timeout"`
}

// SessionConfig configures session storage and credentials.
type SessionConfig struct {
	TTL         Duration `yaml:"ttl"`
	Secret      string   `yaml:"secret"`
	RedisAddr   string   `yaml:"redis_addr"`
	NonBlocking bool     `yaml:"non_blocking"`
}

// ChatConfig tunes the orchestration loop.
type ChatConfig struct {
	IterationCap       int    `yaml:"iteration_cap"`
	StreamDefault      bool   `yaml:"stream_default"`
	SystemPrompt       string `yaml:"system_prompt"`
	HistoryTokenBudget int    `yaml:"history_token_budget"`
}

// AuditConfig configures the interaction log.
type AuditConfig struct {
	DBPath string `yaml:"db_path"`
}

// RateLimitConfig configures request throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads the config file at path, or defaults-only when path is empty.
// Secrets fall back to OPENAI_API_KEY and SESSION_SECRET.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Session.Secret == "" {
		c.Session.Secret = os.Getenv("SESSION_SECRET")
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Model.Name == "" {
		c.Model.Name = "gpt-4o-mini"
	}
	if c.Model.Timeout <= 0 {
		c.Model.Timeout = Duration(120 * time.Second)
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.Timeout <= 0 {
		c.Retrieval.Timeout = Duration(10 * time.Second)
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = Duration(time.Hour)
	}
	if c.Chat.IterationCap <= 0 {
		c.Chat.IterationCap = 5
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = defaultSystemPrompt
	}
	if c.Chat.HistoryTokenBudget <= 0 {
		c.Chat.HistoryTokenBudget = 6000
	}
	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "clusterchat.db"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("session secret is required (session.secret or SESSION_SECRET)")
	}
	if c.Retrieval.Endpoint == "" {
		return errors.New("retrieval endpoint is required (retrieval.endpoint)")
	}
	return nil
}
