package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Chat        ChatConfig                `json:"chat" yaml:"chat"`
	RateLimit   RateLimitConfig           `json:"rate_limit" yaml:"rate_limit"`
	Projects    ProjectsConfig            `json:"projects" yaml:"projects"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	FileBaseDir   string `json:"file_base_dir" yaml:"file_base_dir"`
	// UploadTTL is the lifetime of a pending upload in minutes.
	UploadTTL int `json:"upload_ttl" yaml:"upload_ttl"`
	// CleanInterval is how often stale pending files are swept, in minutes.
	CleanInterval int `json:"clean_interval" yaml:"clean_interval"`
	// StreamTimeout bounds a single generation call, in seconds.
	StreamTimeout int `json:"stream_timeout" yaml:"stream_timeout"`
	TokenTTLHours int `json:"token_ttl_hours" yaml:"token_ttl_hours"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// Stream settings for the event bus.
	ConsumerGroup string `json:"consumer_group" yaml:"consumer_group"`
	Consumer      string `json:"consumer" yaml:"consumer"`
}

type ProviderConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`
}

type ChatConfig struct {
	DefaultModel        string          `json:"default_model" yaml:"default_model"`
	DefaultSystemPrompt string          `json:"default_system_prompt" yaml:"default_system_prompt"`
	WebSearch           WebSearchConfig `json:"web_search" yaml:"web_search"`
}

type WebSearchConfig struct {
	Model string `json:"model" yaml:"model"`
	// Backends are tried in order: gemini, google, duckduckgo.
	Backends       []string `json:"backends" yaml:"backends"`
	GoogleAPIKey   string   `json:"google_api_key" yaml:"google_api_key"`
	GoogleEngineID string   `json:"google_engine_id" yaml:"google_engine_id"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int `json:"burst" yaml:"burst"`
}

type ProjectsConfig struct {
	RootDir string   `json:"root_dir" yaml:"root_dir"`
	Command []string `json:"command" yaml:"command"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"

	DefaultModel        = "claude-sonnet-4-5-20250929"
	DefaultSystemPrompt = "You are a helpful AI assistant. Be concise, accurate, and friendly. Format responses with markdown when appropriate."
	DefaultSearchModel  = "gemini-2.0-flash"
)

var providerKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.yaml).
// Files ending in .json are decoded as JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.resolvePaths(filepath.Dir(absPath))
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset values. Safe to call on a hand-built Config.
func (c *Config) ApplyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.FileBaseDir == "" {
		c.BasicConfig.FileBaseDir = "./data/uploads"
	}
	if c.BasicConfig.UploadTTL <= 0 {
		c.BasicConfig.UploadTTL = 60
	}
	if c.BasicConfig.CleanInterval <= 0 {
		c.BasicConfig.CleanInterval = 30
	}
	if c.BasicConfig.StreamTimeout <= 0 {
		c.BasicConfig.StreamTimeout = 300
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/llmchat.db"}
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Chat.DefaultModel == "" {
		c.Chat.DefaultModel = DefaultModel
	}
	if c.Chat.DefaultSystemPrompt == "" {
		c.Chat.DefaultSystemPrompt = DefaultSystemPrompt
	}
	if c.Chat.WebSearch.Model == "" {
		c.Chat.WebSearch.Model = DefaultSearchModel
	}
	if len(c.Chat.WebSearch.Backends) == 0 {
		c.Chat.WebSearch.Backends = []string{"gemini", "google", "duckduckgo"}
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 30
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if len(c.Projects.Command) == 0 {
		c.Projects.Command = []string{"claude", "-p", "--output-format", "text"}
	}
	if c.Redis.ConsumerGroup == "" {
		c.Redis.ConsumerGroup = "llmchat"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Provider returns the settings for a provider, or a zero value.
func (c *Config) Provider(name string) ProviderConfig {
	if c == nil || c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, env := range providerKeyEnv {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			p := c.Providers[name]
			p.APIKey = v
			c.Providers[name] = p
		}
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Chat.WebSearch.GoogleAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SEARCH_ENGINE_ID"); v != "" {
		c.Chat.WebSearch.GoogleEngineID = v
	}
}

func (c *Config) resolvePaths(base string) {
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(base, db.DSN)
		c.Databases["sqlite3"] = db
	}
	if c.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(c.BasicConfig.FileBaseDir) {
		c.BasicConfig.FileBaseDir = filepath.Join(base, c.BasicConfig.FileBaseDir)
	}
	if c.Projects.RootDir != "" && !filepath.IsAbs(c.Projects.RootDir) {
		c.Projects.RootDir = filepath.Join(base, c.Projects.RootDir)
	}
}
