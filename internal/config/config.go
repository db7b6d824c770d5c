// Package config loads the server configuration from an optional YAML file,
// fills unset fields with defaults and applies environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
	ProviderArk      = "ark"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Reply    ReplyConfig    `yaml:"reply"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	// URI selects the thread store backend: bolt://, sqlite:// or mongodb://.
	URI string `yaml:"uri"`
}

type ReplyConfig struct {
	Provider     string        `yaml:"provider"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"system_prompt"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type providerDefaults struct {
	model     string
	baseURL   string
	apiKeyEnv string
}

var providers = map[string]providerDefaults{
	ProviderDeepSeek: {
		model:     "deepseek-chat",
		baseURL:   "https://api.deepseek.com",
		apiKeyEnv: "DEEPSEEK_API_KEY",
	},
	ProviderOpenAI: {
		model:     "gpt-4o-mini",
		baseURL:   "https://api.openai.com/v1",
		apiKeyEnv: "OPENAI_API_KEY",
	},
	ProviderArk: {
		baseURL:   "https://ark.cn-beijing.volces.com/api/v3",
		apiKeyEnv: "ARK_API_KEY",
	},
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost:5173",
			},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Reply: ReplyConfig{
			Provider:     ProviderDeepSeek,
			Timeout:      60 * time.Second,
			SystemPrompt: "You are a helpful assistant.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (when non-empty), merges defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "unmarshaling config file")
		}
	}

	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, errors.Wrap(err, "merging default config")
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := firstEnv("PORT", "SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = parseList(origins)
	}
	if uri := firstEnv("DATABASE_URI", "MONGODB_URI"); uri != "" {
		c.Database.URI = uri
	}

	if provider := os.Getenv("REPLY_PROVIDER"); provider != "" {
		c.Reply.Provider = provider
	}
	if model := os.Getenv("REPLY_MODEL"); model != "" {
		c.Reply.Model = model
	}
	if baseURL := os.Getenv("REPLY_BASE_URL"); baseURL != "" {
		c.Reply.BaseURL = baseURL
	}
	if apiKey := os.Getenv("REPLY_API_KEY"); apiKey != "" {
		c.Reply.APIKey = apiKey
	}
	if timeout := os.Getenv("REPLY_TIMEOUT"); timeout != "" {
		c.Reply.Timeout = parseDuration(timeout, c.Reply.Timeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

func (c *Config) normalize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	if c.Server.Port != "" && !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}

	c.Database.URI = strings.TrimSpace(c.Database.URI)
	c.Reply.Provider = strings.ToLower(strings.TrimSpace(c.Reply.Provider))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))

	defaults, ok := providers[c.Reply.Provider]
	if !ok {
		return
	}
	if c.Reply.Model == "" {
		c.Reply.Model = defaults.model
	}
	if c.Reply.BaseURL == "" {
		c.Reply.BaseURL = defaults.baseURL
	}
	if c.Reply.APIKey == "" {
		c.Reply.APIKey = os.Getenv(defaults.apiKeyEnv)
	}
}

func (c *Config) Validate() error {
	if c.Database.URI == "" {
		return errors.New("database connection string is required (set database.uri or DATABASE_URI)")
	}
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if _, ok := providers[c.Reply.Provider]; !ok {
		return errors.Errorf("unsupported reply provider: %s", c.Reply.Provider)
	}
	if c.Reply.Model == "" {
		return errors.Errorf("reply model is required for provider %s", c.Reply.Provider)
	}
	if c.Reply.APIKey == "" {
		return errors.Errorf("reply api key is required for provider %s", c.Reply.Provider)
	}
	if c.Reply.Timeout <= 0 {
		return errors.New("reply timeout must be positive")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.IdleTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server max body bytes must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return errors.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseDuration accepts Go durations ("90s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
