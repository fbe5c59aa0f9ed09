// Package config assembles the process configuration from a YAML file
// overlaid with environment variables. Secrets (API keys, bot tokens,
// the credential encryption key) always come from the environment and
// override whatever the file carries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Messaging MessagingConfig `yaml:"messaging"`
	Providers ProvidersConfig `yaml:"providers"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Streaming StreamingConfig `yaml:"streaming"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// DatabaseConfig selects the Keyed Store backend. Driver is "postgres"
// or "sqlite"; Path applies to sqlite, URL to postgres.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	Path            string        `yaml:"path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MessagingConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// BaseURL overrides the Bot API endpoint, for self-hosted relays.
	BaseURL string `yaml:"base_url"`
	// AuthorizedChatID is the only chat whose messages are processed;
	// everyone else receives a rejection.
	AuthorizedChatID int64         `yaml:"authorized_chat_id"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
}

// ProvidersConfig holds one section per LLM provider adapter.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	// Ollama and LMStudio are OpenAI-compatible local endpoints; only
	// their base URLs are configurable.
	Ollama   ProviderConfig `yaml:"ollama"`
	LMStudio ProviderConfig `yaml:"lmstudio"`
	// Default names the provider used when an agent config leaves its
	// provider field empty.
	Default string `yaml:"default"`
}

// apiKeyEntry is one member of a <PROVIDER>_API_KEYS JSON group.
type apiKeyEntry struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// resolveProviderKey picks the provider's API key from the environment:
// the <PROVIDER>_API_KEYS JSON array selected by
// <PROVIDER>_ACTIVE_API_KEY_ID, falling back to the first entry, then
// to the legacy single-key <PROVIDER>_API_KEY variable.
func resolveProviderKey(prefix string) string {
	if raw := os.Getenv(prefix + "_API_KEYS"); raw != "" {
		var entries []apiKeyEntry
		if err := json.Unmarshal([]byte(raw), &entries); err == nil && len(entries) > 0 {
			if active := os.Getenv(prefix + "_ACTIVE_API_KEY_ID"); active != "" {
				for _, e := range entries {
					if e.ID == active {
						return e.Key
					}
				}
			}
			return entries[0].Key
		}
	}
	return os.Getenv(prefix + "_API_KEY")
}

type ProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LockDuration time.Duration `yaml:"lock_duration"`
}

type StreamingConfig struct {
	CacheEnabled    bool          `yaml:"cache_enabled"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	ChatTimeout     time.Duration `yaml:"chat_timeout"`
	MemberTimeout   time.Duration `yaml:"member_timeout"`
	LeaderTimeout   time.Duration `yaml:"leader_timeout"`
}

type SecurityConfig struct {
	// CredentialEncryptionKey is the process secret the credential
	// envelope key is derived from. Environment-only in practice.
	CredentialEncryptionKey string        `yaml:"credential_encryption_key"`
	ApprovalTimeout         time.Duration `yaml:"approval_timeout"`
	TerminalTimeout         time.Duration `yaml:"terminal_timeout"`
	CodeTimeout             time.Duration `yaml:"code_timeout"`
	MaxOutputBytes          int           `yaml:"max_output_bytes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "json" (production) or "text" (development).
	Format string `yaml:"format"`
}

// Default returns a Config with every knob at its stock value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "agentcore.db",
			MaxConnections:  10,
			ConnMaxLifetime: time.Hour,
		},
		Messaging: MessagingConfig{
			Telegram: TelegramConfig{PollTimeout: 25 * time.Second},
		},
		Providers: ProvidersConfig{
			Default: "anthropic",
			Anthropic: ProviderConfig{
				DefaultModel: "claude-sonnet-4-20250514",
				MaxRetries:   3,
				RetryDelay:   time.Second,
			},
			OpenAI: ProviderConfig{
				DefaultModel: "gpt-4o",
				MaxRetries:   3,
				RetryDelay:   time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			PollInterval: 10 * time.Second,
			LockDuration: 10 * time.Minute,
		},
		Streaming: StreamingConfig{
			CacheEnabled:    true,
			CacheTTL:        5 * time.Minute,
			CacheMaxEntries: 1000,
			ChatTimeout:     20 * time.Second,
			MemberTimeout:   45 * time.Second,
			LeaderTimeout:   70 * time.Second,
		},
		Security: SecurityConfig{
			ApprovalTimeout: 30 * time.Second,
			TerminalTimeout: 30 * time.Second,
			CodeTimeout:     60 * time.Second,
			MaxOutputBytes:  64 * 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (optional), overlays the environment, and validates.
// An empty path loads defaults plus environment only. When
// OPTIMAIZER_ENV_PATH names a file, its KEY=VALUE lines are loaded
// into the process environment first, without overriding variables
// already set.
func Load(path string) (*Config, error) {
	if envPath := os.Getenv("OPTIMAIZER_ENV_PATH"); envPath != "" {
		if err := loadEnvFile(envPath); err != nil {
			return nil, err
		}
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile reads KEY=VALUE lines (comments and blanks skipped) into
// the process environment. Existing variables win.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read env file %s: %w", path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, strings.Trim(strings.TrimSpace(value), `"`))
	}
	return nil
}

// applyEnv overlays environment variables onto the loaded file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		c.Server.CORSOrigin = v
	}
	if v := os.Getenv("OPTIMAIZER_DB_PATH"); v != "" {
		c.Database.Driver = "sqlite"
		c.Database.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.URL = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Messaging.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_API_BASE_URL"); v != "" {
		c.Messaging.Telegram.BaseURL = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Messaging.Telegram.AuthorizedChatID = id
		}
	}

	if v := resolveProviderKey("ANTHROPIC"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := resolveProviderKey("OPENAI"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Providers.Ollama.BaseURL = v
	}
	if v := os.Getenv("LMSTUDIO_BASE_URL"); v != "" {
		c.Providers.LMStudio.BaseURL = v
	}

	if v := os.Getenv("STREAM_CACHE_ENABLED"); v != "" {
		c.Streaming.CacheEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("STREAM_CACHE_TTL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Streaming.CacheTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("STREAM_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Streaming.CacheMaxEntries = n
		}
	}

	if v := os.Getenv("AGENT_CREDENTIALS_ENCRYPTION_KEY"); v != "" {
		c.Security.CredentialEncryptionKey = v
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("config: database.url is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("config: database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	return nil
}
