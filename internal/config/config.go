package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is the directive used when SYSTEM_PROMPT is unset.
const DefaultSystemPrompt = "Você é um assistente de WhatsApp prestativo. Responda em português de forma breve e cordial."

// Config contains all runtime settings for the relay.
type Config struct {
	Port             int           `envconfig:"PORT" default:"5678"`
	ShutdownTimeout  time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	MetricsNamespace string        `envconfig:"APP_METRICS_NAMESPACE" default:"relay"`
	AllowAnyOrigin   bool          `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	WebhookPath      string        `envconfig:"WEBHOOK_PATH" default:"teste.agente.codigo"`

	SystemPrompt  string `envconfig:"SYSTEM_PROMPT"`
	FallbackReply string `envconfig:"FALLBACK_REPLY"`

	MemoryMaxMessages    int      `envconfig:"MEMORY_MAX_MESSAGES" default:"16"`
	MemoryTTLSeconds     int64    `envconfig:"MEMORY_TTL_SECONDS" default:"0"`
	MemoryMaxPreferences int      `envconfig:"MEMORY_MAX_PREFERENCES" default:"5"`
	MemoryBackend        string   `envconfig:"MEMORY_BACKEND" default:"auto"`
	SQLitePath           string   `envconfig:"SQLITE_DB_PATH" default:"data/memory.db"`
	DatabaseURL          string   `envconfig:"DATABASE_URL"`
	PreferenceCache      bool     `envconfig:"MEMORY_PREFERENCE_CACHE" default:"true"`
	RememberKeywords     []string `envconfig:"MEMORY_REMEMBER_KEYWORDS" default:"lembrar"`
	ForgetKeywords       []string `envconfig:"MEMORY_FORGET_KEYWORDS" default:"esquecer"`

	LLMProvider      string        `envconfig:"LLM_PROVIDER" default:"auto"`
	AnthropicAPIKey  string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel   string        `envconfig:"ANTHROPIC_MODEL"`
	AnthropicBaseURL string        `envconfig:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey     string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel      string        `envconfig:"OPENAI_MODEL"`
	OpenAIBaseURL    string        `envconfig:"OPENAI_BASE_URL"`
	ModelMaxTokens   int64         `envconfig:"MODEL_MAX_TOKENS" default:"1024"`
	ModelTimeout     time.Duration `envconfig:"MODEL_TIMEOUT" default:"30s"`

	EvolutionBaseURL  string        `envconfig:"EVOLUTION_API_BASE_URL"`
	EvolutionToken    string        `envconfig:"EVOLUTION_API_TOKEN"`
	EvolutionInstance string        `envconfig:"EVOLUTION_INSTANCE"`
	EvolutionTimeout  time.Duration `envconfig:"EVOLUTION_SEND_TIMEOUT" default:"15s"`
	EvolutionAttempts int           `envconfig:"EVOLUTION_SEND_ATTEMPTS" default:"3"`
}

// Load reads environment variables, applies defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.SystemPrompt = strings.TrimSpace(c.SystemPrompt)
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	c.WebhookPath = strings.Trim(strings.TrimSpace(c.WebhookPath), "/")
	c.MemoryBackend = strings.ToLower(strings.TrimSpace(c.MemoryBackend))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.AnthropicAPIKey = strings.TrimSpace(c.AnthropicAPIKey)
	c.OpenAIAPIKey = strings.TrimSpace(c.OpenAIAPIKey)
	c.RememberKeywords = trimAll(c.RememberKeywords)
	c.ForgetKeywords = trimAll(c.ForgetKeywords)
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if c.WebhookPath == "" {
		return fmt.Errorf("WEBHOOK_PATH must not be empty")
	}
	if c.MemoryMaxMessages < 0 {
		return fmt.Errorf("MEMORY_MAX_MESSAGES must be >= 0")
	}
	if c.MemoryTTLSeconds < 0 {
		return fmt.Errorf("MEMORY_TTL_SECONDS must be >= 0")
	}
	if c.MemoryMaxPreferences <= 0 {
		return fmt.Errorf("MEMORY_MAX_PREFERENCES must be positive")
	}
	if c.ModelTimeout < 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be >= 0")
	}
	if c.EvolutionTimeout <= 0 {
		return fmt.Errorf("EVOLUTION_SEND_TIMEOUT must be positive")
	}
	if c.EvolutionAttempts < 1 {
		return fmt.Errorf("EVOLUTION_SEND_ATTEMPTS must be >= 1")
	}
	if len(c.RememberKeywords) == 0 || len(c.ForgetKeywords) == 0 {
		return fmt.Errorf("MEMORY_REMEMBER_KEYWORDS and MEMORY_FORGET_KEYWORDS must not be empty")
	}
	switch c.MemoryBackend {
	case "auto", "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported MEMORY_BACKEND: %s", c.MemoryBackend)
	}
	if c.MemoryBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("MEMORY_BACKEND=postgres requires DATABASE_URL")
	}
	switch c.LLMProvider {
	case "auto", "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// HasModelCredentials reports whether any model provider key is present.
func (c Config) HasModelCredentials() bool {
	return c.AnthropicAPIKey != "" || c.OpenAIAPIKey != ""
}

// MissingIntegrations lists unset integration variables. The relay still
// starts without them, in degraded mode.
func (c Config) MissingIntegrations() []string {
	var missing []string
	if !c.HasModelCredentials() && c.LLMProvider != "mock" {
		missing = append(missing, "OPENAI_API_KEY|ANTHROPIC_API_KEY")
	}
	for _, kv := range [][2]string{
		{"EVOLUTION_API_BASE_URL", c.EvolutionBaseURL},
		{"EVOLUTION_API_TOKEN", c.EvolutionToken},
		{"EVOLUTION_INSTANCE", c.EvolutionInstance},
	} {
		if strings.TrimSpace(kv[1]) == "" {
			missing = append(missing, kv[0])
		}
	}
	return missing
}

// WarnMissing logs unset integration variables once.
func (c Config) WarnMissing(log zerolog.Logger) {
	if missing := c.MissingIntegrations(); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("missing envs")
	}
}

// LogSummary records the effective configuration without secrets.
func (c Config) LogSummary(log zerolog.Logger) {
	log.Info().
		Int("port", c.Port).
		Str("webhook_path", c.WebhookPath).
		Str("memory_backend", c.MemoryBackend).
		Bool("postgres_dsn_present", c.DatabaseURL != "").
		Bool("preference_cache", c.PreferenceCache).
		Int("memory_max_messages", c.MemoryMaxMessages).
		Int64("memory_ttl_seconds", c.MemoryTTLSeconds).
		Int("memory_max_preferences", c.MemoryMaxPreferences).
		Str("llm_provider", c.LLMProvider).
		Dur("model_timeout", c.ModelTimeout).
		Msg("configuration loaded")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
