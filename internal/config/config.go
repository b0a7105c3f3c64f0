package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the demandcast server and CLI.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Signals  SignalsConfig
	Forecast ForecastConfig
	Tables   TablesConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	// ForecastRateLimitPerMinute is a separate budget for forecast generation.
	ForecastRateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LockTimeout bounds how long a writer waits for the per-key lock.
	LockTimeout time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Temperature      float32
	TopP             float32
	// Seed is forwarded to providers that accept one; zero leaves it unset.
	Seed             int
	OpenAI           OpenAIConfig
	VLLM             OpenAIConfig
	Ollama           OpenAIConfig
	Anthropic        AnthropicConfig
	Gemini           GeminiConfig
}

// OpenAIConfig configures any OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SignalsConfig configures the live tier of each contextual signal.
type SignalsConfig struct {
	OpenWeatherMap OpenWeatherMapConfig
	NewsAPI        NewsAPIConfig
	// Endpoints maps a signal kind to a generic JSON endpoint URL template.
	Endpoints map[string]string
	Timeout   time.Duration
	CacheTTL  time.Duration
	Synthesis bool
}

type OpenWeatherMapConfig struct {
	APIKey  string
	BaseURL string
}

type NewsAPIConfig struct {
	APIKey  string
	BaseURL string
}

type ForecastConfig struct {
	PredictionCount   int
	Timeout           time.Duration
	PctTolerance      float64
	DefaultConfidence float64
	AlertChangeThresh float64
}

// TablesConfig points at optional YAML overrides of the embedded reference tables.
type TablesConfig struct {
	RegistryPath string
	TaxonomyPath string
}

var validProviders = map[string]bool{
	"openai":    true,
	"vllm":      true,
	"ollama":    true,
	"anthropic": true,
	"gemini":    true,
}

// genericSignals are the kinds configurable through SIGNAL_<KIND>_URL.
var genericSignals = []string{"social", "hospital", "demographic", "market"}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := LoadUnvalidated()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated reads configuration without enforcing required values. The CLI uses
// it for commands that run without a database or cache.
func LoadUnvalidated() *Config {
	endpoints := make(map[string]string)
	for _, kind := range genericSignals {
		if v := os.Getenv("SIGNAL_" + strings.ToUpper(kind) + "_URL"); v != "" {
			endpoints[kind] = v
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:                       envInt("DEMANDCAST_PORT", 8080),
			Env:                        envString("DEMANDCAST_ENV", "development"),
			RateLimitPerMinute:         envInt("RATE_LIMIT_PER_MINUTE", 60),
			ForecastRateLimitPerMinute: envInt("FORECAST_RATE_LIMIT_PER_MINUTE", 10),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			LockTimeout:     envDuration("DATABASE_LOCK_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Temperature:      float32(envFloat("AI_TEMPERATURE", 0.7)),
			TopP:             float32(envFloat("AI_TOP_P", 0.9)),
			Seed:             envInt("AI_SEED", 0),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			VLLM: OpenAIConfig{
				APIKey:  os.Getenv("VLLM_API_KEY"),
				Model:   envString("VLLM_MODEL", ""),
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
			},
			Ollama: OpenAIConfig{
				Model:   envString("OLLAMA_MODEL", "llama3"),
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			},
			Anthropic: AnthropicConfig{
				APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
				Model:     envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL:   os.Getenv("ANTHROPIC_BASE_URL"),
				MaxTokens: envInt("ANTHROPIC_MAX_TOKENS", 8192),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.5-flash"),
				BaseURL: os.Getenv("GEMINI_BASE_URL"),
			},
		},
		Signals: SignalsConfig{
			OpenWeatherMap: OpenWeatherMapConfig{
				APIKey:  os.Getenv("OPENWEATHERMAP_API_KEY"),
				BaseURL: envString("OPENWEATHERMAP_BASE_URL", "https://api.openweathermap.org/data/2.5"),
			},
			NewsAPI: NewsAPIConfig{
				APIKey:  os.Getenv("NEWSAPI_API_KEY"),
				BaseURL: envString("NEWSAPI_BASE_URL", "https://newsapi.org/v2"),
			},
			Endpoints: endpoints,
			Timeout:   envDuration("SIGNAL_TIMEOUT", 10*time.Second),
			CacheTTL:  envDuration("SIGNAL_CACHE_TTL", 15*time.Minute),
			Synthesis: envBool("SIGNAL_SYNTHESIS", true),
		},
		Forecast: ForecastConfig{
			PredictionCount:   envInt("FORECAST_PREDICTION_COUNT", 10),
			Timeout:           envDuration("FORECAST_TIMEOUT", 120*time.Second),
			PctTolerance:      envFloat("FORECAST_PCT_TOLERANCE", 5),
			DefaultConfidence: envFloat("FORECAST_DEFAULT_CONFIDENCE", 0.65),
			AlertChangeThresh: envFloat("ALERT_CHANGE_THRESHOLD", 20),
		},
		Tables: TablesConfig{
			RegistryPath: os.Getenv("REGISTRY_PATH"),
			TaxonomyPath: os.Getenv("TAXONOMY_PATH"),
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := c.ValidateAI(); err != nil {
		return err
	}

	for kind, u := range c.Signals.Endpoints {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("SIGNAL_%s_URL must start with http:// or https://, got %q", strings.ToUpper(kind), u)
		}
	}

	if c.Forecast.PredictionCount < 1 || c.Forecast.PredictionCount > 50 {
		return fmt.Errorf("FORECAST_PREDICTION_COUNT must be between 1 and 50, got %d", c.Forecast.PredictionCount)
	}
	if c.Forecast.DefaultConfidence < 0 || c.Forecast.DefaultConfidence > 1 {
		return fmt.Errorf("FORECAST_DEFAULT_CONFIDENCE must be within [0, 1], got %v", c.Forecast.DefaultConfidence)
	}
	if c.Forecast.PctTolerance < 0 {
		return fmt.Errorf("FORECAST_PCT_TOLERANCE must not be negative, got %v", c.Forecast.PctTolerance)
	}

	return nil
}

// ValidateAI checks the inference provider settings only.
func (c *Config) ValidateAI() error {
	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, vllm, ollama, anthropic, gemini; got %q", c.AI.Provider)
	}

	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
		}
	case "vllm":
		if c.AI.VLLM.Model == "" {
			return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
		}
	case "anthropic":
		if c.AI.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
		}
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
		}
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
