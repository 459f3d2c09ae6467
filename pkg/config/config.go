package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Retry policies accepted by SystemConfig.RetryPolicy.
const (
	// RetryPolicyFallback 依序嘗試模型清單，每個模型只打一次
	RetryPolicyFallback = "fallback"
	// RetryPolicyBackoff 對單一模型做指數退避重試
	RetryPolicyBackoff = "backoff"
)

// Config defines the global application configuration structure.
// It maps directly to config.json and holds business-level settings
// such as channel credentials and the LLM provider groups.
type Config struct {
	// Channels maps channel identifiers (e.g., "telegram", "web") to their
	// specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the ordered provider groups in raw JSON. The order of groups
	// and of models inside each group defines the model fallback list.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemInstruction overrides the built-in financial analyst persona.
	SystemInstruction string `json:"system_instruction,omitempty"`
}

// Validate ensures the configuration structure contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are stored in system.json and control the reliability
// and behaviour of the agent loop.
type SystemConfig struct {
	// MaxIterations bounds the number of model round-trips in one run.
	MaxIterations int `json:"max_iterations"`
	// RetryPolicy selects how capacity errors are handled: "fallback" walks
	// the model list once, "backoff" retries a single model with growing delays.
	RetryPolicy string `json:"retry_policy"`
	// FallbackCooldownMs is the pause before moving to the next model after a
	// capacity error.
	FallbackCooldownMs int `json:"fallback_cooldown_ms"`
	// FallbackModels optionally overrides the model order derived from the
	// provider groups in config.json.
	FallbackModels []string `json:"fallback_models,omitempty"`
	// MaxRetries is the attempt limit of the backoff policy.
	MaxRetries int `json:"max_retries"`
	// RetryBaseDelayMs is the first backoff delay; it doubles on every retry.
	RetryBaseDelayMs int `json:"retry_base_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for a single model request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is used when an ollama group has no base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// ParallelTools executes the tool calls of one model turn concurrently.
	// Results are still reported in request order.
	ParallelTools bool `json:"parallel_tools"`
	// StrictTools turns an unknown tool name into a run error instead of
	// silently skipping the call.
	StrictTools bool `json:"strict_tools"`
	// SurfaceIterationLimit emits a notice when the iteration cap is hit
	// without a final answer.
	SurfaceIterationLimit bool `json:"surface_iteration_limit"`
	// SessionDir is where per-session UI transcripts are persisted.
	// Empty disables persistence.
	SessionDir string `json:"session_dir"`
	// DebugCalls dumps every model request/response pair under debug/calls.
	DebugCalls bool `json:"debug_calls"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses are split.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// MarketSeed fixes the random-walk market generator. Zero uses the clock.
	MarketSeed uint64 `json:"market_seed"`
}

// DefaultMaxIterations is the agent loop cap when none is configured.
const DefaultMaxIterations = 5

// MaxRetriesLimit bounds max_retries of the backoff policy.
const MaxRetriesLimit = 10

// DefaultSystemConfig returns a SystemConfig initialized with safe defaults.
// It is used as a fallback when system.json is missing or corrupt, so the
// engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxIterations:         DefaultMaxIterations,
		RetryPolicy:           RetryPolicyFallback,
		FallbackCooldownMs:    1000,
		MaxRetries:            3,
		RetryBaseDelayMs:      1000,
		LLMTimeoutMs:          120000,
		OllamaDefaultURL:      "http://localhost:11434",
		SurfaceIterationLimit: true,
		SessionDir:            "data/sessions",
		LogLevel:              "info",
		TelegramMessageLimit:  4000,
	}
}

// Normalize clamps invalid values back to their defaults.
func (s *SystemConfig) Normalize() {
	def := DefaultSystemConfig()
	if s.MaxIterations <= 0 {
		s.MaxIterations = def.MaxIterations
	}
	s.RetryPolicy = strings.ToLower(strings.TrimSpace(s.RetryPolicy))
	if s.RetryPolicy != RetryPolicyFallback && s.RetryPolicy != RetryPolicyBackoff {
		s.RetryPolicy = def.RetryPolicy
	}
	if s.FallbackCooldownMs < 0 {
		s.FallbackCooldownMs = 0
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = def.MaxRetries
	}
	s.MaxRetries = min(s.MaxRetries, MaxRetriesLimit)
	if s.RetryBaseDelayMs < 0 {
		s.RetryBaseDelayMs = def.RetryBaseDelayMs
	}
	if s.LLMTimeoutMs < 0 {
		s.LLMTimeoutMs = 0
	}
	if s.TelegramMessageLimit <= 0 {
		s.TelegramMessageLimit = def.TelegramMessageLimit
	}
}

// FallbackCooldown returns FallbackCooldownMs as a duration.
func (s *SystemConfig) FallbackCooldown() time.Duration {
	return time.Duration(s.FallbackCooldownMs) * time.Millisecond
}

// RetryBaseDelay returns RetryBaseDelayMs as a duration.
func (s *SystemConfig) RetryBaseDelay() time.Duration {
	return time.Duration(s.RetryBaseDelayMs) * time.Millisecond
}

// LLMTimeout returns LLMTimeoutMs as a duration. Zero means no timeout.
func (s *SystemConfig) LLMTimeout() time.Duration {
	return time.Duration(s.LLMTimeoutMs) * time.Millisecond
}

// Load reads config.json (mandatory) and system.json (optional) from dir.
// Returns the loaded Config and SystemConfig, or an error if the app config fails.
func Load(dir string) (*Config, *SystemConfig, error) {
	appPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, LoadSystemConfig(filepath.Join(dir, "system.json")), nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig() // Parse failed, use defaults
	}

	cfg.Normalize()
	return cfg
}

// EnvAPIKey returns the environment fallback key for a provider type.
func EnvAPIKey(provider string) string {
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
