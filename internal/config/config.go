// Package config loads deskchat configuration from the environment, an
// optional .env file, and an optional YAML config file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLM provider names.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Backend endpoints
	ServerURL   string `yaml:"server_url"`
	RealtimeURL string `yaml:"realtime_url"`
	AuthToken   string `yaml:"auth_token"`
	TokenFile   string `yaml:"token_file"`

	// Server listen address (reference backend)
	ListenAddr string `yaml:"listen_addr"`

	// Message store (reference backend): "memory" or "surrealdb"
	StoreBackend       string `yaml:"store_backend"`
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`

	// Assistant completion (reference backend)
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	BedrockRegion   string `yaml:"bedrock_region"`

	// Presence
	TypingTTL time.Duration `yaml:"typing_ttl"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration: .env first (if present), then environment
// variables over built-in defaults, then an optional YAML file named by
// DESKCHAT_CONFIG layered underneath the environment.
func Load() Config {
	// Missing .env is fine; only explicit files matter.
	_ = godotenv.Load()

	cfg := Config{
		ServerURL:   getEnv("DESKCHAT_SERVER_URL", "http://localhost:8585"),
		RealtimeURL: getEnv("DESKCHAT_REALTIME_URL", "ws://localhost:8585/chat/ws"),
		AuthToken:   getEnv("DESKCHAT_TOKEN", ""),
		TokenFile:   getEnv("DESKCHAT_TOKEN_FILE", defaultTokenFile()),

		ListenAddr: getEnv("DESKCHAT_LISTEN", ":8585"),

		StoreBackend:       getEnv("DESKCHAT_STORE", "memory"),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "deskchat"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),

		LLMProvider:     getEnv("DESKCHAT_LLM_PROVIDER", ProviderOllama),
		LLMModel:        getEnv("DESKCHAT_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		BedrockRegion:   getEnv("AWS_REGION", "us-east-1"),

		TypingTTL: getEnvDuration("DESKCHAT_TYPING_TTL", 3500*time.Millisecond),

		LogFile:  getEnv("DESKCHAT_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("DESKCHAT_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("DESKCHAT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			slog.Warn("config file ignored", "path", path, "error", err)
		}
	}

	return cfg
}

// applyFile layers a YAML file underneath the already-loaded values:
// only keys the environment left untouched are overridden.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	overlay := func(dst *string, src, envKey string) {
		if src != "" && os.Getenv(envKey) == "" {
			*dst = src
		}
	}

	overlay(&c.ServerURL, file.ServerURL, "DESKCHAT_SERVER_URL")
	overlay(&c.RealtimeURL, file.RealtimeURL, "DESKCHAT_REALTIME_URL")
	overlay(&c.AuthToken, file.AuthToken, "DESKCHAT_TOKEN")
	overlay(&c.ListenAddr, file.ListenAddr, "DESKCHAT_LISTEN")
	overlay(&c.StoreBackend, file.StoreBackend, "DESKCHAT_STORE")
	overlay(&c.SurrealDBURL, file.SurrealDBURL, "SURREALDB_URL")
	overlay(&c.SurrealDBNamespace, file.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	overlay(&c.SurrealDBDatabase, file.SurrealDBDatabase, "SURREALDB_DATABASE")
	overlay(&c.LLMProvider, file.LLMProvider, "DESKCHAT_LLM_PROVIDER")
	overlay(&c.LLMModel, file.LLMModel, "DESKCHAT_LLM_MODEL")
	overlay(&c.OllamaHost, file.OllamaHost, "OLLAMA_HOST")
	overlay(&c.LogFile, file.LogFile, "DESKCHAT_LOG_FILE")

	if file.TypingTTL > 0 && os.Getenv("DESKCHAT_TYPING_TTL") == "" {
		c.TypingTTL = file.TypingTTL
	}

	return nil
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.deskchat/token"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
