package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	DatabaseURL      string
	NatsURL          string
	NatsToken        string
	LogLevel         string
	Provider         string
	AnthropicAPIKey  string
	AnthropicModel   string
	OpenAIAPIKey     string
	OpenAIModel      string
	RetrievalURL     string
	InferenceTimeout time.Duration
	RetrievalTimeout time.Duration
	Instructions     string
	MaxTokens        int
	HistoryLimit     int
}

func Load() Config {
	return Config{
		Port:             envInt("LEDGER_PORT", 8760),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		Provider:         envStr("LEDGER_PROVIDER", "anthropic"),
		AnthropicAPIKey:  envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   envStr("LEDGER_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIAPIKey:     envStr("OPENAI_API_KEY", ""),
		OpenAIModel:      envStr("LEDGER_OPENAI_MODEL", "gpt-4o-mini"),
		RetrievalURL:     envStr("RETRIEVAL_URL", ""),
		InferenceTimeout: envDur("LEDGER_INFERENCE_TIMEOUT", 120*time.Second),
		RetrievalTimeout: envDur("LEDGER_RETRIEVAL_TIMEOUT", 5*time.Second),
		Instructions:     envStr("LEDGER_INSTRUCTIONS", defaultInstructions),
		MaxTokens:        envInt("LEDGER_MAX_TOKENS", 4096),
		HistoryLimit:     envInt("LEDGER_HISTORY_LIMIT", 20),
	}
}

const defaultInstructions = `You are a careful assistant. Answer the user's latest message and reply with a single JSON object containing at least an "answer" field.`

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
