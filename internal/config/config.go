// Package config loads service configuration from a JSON file at an
// XDG-compatible path, with ASKGOPHER_* environment overrides.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Ollama    OllamaConfig
	Quota     QuotaConfig
	Memory    MemoryConfig
	Cache     CacheConfig
	Retrieval RetrievalConfig
	Evidence  EvidenceConfig
	Transport TransportConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// Token guards the HTTP API; empty disables auth (local use).
	Token string
}

type UpstreamConfig struct {
	APIKey string
	Model  string
	// RequestsPerSecond bounds outgoing completion calls; 0 disables
	// the proactive limiter.
	RequestsPerSecond float64
	// TimeoutSeconds bounds one completion request end to end.
	TimeoutSeconds int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type QuotaConfig struct {
	DailyCap int
	// ElevatedUsers is a comma-separated list of user IDs that bypass
	// the quota.
	ElevatedUsers string
}

type MemoryConfig struct {
	MaxTurns          int
	TokenBudget       int
	IdleExpiryMinutes int
}

type CacheConfig struct {
	MaxEntries int
	TTLMinutes int
}

type RetrievalConfig struct {
	TopK int
	// ContextBudget bounds combined chunk text in characters.
	ContextBudget int
	ChunkSize     int
}

type EvidenceConfig struct {
	Enabled bool
	// Repo is the GitHub repository to search, "owner/name".
	Repo  string
	Token string
}

type TransportConfig struct {
	MaxQuestionLen int
	MaxMessageLen  int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Upstream: UpstreamConfig{
			Model:             "anthropic/claude-sonnet-4",
			RequestsPerSecond: 2,
			TimeoutSeconds:    60,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Quota: QuotaConfig{
			DailyCap: 5,
		},
		Memory: MemoryConfig{
			MaxTurns:          20,
			TokenBudget:       3000,
			IdleExpiryMinutes: 30,
		},
		Cache: CacheConfig{
			MaxEntries: 512,
			TTLMinutes: 60,
		},
		Retrieval: RetrievalConfig{
			TopK:          4,
			ContextBudget: 6000,
			ChunkSize:     1200,
		},
		Transport: TransportConfig{
			MaxQuestionLen: 2000,
			MaxMessageLen:  3800,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ElevatedUserList splits the comma-separated elevated users setting.
func (c Config) ElevatedUserList() []string {
	if c.Quota.ElevatedUsers == "" {
		return nil
	}
	parts := strings.Split(c.Quota.ElevatedUsers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from the JSON config file and applies
// ASKGOPHER_* environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Upstream.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: upstream API key. Set it via ASKGOPHER_UPSTREAM_API_KEY or 'askgopher config set upstream.api_key'")
	}
	if cfg.Evidence.Enabled && cfg.Evidence.Repo == "" {
		return Config{}, fmt.Errorf("evidence lookups enabled but evidence.repo is not set")
	}

	return cfg, nil
}
