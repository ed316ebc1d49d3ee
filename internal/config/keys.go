package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ASKGOPHER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "ASKGOPHER_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "upstream.api_key", typ: kString, env: "ASKGOPHER_UPSTREAM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.APIKey },
	},
	{
		key: "upstream.model", typ: kString, env: "ASKGOPHER_UPSTREAM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.Model },
	},
	{
		key: "upstream.requests_per_second", typ: kFloat, env: "ASKGOPHER_UPSTREAM_RPS",
		apply:   func(cfg *Config, v any) { cfg.Upstream.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Upstream.RequestsPerSecond },
	},
	{
		key: "upstream.timeout_seconds", typ: kInt, env: "ASKGOPHER_UPSTREAM_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Upstream.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Upstream.TimeoutSeconds },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ASKGOPHER_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "ASKGOPHER_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "quota.daily_cap", typ: kInt, env: "ASKGOPHER_QUOTA_DAILY_CAP",
		apply:   func(cfg *Config, v any) { cfg.Quota.DailyCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Quota.DailyCap },
	},
	{
		key: "quota.elevated_users", typ: kString, env: "ASKGOPHER_QUOTA_ELEVATED_USERS",
		apply:   func(cfg *Config, v any) { cfg.Quota.ElevatedUsers = v.(string) },
		extract: func(cfg Config) any { return cfg.Quota.ElevatedUsers },
	},
	{
		key: "memory.max_turns", typ: kInt, env: "ASKGOPHER_MEMORY_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxTurns },
	},
	{
		key: "memory.token_budget", typ: kInt, env: "ASKGOPHER_MEMORY_TOKEN_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Memory.TokenBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.TokenBudget },
	},
	{
		key: "memory.idle_expiry_minutes", typ: kInt, env: "ASKGOPHER_MEMORY_IDLE_EXPIRY_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Memory.IdleExpiryMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.IdleExpiryMinutes },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "ASKGOPHER_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "cache.ttl_minutes", typ: kInt, env: "ASKGOPHER_CACHE_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.TTLMinutes },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "ASKGOPHER_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.context_budget", typ: kInt, env: "ASKGOPHER_RETRIEVAL_CONTEXT_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ContextBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ContextBudget },
	},
	{
		key: "retrieval.chunk_size", typ: kInt, env: "ASKGOPHER_RETRIEVAL_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ChunkSize },
	},
	{
		key: "evidence.enabled", typ: kBool, env: "ASKGOPHER_EVIDENCE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Evidence.Enabled },
	},
	{
		key: "evidence.repo", typ: kString, env: "ASKGOPHER_EVIDENCE_REPO",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Repo = v.(string) },
		extract: func(cfg Config) any { return cfg.Evidence.Repo },
	},
	{
		key: "evidence.token", typ: kString, env: "ASKGOPHER_EVIDENCE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Evidence.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Evidence.Token },
	},
	{
		key: "transport.max_question_len", typ: kInt, env: "ASKGOPHER_TRANSPORT_MAX_QUESTION_LEN",
		apply:   func(cfg *Config, v any) { cfg.Transport.MaxQuestionLen = v.(int) },
		extract: func(cfg Config) any { return cfg.Transport.MaxQuestionLen },
	},
	{
		key: "transport.max_message_len", typ: kInt, env: "ASKGOPHER_TRANSPORT_MAX_MESSAGE_LEN",
		apply:   func(cfg *Config, v any) { cfg.Transport.MaxMessageLen = v.(int) },
		extract: func(cfg Config) any { return cfg.Transport.MaxMessageLen },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ASKGOPHER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "ASKGOPHER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if v, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse int from %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if v, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
