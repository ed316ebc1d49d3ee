package config

import (
	"strconv"
	"strings"
	"testing"
)

// memBackend is an in-memory Backend for tests.
type memBackend struct {
	data map[string]string
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m *memBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *memBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func TestLoadRequiresAPIKey(t *testing.T) {
	_, err := loadWith(&memBackend{data: map[string]string{}})
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("err = %v, want missing API key", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(&memBackend{data: map[string]string{
		"upstream.api_key": "sk-test",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Port = %d, want default 4600", cfg.Server.Port)
	}
	if cfg.Quota.DailyCap != 5 {
		t.Errorf("DailyCap = %d, want default 5", cfg.Quota.DailyCap)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("TimeoutSeconds = %d, want default 60", cfg.Upstream.TimeoutSeconds)
	}
}

func TestLoadUpstreamTimeoutOverride(t *testing.T) {
	cfg, err := loadWith(&memBackend{data: map[string]string{
		"upstream.api_key":         "sk-test",
		"upstream.timeout_seconds": "120",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Upstream.TimeoutSeconds != 120 {
		t.Errorf("TimeoutSeconds = %d, want 120", cfg.Upstream.TimeoutSeconds)
	}
}

func TestLoadBackendOverridesDefaults(t *testing.T) {
	cfg, err := loadWith(&memBackend{data: map[string]string{
		"upstream.api_key": "sk-test",
		"server.port":      "9999",
		"quota.daily_cap":  "10",
		"evidence.enabled": "true",
		"evidence.repo":    "owner/repo",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Quota.DailyCap != 10 {
		t.Errorf("overrides not applied: port=%d cap=%d", cfg.Server.Port, cfg.Quota.DailyCap)
	}
	if !cfg.Evidence.Enabled || cfg.Evidence.Repo != "owner/repo" {
		t.Errorf("evidence = %+v", cfg.Evidence)
	}
}

func TestLoadEnvOverridesBackend(t *testing.T) {
	t.Setenv("ASKGOPHER_SERVER_PORT", "7777")
	t.Setenv("ASKGOPHER_UPSTREAM_API_KEY", "sk-env")

	cfg, err := loadWith(&memBackend{data: map[string]string{
		"upstream.api_key": "sk-file",
		"server.port":      "9999",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want env value 7777", cfg.Server.Port)
	}
	if cfg.Upstream.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want env value", cfg.Upstream.APIKey)
	}
}

func TestLoadEvidenceEnabledNeedsRepo(t *testing.T) {
	_, err := loadWith(&memBackend{data: map[string]string{
		"upstream.api_key": "sk-test",
		"evidence.enabled": "true",
	}})
	if err == nil || !strings.Contains(err.Error(), "evidence.repo") {
		t.Errorf("err = %v, want evidence.repo error", err)
	}
}

func TestElevatedUserList(t *testing.T) {
	cfg := Config{Quota: QuotaConfig{ElevatedUsers: "alice, bob,,carol "}}
	got := cfg.ElevatedUserList()
	if len(got) != 3 || got[0] != "alice" || got[1] != "bob" || got[2] != "carol" {
		t.Errorf("ElevatedUserList = %v", got)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Upstream.APIKey = "sk-secret"
	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "sk-secret") {
			t.Errorf("secret leaked in key %s", info.Key)
		}
		if info.Key == "upstream.api_key" {
			t.Error("secret key listed")
		}
	}
}
