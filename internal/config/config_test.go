package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidatesExceptCredentials(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("defaults without credentials must not validate")
	}
	cfg.Account.Email = "a@b.c"
	cfg.Account.Password = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with credentials should validate: %v", err)
	}
}

func TestValidateRejectsBadQuietHour(t *testing.T) {
	cfg := Default()
	cfg.Account.Email = "a@b.c"
	cfg.Account.Password = "pw"
	cfg.Bot.QuietHours = []int{24}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("hour 24 must be rejected")
	}
}

func TestResolveLLMNewBlock(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{Enabled: true, Provider: "openrouter", APIKey: "k"}
	r, ok := cfg.ResolveLLM()
	if !ok {
		t.Fatalf("expected a resolved config")
	}
	if r.Provider != "openai_compatible" || r.Source != "openrouter" {
		t.Fatalf("alias mapping: %+v", r)
	}
	if r.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("base url default: %q", r.BaseURL)
	}
	if r.Model == "" {
		t.Fatalf("expected a default model for the alias")
	}
	if r.Legacy {
		t.Fatalf("new block must not be flagged legacy")
	}
}

func TestResolveLLMLegacyGeminiBlock(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{}
	cfg.Gemini = &GeminiConfig{Enabled: true, APIKey: "legacy-key"}
	r, ok := cfg.ResolveLLM()
	if !ok {
		t.Fatalf("legacy block should resolve")
	}
	if !r.Legacy || r.Provider != "gemini" || r.APIKey != "legacy-key" {
		t.Fatalf("legacy resolution: %+v", r)
	}
	if r.Model != "gemini-1.5-flash" {
		t.Fatalf("legacy default model: %q", r.Model)
	}
}

func TestResolveLLMNewOverridesLegacy(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{Enabled: true, Provider: "anthropic", APIKey: "new-key"}
	cfg.Gemini = &GeminiConfig{Enabled: true, APIKey: "legacy-key"}
	r, ok := cfg.ResolveLLM()
	if !ok {
		t.Fatalf("expected a resolved config")
	}
	if r.Provider != "anthropic" || r.APIKey != "new-key" || r.Legacy {
		t.Fatalf("new block must win: %+v", r)
	}
}

func TestResolveLLMMissingKey(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{Enabled: true, Provider: "openai"}
	if _, ok := cfg.ResolveLLM(); ok {
		t.Fatalf("enabled block without a key must not resolve")
	}
}

func TestResolveLLMNothingConfigured(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{}
	if _, ok := cfg.ResolveLLM(); ok {
		t.Fatalf("no llm configuration should resolve to nothing")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatseek.yaml")
	cfg := Default()
	cfg.Account.Email = "file@example.com"
	cfg.Account.Password = "filepw"
	cfg.Search.City = "Berlin"
	cfg.Search.Districts = []string{"Moabit", "Wedding"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Search.City != "Berlin" || len(got.Search.Districts) != 2 {
		t.Fatalf("search config lost: %+v", got.Search)
	}
	if got.Account.Email != "file@example.com" {
		t.Fatalf("email = %q", got.Account.Email)
	}
	if got.Protocol.Endpoints.Login != "sessions" {
		t.Fatalf("defaults not preserved through round trip: %+v", got.Protocol.Endpoints)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatseek.yaml")
	cfg := Default()
	cfg.Account.Email = "file@example.com"
	cfg.Account.Password = "filepw"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("FLATSEEK_EMAIL", "env@example.com")
	t.Setenv("FLATSEEK_LLM_API_KEY", "env-llm-key")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Account.Email != "env@example.com" {
		t.Fatalf("env must override the file, got %q", got.Account.Email)
	}
	if got.Account.Password != "filepw" {
		t.Fatalf("unset env must leave the file value, got %q", got.Account.Password)
	}
	if got.LLM.APIKey != "env-llm-key" {
		t.Fatalf("llm key from env: %q", got.LLM.APIKey)
	}
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatseek.yaml")
	partial := []byte("search:\n  city: München\n  maxRent: 900\n")
	if err := os.WriteFile(path, partial, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Search.City != "München" || got.Search.MaxRent != 900 {
		t.Fatalf("overrides not applied: %+v", got.Search)
	}
	if got.Bot.IntervalMinutes != 5 || got.Protocol.BaseURL == "" {
		t.Fatalf("unset sections must keep defaults: %+v", got.Bot)
	}
}
