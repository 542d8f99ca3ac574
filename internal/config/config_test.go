package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveAPIKey(t *testing.T) {
	cases := []struct {
		candidate, fallback, want string
	}{
		{"", "fallback-key-123", "fallback-key-123"},
		{"short", "fallback-key-123", "fallback-key-123"},
		{"  sk-0123456789abc  ", "fallback-key-123", "sk-0123456789abc"},
		{"", "", ""},
	}
	for _, c := range cases {
		if got := ResolveAPIKey(c.candidate, c.fallback); got != c.want {
			t.Fatalf("ResolveAPIKey(%q, %q) = %q, want %q", c.candidate, c.fallback, got, c.want)
		}
	}
}

func TestLoadProfileDefaults(t *testing.T) {
	p, err := LoadProfile("")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Hybrid.TagWeight != 0.6 || p.Hybrid.SemanticWeight != 0.4 {
		t.Fatalf("unexpected default weights: %+v", p.Hybrid)
	}
	if p.Vector.TopK != 5 || p.Vector.Threshold != 0.1 {
		t.Fatalf("unexpected vector defaults: %+v", p.Vector)
	}
	if p.Decoder.MinShotsPerScene != 3 {
		t.Fatalf("min shots = %d", p.Decoder.MinShotsPerScene)
	}
}

func TestLoadProfileOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	body := "hybrid:\n  tag_weight: 1.0\n  semantic_weight: 1.0\nlexical_fallback: true\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Hybrid.TagWeight != 1.0 || p.Hybrid.SemanticWeight != 1.0 {
		t.Fatalf("weights not overridden: %+v", p.Hybrid)
	}
	if !p.LexicalFallback {
		t.Fatalf("lexical_fallback not set")
	}
	if p.Emotion.ExactScore != 0.8 {
		t.Fatalf("untouched section lost its default: %+v", p.Emotion)
	}
}

func TestLoadProfileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("vector:\n  threshold: 2\n"), 0644)
	if _, err := LoadProfile(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestInitConfigMergesSavedSettings(t *testing.T) {
	dir := t.TempDir()
	saved := `{"llm_provider":"openrouter","llm_config":{"api_key":"x","default_model":"m"}}`
	os.WriteFile(filepath.Join(dir, "config.json"), []byte(saved), 0644)

	err := InitConfig(&Config{DataDir: dir, LLMProvider: "glm", LLMAPIKey: "env-key-0123456789"})
	if err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	cfg := GetCurrentConfig()
	if cfg.LLMProvider != "openrouter" {
		t.Fatalf("provider = %q", cfg.LLMProvider)
	}
	if cfg.LLMConfig["api_key"] != "env-key-0123456789" {
		t.Fatalf("short saved key should fall back to env key, got %q", cfg.LLMConfig["api_key"])
	}
}
