package brdiagram

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.LLM.Model != "gpt-4o-mini" || cfg.LLM.Temperature != 0.2 {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if diff := cmp.Diff([]string{"function-calling", "react"}, cfg.Agent.Strategies); diff != "" {
		t.Errorf("strategies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brdiagram.yaml")
	data := `llm:
  provider: ollama
  model: llama3.1
  temperature: 0
output_dir: diagrams
agent:
  strategies: [react]
render:
  renderer: chrome
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	want.LLM.Provider = "ollama"
	want.LLM.Model = "llama3.1"
	want.LLM.Temperature = 0
	want.OutputDir = "diagrams"
	want.Agent.Strategies = []string{"react"}
	want.Render.Renderer = "chrome"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brdiagram.json")
	data := `{"concurrency": 1, "history": {"enabled": true, "db_path": "/tmp/h.db"}, "facts": {"validate": false}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Concurrency != 1 || !cfg.History.Enabled || cfg.History.DBPath != "/tmp/h.db" || cfg.Facts.Validate {
		t.Errorf("unexpected config: %+v", cfg)
	}
	// Untouched fields keep their defaults.
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want default", cfg.LLM.Model)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BRDIAGRAM_PROVIDER", "groq")
	t.Setenv("BRDIAGRAM_MODEL", "llama-3.3-70b")
	t.Setenv("BRDIAGRAM_TEMPERATURE", "0.7")
	t.Setenv("BRDIAGRAM_OUTPUT_DIR", "out")
	t.Setenv("BRDIAGRAM_HISTORY_DB", "/tmp/runs.db")
	t.Setenv("BRDIAGRAM_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	if cfg.LLM.Provider != "groq" || cfg.LLM.Model != "llama-3.3-70b" || cfg.LLM.Temperature != 0.7 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.OutputDir != "out" {
		t.Errorf("output dir = %q", cfg.OutputDir)
	}
	if !cfg.History.Enabled || cfg.History.DBPath != "/tmp/runs.db" {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.LLM.APIKey != "gsk-test" {
		t.Errorf("api key = %q, want the provider variable", cfg.LLM.APIKey)
	}
}

func TestApplyEnvExplicitKeyWins(t *testing.T) {
	t.Setenv("BRDIAGRAM_API_KEY", "explicit")
	t.Setenv("OPENAI_API_KEY", "fallback")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.LLM.APIKey != "explicit" {
		t.Errorf("api key = %q, want explicit", cfg.LLM.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no provider", func(c *Config) { c.LLM.Provider = "" }},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }},
		{"negative timeout", func(c *Config) { c.LLM.TimeoutSec = -1 }},
		{"no output dir", func(c *Config) { c.OutputDir = "" }},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"unknown strategy", func(c *Config) { c.Agent.Strategies = []string{"planner"} }},
		{"renderer", func(c *Config) { c.Render.Renderer = "kroki" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Render.Enabled = false
	cfg.Render.Renderer = "anything"
	if err := cfg.Validate(); err != nil {
		t.Errorf("renderer should not be checked when rendering is off: %v", err)
	}
}

func TestResolveDBPath(t *testing.T) {
	h := HistoryConfig{DBPath: "/data/h.db"}
	if got := h.resolveDBPath(); got != "/data/h.db" {
		t.Errorf("explicit path = %q", got)
	}
	h = HistoryConfig{StorageDir: "local"}
	if got := h.resolveDBPath(); got != "history.db" {
		t.Errorf("local path = %q", got)
	}
	h = HistoryConfig{}
	if got := h.resolveDBPath(); filepath.Base(got) != "history.db" {
		t.Errorf("home path = %q", got)
	}
}
