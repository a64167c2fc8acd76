package brdiagram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/brdiagram/agent"
	"github.com/brunobiangulo/brdiagram/llm"
)

// Config holds all configuration for a Pipeline.
type Config struct {
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// OutputDir receives <kind>.mmd, <kind>.svg and <kind>.pdf.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Concurrency bounds parallel synthesizer calls in the direct pipeline.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	Agent   AgentConfig   `json:"agent" yaml:"agent"`
	Render  RenderConfig  `json:"render" yaml:"render"`
	Facts   FactsConfig   `json:"facts" yaml:"facts"`
	History HistoryConfig `json:"history" yaml:"history"`
}

// LLMConfig configures the generative text service.
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // openai, openrouter, groq, xai, gemini, ollama, lmstudio, custom
	Model       string  `json:"model" yaml:"model"`
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TimeoutSec  int     `json:"timeout_sec" yaml:"timeout_sec"` // per attempt
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"` // transient failures only; negative disables
}

// AgentConfig selects and bounds the tool-calling strategy. An empty
// Strategies list disables it and every run uses the direct pipeline.
type AgentConfig struct {
	Strategies       []string `json:"strategies" yaml:"strategies"`
	MaxTurns         int      `json:"max_turns" yaml:"max_turns"`
	MaxParseFailures int      `json:"max_parse_failures" yaml:"max_parse_failures"`
}

// RenderConfig controls the image and document steps.
type RenderConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Renderer         string `json:"renderer" yaml:"renderer"` // ink or chrome
	InkBaseURL       string `json:"ink_base_url" yaml:"ink_base_url"`
	MermaidScriptURL string `json:"mermaid_script_url" yaml:"mermaid_script_url"`
	ConvertPDF       bool   `json:"convert_pdf" yaml:"convert_pdf"`
	TimeoutSec       int    `json:"timeout_sec" yaml:"timeout_sec"`
}

// FactsConfig controls validation of extracted facts.
type FactsConfig struct {
	Validate bool `json:"validate" yaml:"validate"`
}

// HistoryConfig controls the SQLite run history.
type HistoryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DBPath is the full path to the database file. If empty, the file is
	// history.db under ~/.brdiagram/ ("home", the default) or the working
	// directory ("local"), per StorageDir.
	DBPath     string `json:"db_path" yaml:"db_path"`
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`
}

// DefaultConfig returns a Config for the OpenAI API with gpt-4o-mini at
// temperature 0.2, writing to ./output.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			TimeoutSec:  90,
			MaxRetries:  2,
		},
		OutputDir:   "output",
		Concurrency: 3,
		Agent: AgentConfig{
			Strategies:       []string{"function-calling", "react"},
			MaxTurns:         10,
			MaxParseFailures: 3,
		},
		Render: RenderConfig{
			Enabled:    true,
			Renderer:   "ink",
			ConvertPDF: true,
			TimeoutSec: 30,
		},
		Facts:   FactsConfig{Validate: true},
		History: HistoryConfig{StorageDir: "home"},
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON config file on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BRDIAGRAM_* environment variables. When no
// API key is configured, the provider's conventional variable (for example
// OPENAI_API_KEY) is used.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("BRDIAGRAM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("BRDIAGRAM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("BRDIAGRAM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("BRDIAGRAM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("BRDIAGRAM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.Temperature = f
		}
	}
	if v := os.Getenv("BRDIAGRAM_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("BRDIAGRAM_RENDERER"); v != "" {
		c.Render.Renderer = v
	}
	if v := os.Getenv("BRDIAGRAM_HISTORY_DB"); v != "" {
		c.History.Enabled = true
		c.History.DBPath = v
	}

	// Fallback: well-known provider env vars for API keys.
	if c.LLM.APIKey == "" {
		if name := llm.KeyEnvVar(c.LLM.Provider); name != "" {
			c.LLM.APIKey = os.Getenv(name)
		}
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.LLM.Provider == "":
		return fmt.Errorf("%w: llm.provider is required", ErrInvalidConfig)
	case c.LLM.Temperature < 0 || c.LLM.Temperature > 2:
		return fmt.Errorf("%w: llm.temperature must be within [0, 2], got %v", ErrInvalidConfig, c.LLM.Temperature)
	case c.LLM.TimeoutSec < 0:
		return fmt.Errorf("%w: llm.timeout_sec must not be negative", ErrInvalidConfig)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	case c.Agent.MaxTurns < 0 || c.Agent.MaxParseFailures < 0:
		return fmt.Errorf("%w: agent limits must not be negative", ErrInvalidConfig)
	}

	if _, err := agent.ConstructorsByName(c.Agent.Strategies); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Render.Enabled {
		switch c.Render.Renderer {
		case "ink", "chrome":
		default:
			return fmt.Errorf("%w: render.renderer must be ink or chrome, got %q", ErrInvalidConfig, c.Render.Renderer)
		}
	}
	return nil
}

func (c *LLMConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// HistoryDBPath returns the run history database path.
func (c *Config) HistoryDBPath() string {
	return c.History.resolveDBPath()
}

// resolveDBPath computes the history database path.
func (h *HistoryConfig) resolveDBPath() string {
	if h.DBPath != "" {
		return h.DBPath
	}

	switch h.StorageDir {
	case "local", "cwd":
		return "history.db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return "history.db" // fallback to cwd
		}
		return filepath.Join(home, ".brdiagram", "history.db")
	}
}
