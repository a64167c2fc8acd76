// brdiagram turns a Business Requirements Document into Mermaid diagrams.
//
// Usage:
//
//	brdiagram run [--file path] [--text brd] [path-or-text]
//	brdiagram serve [--addr :8080]
//	brdiagram mcp
//	brdiagram history [--limit 20]
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string

	// parsedLevel is logLevel after PersistentPreRunE.
	parsedLevel slog.Level
)

var rootCmd = &cobra.Command{
	Use:   "brdiagram",
	Short: "Generate DFD, logic and ERD Mermaid diagrams from a BRD",
	Long: `brdiagram reads a Business Requirements Document (text, PDF, DOCX or XLSX),
extracts its processes, data flows, rules and entities with an LLM, and
writes a data-flow diagram, a decision flowchart and an entity-relationship
diagram as Mermaid markup, SVG and PDF.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// A missing .env is normal.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		parsedLevel = level
		logging.Init(level, logFormat)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given and applies environment overrides.
func loadConfig() (brdiagram.Config, error) {
	cfg := brdiagram.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = brdiagram.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}
