// Package main is the Kotae CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "kotae",
	Short: "Answer questions from your own documents",
	Long: `Kotae ingests documents (PDF, DOCX, XLSX, ODT, RTF, text), stores their
fragments with embeddings, and answers questions grounded in the most relevant
fragments using an OpenAI-compatible chat completion service.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serverCmd, ingestCmd, askCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads .env, then the config file, then environment overrides, and
// validates the result. When path is the default, config.yaml in the current
// directory wins if present. Returns the path that was actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, string, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug, cfg.LogLevel)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, resolved, logger, nil
}
