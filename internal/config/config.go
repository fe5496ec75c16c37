// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Extract    ExtractConfig    `yaml:"extract"`
	Auth       AuthConfig       `yaml:"auth"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host" validate:"required"`
	Port        int      `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig holds paths for the fragment database and keyword index.
type StorageConfig struct {
	DatabasePath     string  `yaml:"database_path" validate:"required"`
	KeywordIndexPath string  `yaml:"keyword_index_path"`
	MinScore         float64 `yaml:"min_score" validate:"gte=-1,lte=1"`
}

// EmbeddingConfig selects and configures the embedding service.
type EmbeddingConfig struct {
	Provider   string  `yaml:"provider" validate:"oneof=onnx http hash"`
	ModelPath  string  `yaml:"model_path"`
	Endpoint   string  `yaml:"endpoint" validate:"required_if=Provider http"`
	Model      string  `yaml:"model"`
	APIKey     string  `yaml:"api_key,omitempty"`
	Dimensions int     `yaml:"dimensions" validate:"gt=0"`
	MaxTokens  int     `yaml:"max_tokens" validate:"gt=2"`
	CacheSize  int     `yaml:"cache_size" validate:"gte=0"`
	RateLimit  float64 `yaml:"rate_limit" validate:"gte=0"`
	BatchSize  int     `yaml:"batch_size" validate:"gte=0"`
}

// CompletionConfig holds the chat-completion service settings.
type CompletionConfig struct {
	Endpoint    string        `yaml:"endpoint" validate:"required,url"`
	Model       string        `yaml:"model" validate:"required"`
	APIKey      string        `yaml:"api_key,omitempty"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gt=0"`
	Temperature *float64      `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit   float64       `yaml:"rate_limit" validate:"gte=0"`
	Referer     string        `yaml:"referer"`
	Title       string        `yaml:"title"`
}

// TemperatureOrDefault returns the sampling temperature; 0.4 when unset.
func (c *CompletionConfig) TemperatureOrDefault() float64 {
	if c.Temperature != nil {
		return *c.Temperature
	}
	return defaultTemperature
}

// RetrievalConfig holds query-time retrieval settings.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k" validate:"gt=0"`
	Hybrid         bool    `yaml:"hybrid"`
	KeywordWeight  float64 `yaml:"keyword_weight" validate:"gte=0"`
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0"`
}

// ChunkingConfig holds the fragment window settings.
type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap *int `yaml:"chunk_overlap" validate:"omitempty,gte=0"`
}

// OverlapOrDefault returns the configured overlap. When unset it is 200,
// reduced to a fifth of ChunkSize for windows of 200 runes or less.
func (c *ChunkingConfig) OverlapOrDefault() int {
	if c.ChunkOverlap != nil {
		return *c.ChunkOverlap
	}
	if c.ChunkSize <= defaultChunkOverlap {
		return c.ChunkSize / 5
	}
	return defaultChunkOverlap
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	Workers        int   `yaml:"workers" validate:"gt=0"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gt=0"`
}

// ExtractConfig restricts which file extensions are accepted. Empty means all.
type ExtractConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// AuthConfig configures the optional caller-identity layer.
type AuthConfig struct {
	MultiTenant    bool   `yaml:"multi_tenant"`
	IdentityHeader string `yaml:"identity_header" validate:"required_if=MultiTenant true"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	Recursive    *bool    `yaml:"recursive"`
	Owner        string   `yaml:"owner"`
	SyncExisting bool     `yaml:"sync_existing"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A missing file is not an error: the defaults are returned so the binary can run
// from environment configuration alone.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.KeywordIndexPath != "" {
		cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// SaveWatchDirectories replaces watch.directories in the config file at path
// and leaves every other key and comment as written. A missing file is created.
func SaveWatchDirectories(path string, dirs []string) error {
	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("failed to update config: top level of %s is not a mapping", path)
	}

	if dirs == nil {
		dirs = []string{}
	}
	var list yaml.Node
	if err := list.Encode(dirs); err != nil {
		return fmt.Errorf("failed to encode watch directories: %w", err)
	}
	setMappingValue(mappingChild(root, "watch"), "directories", &list)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// mappingChild returns the mapping stored under key in m, creating it when
// absent or not a mapping.
func mappingChild(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			if v.Kind != yaml.MappingNode {
				*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			}
			return v
		}
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
	return v
}

func setMappingValue(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}

// Validate checks field constraints after defaults and environment overrides
// have been applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if overlap := c.Chunking.OverlapOrDefault(); overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("invalid config: chunk_overlap %d must be less than chunk_size %d", overlap, c.Chunking.ChunkSize)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
