package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
completion:
  model: "mistral-small"
  timeout: 15s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Completion.Model != "mistral-small" {
		t.Errorf("model = %q", cfg.Completion.Model)
	}
	if cfg.Completion.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", cfg.Completion.Timeout)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_missingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.OverlapOrDefault() != 200 {
		t.Errorf("chunking = %+v, want 1000/200", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("top_k = %d, want 8", cfg.Retrieval.TopK)
	}
	if cfg.Completion.MaxTokens != 350 {
		t.Errorf("max_tokens = %d, want 350", cfg.Completion.MaxTokens)
	}
	if got := cfg.Completion.TemperatureOrDefault(); got != 0.4 {
		t.Errorf("temperature = %v, want 0.4", got)
	}
	if cfg.Completion.Timeout != 60*time.Second {
		t.Errorf("timeout = %v, want 60s", cfg.Completion.Timeout)
	}
	if cfg.Completion.Endpoint != "https://openrouter.ai/api/v1/chat/completions" {
		t.Errorf("endpoint = %q", cfg.Completion.Endpoint)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Auth.IdentityHeader != "X-Authenticated-User" {
		t.Errorf("identity header = %q", cfg.Auth.IdentityHeader)
	}
	if !filepath.IsAbs(cfg.Storage.DatabasePath) {
		t.Errorf("database path should be absolute, got %q", cfg.Storage.DatabasePath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_explicitZeroTemperature(t *testing.T) {
	path := writeConfig(t, `
completion:
  temperature: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Completion.TemperatureOrDefault(); got != 0 {
		t.Errorf("temperature = %v, want 0", got)
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/fragments.db"
watch:
  directories: ["./inbox"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "fragments.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %q, want %q", cfg.Storage.DatabasePath, wantDB)
	}
	wantWatch := filepath.Join(dir, "inbox")
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch.directories = %v, want [%q]", cfg.Watch.Directories, wantWatch)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestLoad_hybridGetsKeywordIndexPath(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  hybrid: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.KeywordIndexPath == "" {
		t.Error("keyword_index_path should default when hybrid is on")
	}
	if cfg.Retrieval.KeywordWeight != 0.3 || cfg.Retrieval.SemanticWeight != 0.7 {
		t.Errorf("weights = %v/%v", cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"overlap equals size", func(c *Config) { c.Chunking.ChunkOverlap = intPtr(c.Chunking.ChunkSize) }, true},
		{"overlap exceeds size", func(c *Config) { c.Chunking.ChunkSize = 100; c.Chunking.ChunkOverlap = intPtr(150) }, true},
		{"negative overlap", func(c *Config) { c.Chunking.ChunkOverlap = intPtr(-1) }, true},
		{"zero overlap", func(c *Config) { c.Chunking.ChunkOverlap = intPtr(0) }, false},
		{"small size with default overlap", func(c *Config) { c.Chunking.ChunkSize = 150 }, false},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }, true},
		{"http provider without endpoint", func(c *Config) { c.Embedding.Provider = "http" }, true},
		{"http provider with endpoint", func(c *Config) {
			c.Embedding.Provider = "http"
			c.Embedding.Endpoint = "http://localhost:9000/v1/embeddings"
		}, false},
		{"bad completion endpoint", func(c *Config) { c.Completion.Endpoint = "not a url" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"multi-tenant without header", func(c *Config) {
			c.Auth.MultiTenant = true
			c.Auth.IdentityHeader = ""
		}, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			ApplyDefaults(&cfg)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveWatchDirectories_keepsOtherKeys(t *testing.T) {
	path := writeConfig(t, `# kotae settings
storage:
  database_path: "./data/fragments.db"
completion:
  model: "mistral-small"
watch:
  owner: inbox
  directories:
    - /srv/old
`)
	if err := SaveWatchDirectories(path, []string{"/srv/inbox", "/srv/shared"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"# kotae settings", "./data/fragments.db", "mistral-small", "owner: inbox", "/srv/inbox"} {
		if !strings.Contains(text, want) {
			t.Errorf("saved config missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "/srv/old") {
		t.Errorf("old directory should be replaced:\n%s", text)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watch.Directories) != 2 || cfg.Watch.Directories[1] != "/srv/shared" {
		t.Errorf("directories = %v", cfg.Watch.Directories)
	}
	if cfg.Watch.Owner != "inbox" {
		t.Errorf("owner = %q", cfg.Watch.Owner)
	}
}

func TestSaveWatchDirectories_neverWritesAPIKeys(t *testing.T) {
	path := writeConfig(t, "retrieval:\n  top_k: 5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := applyEnv(cfg, mapLookup(map[string]string{
		"OPENROUTER_API_KEY":      "sk-secret-123",
		"KOTAE_EMBEDDING_API_KEY": "emb-secret-456",
	})); err != nil {
		t.Fatal(err)
	}
	cfg.Watch.Directories = []string{"/srv/inbox"}
	if err := SaveWatchDirectories(path, cfg.Watch.Directories); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") || strings.Contains(string(data), "api_key") {
		t.Errorf("saved config leaks a key:\n%s", data)
	}
}

func TestSaveWatchDirectories_createsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := SaveWatchDirectories(path, nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Watch.Directories) != 0 {
		t.Errorf("directories = %v", cfg.Watch.Directories)
	}

	if err := SaveWatchDirectories(writeConfig(t, "- not\n- a mapping\n"), []string{"/srv"}); err == nil {
		t.Error("expected error for a non-mapping config")
	}
}

func TestLoad_chunkOverlap(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantSize    int
		wantOverlap int
	}{
		{"explicit zero overlap", "chunking:\n  chunk_size: 500\n  chunk_overlap: 0\n", 500, 0},
		{"explicit overlap", "chunking:\n  chunk_size: 500\n  chunk_overlap: 50\n", 500, 50},
		{"small size only", "chunking:\n  chunk_size: 150\n", 150, 30},
		{"unset", "", 1000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Chunking.ChunkSize != tt.wantSize || cfg.Chunking.OverlapOrDefault() != tt.wantOverlap {
				t.Errorf("chunking = %d/%d, want %d/%d",
					cfg.Chunking.ChunkSize, cfg.Chunking.OverlapOrDefault(), tt.wantSize, tt.wantOverlap)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func intPtr(n int) *int {
	return &n
}
