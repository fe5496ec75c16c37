package config

import "time"

const (
	defaultTemperature  = 0.4
	defaultChunkOverlap = 200
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kotae/data/fragments.db"
	}
	if cfg.Retrieval.Hybrid && cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = ".kotae/data/keyword.bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".kotae/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Completion.Endpoint == "" {
		cfg.Completion.Endpoint = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gpt-4-turbo"
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 350
	}
	if cfg.Completion.Temperature == nil {
		t := defaultTemperature
		cfg.Completion.Temperature = &t
	}
	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = 60 * time.Second
	}
	if cfg.Completion.Referer == "" {
		cfg.Completion.Referer = "https://openrouter.ai"
	}
	if cfg.Completion.Title == "" {
		cfg.Completion.Title = "RAG App"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 8
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 64 << 20
	}
	if cfg.Auth.IdentityHeader == "" {
		cfg.Auth.IdentityHeader = "X-Authenticated-User"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".doc", ".xlsx", ".odt", ".rtf"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
