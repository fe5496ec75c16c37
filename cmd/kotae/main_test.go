package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/store"
)

func TestBuildQuestion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"refunds"}, "refunds"},
		{"multiple words", []string{"what", "is", "the", "refund", "window?"}, "what is the refund window?"},
		{"single quoted phrase", []string{"who signed the contract?"}, "who signed the contract?"},
		{"surrounding spaces", []string{"  pricing  "}, "pricing"},
		{"empty", []string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuestion(tt.args); got != tt.expected {
				t.Errorf("buildQuestion(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":         "alpha",
		"b.pdf":         "%PDF",
		"skip.bin":      "x",
		"sub/c.md":      "gamma",
		".hidden/d.txt": "delta",
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	explicit := filepath.Join(dir, "skip.bin")

	got, err := expandInputs([]string{dir, explicit}, []string{".txt", ".md", "pdf"})
	if err != nil {
		t.Fatal(err)
	}
	var rel []string
	for _, p := range got {
		r, _ := filepath.Rel(dir, p)
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)
	want := []string{"a.txt", "b.pdf", "skip.bin", "sub/c.md"}
	if strings.Join(rel, ",") != strings.Join(want, ",") {
		t.Errorf("expandInputs = %v, want %v", rel, want)
	}

	if _, err := expandInputs([]string{filepath.Join(dir, "missing.txt")}, nil); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestLoadConfig_fileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kotae.yaml")
	content := `
storage:
  database_path: "./data/fragments.db"
embedding:
  provider: hash
retrieval:
  top_k: 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KOTAE_TOP_K", "3")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")

	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("top_k = %d, want environment override 3", cfg.Retrieval.TopK)
	}
	if cfg.Completion.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Completion.APIKey)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data", "fragments.db") {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
}

func TestLoadConfig_invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kotae.yaml")
	content := `
chunking:
  chunk_size: 100
  chunk_overlap: 100
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(path); err == nil {
		t.Fatal("expected validation error for chunk_overlap >= chunk_size")
	}
}

func TestStatusFromConfig(t *testing.T) {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	s := statusFromConfig(&cfg, 256)
	if s.Dimensions != 256 || s.ChunkSize != 1000 || s.TopK != 8 || s.CompletionModel != "gpt-4-turbo" {
		t.Errorf("statusFromConfig = %+v", s)
	}
}

func TestAskViaHTTP(t *testing.T) {
	var gotOwner, gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			http.NotFound(w, r)
			return
		}
		gotOwner = r.Header.Get("X-Authenticated-User")
		var req models.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotQuestion = req.Question
		_ = json.NewEncoder(w).Encode(models.AnsweredQuery{Question: req.Question, Answer: "Thirty days.", Sources: []string{"policy.txt"}})
	}))
	defer srv.Close()

	answered, err := askViaHTTP(context.Background(), srv.URL+"/", "refund window?", "X-Authenticated-User", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if answered.Answer != "Thirty days." || len(answered.Sources) != 1 {
		t.Errorf("answered = %+v", answered)
	}
	if gotOwner != "alice" || gotQuestion != "refund window?" {
		t.Errorf("server saw owner=%q question=%q", gotOwner, gotQuestion)
	}
}

func TestAskViaHTTP_errorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"answer generation failed","question":"q"}`))
	}))
	defer srv.Close()

	_, err := askViaHTTP(context.Background(), srv.URL, "q", "", "")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status 502 error, got %v", err)
	}
}

// fakeCompletionServer answers every chat completion with a fixed reply and
// records the prompts it received.
func fakeCompletionServer(t *testing.T, status int, reply string) (*httptest.Server, *[]string) {
	t.Helper()
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			prompts = append(prompts, req.Messages[0].Content)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func testComponentsConfig(t *testing.T, endpoint string, hybrid bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimensions = 256
	cfg.Storage.DatabasePath = filepath.Join(dir, "fragments.db")
	cfg.Retrieval.Hybrid = hybrid
	if hybrid {
		cfg.Storage.KeywordIndexPath = filepath.Join(dir, "keyword.bleve")
	}
	cfg.Completion.Endpoint = endpoint
	cfg.Chunking.ChunkSize = 200
	overlap := 40
	cfg.Chunking.ChunkOverlap = &overlap
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestComponents_ingestThenAnswer(t *testing.T) {
	for _, hybrid := range []bool{false, true} {
		name := "semantic"
		if hybrid {
			name = "hybrid"
		}
		t.Run(name, func(t *testing.T) {
			srv, prompts := fakeCompletionServer(t, http.StatusOK, "Refunds are accepted within thirty days.")
			cfg := testComponentsConfig(t, srv.URL, hybrid)
			ctx := context.Background()

			c, err := initializeComponents(ctx, cfg, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			empty, err := c.Answerer.Answer(ctx, "What is the refund window?", "")
			if err != nil {
				t.Fatal(err)
			}
			if empty.Answer != answer.SentinelAnswer || len(*prompts) != 0 {
				t.Fatalf("empty store should return the sentinel without a completion call, got %+v", empty)
			}

			report := c.Pipeline.Ingest(ctx, []models.Document{
				{Filename: "policy.txt", Content: []byte("Refund policy. Customers may request a refund within thirty days of purchase.")},
				{Filename: "broken.docx", Content: []byte("not a zip archive")},
				{Filename: "shipping.md", Content: []byte("Shipping takes five business days within the country.")},
			}, "")
			if len(report.Results) != 3 || len(report.Failed()) != 1 || report.Results[1].OK() {
				t.Fatalf("report = %+v", report.Results)
			}

			answered, err := c.Answerer.Answer(ctx, "  What is the refund window?  ", "")
			if err != nil {
				t.Fatal(err)
			}
			if answered.Answer != "Refunds are accepted within thirty days." {
				t.Errorf("answer = %q", answered.Answer)
			}
			if answered.Question != "What is the refund window?" {
				t.Errorf("question = %q", answered.Question)
			}
			found := false
			for _, s := range answered.Sources {
				if s == "policy.txt" {
					found = true
				}
			}
			if !found {
				t.Errorf("sources %v should include policy.txt", answered.Sources)
			}
			if len(*prompts) != 1 || !strings.Contains((*prompts)[0], "thirty days of purchase") {
				t.Errorf("prompt should carry the policy fragment: %v", *prompts)
			}
		})
	}
}

func TestComponents_completionFailure(t *testing.T) {
	srv, _ := fakeCompletionServer(t, http.StatusInternalServerError, "")
	cfg := testComponentsConfig(t, srv.URL, false)
	ctx := context.Background()

	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	report := c.Pipeline.Ingest(ctx, []models.Document{{Filename: "a.txt", Content: []byte("The warranty lasts two years.")}}, "")
	if len(report.Failed()) != 0 {
		t.Fatalf("ingest failed: %+v", report.Results)
	}
	_, err = c.Answerer.Answer(ctx, "How long is the warranty?", "")
	if err == nil {
		t.Fatal("expected answer generation failure")
	}
	var genErr *answer.GenerationError
	if !errors.As(err, &genErr) {
		t.Errorf("error %v should be *answer.GenerationError", err)
	}
}

func TestNewEmbedder_modelNames(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "all-MiniLM-L6-v2.onnx")
	tests := []struct {
		name string
		cfg  config.EmbeddingConfig
		want string
	}{
		{"hash", config.EmbeddingConfig{Provider: "hash", Dimensions: 64}, "hash"},
		{"onnx fallback", config.EmbeddingConfig{Provider: "onnx", ModelPath: missing, Dimensions: 64, MaxTokens: 32}, "hash"},
		{"http", config.EmbeddingConfig{Provider: "http", Endpoint: "http://127.0.0.1:1/v1/embeddings", Model: "text-embedding-3-small", Dimensions: 64}, "http:text-embedding-3-small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, model, err := newEmbedder(tt.cfg, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			defer emb.Close()
			if model != tt.want {
				t.Errorf("model = %q, want %q", model, tt.want)
			}
		})
	}
}

func TestComponents_onnxFallbackRejectsExistingModelStore(t *testing.T) {
	cfg := testComponentsConfig(t, "http://127.0.0.1:1/v1/chat/completions", false)
	ctx := context.Background()

	s, err := store.NewSQLiteStore(ctx, cfg.Storage.DatabasePath, cfg.Embedding.Dimensions,
		store.WithEmbeddingModel("onnx:all-MiniLM-L6-v2.onnx"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	cfg.Embedding.Provider = "onnx"
	cfg.Embedding.ModelPath = filepath.Join(t.TempDir(), "all-MiniLM-L6-v2.onnx")
	_, err = initializeComponents(ctx, cfg, zap.NewNop())
	if !errors.Is(err, store.ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch when hash vectors would enter an ONNX store, got %v", err)
	}
}
