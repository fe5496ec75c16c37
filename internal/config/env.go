package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (".env" when none are
// named) into the process environment. Missing files are ignored and variables
// already set in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values from the process environment.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	first := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	intVar := func(dst *int, key string) error {
		v, ok := first(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if v, ok := first("KOTAE_COMPLETION_API_KEY", "OPENROUTER_API_KEY"); ok {
		cfg.Completion.APIKey = v
	}
	if v, ok := first("KOTAE_COMPLETION_ENDPOINT", "MODEL_ENDPOINT"); ok {
		cfg.Completion.Endpoint = v
	}
	if v, ok := first("KOTAE_COMPLETION_MODEL"); ok {
		cfg.Completion.Model = v
	}
	if v, ok := first("KOTAE_EMBEDDING_API_KEY"); ok {
		cfg.Embedding.APIKey = v
	}
	if err := intVar(&cfg.Chunking.ChunkSize, "KOTAE_CHUNK_SIZE"); err != nil {
		return err
	}
	if _, ok := first("KOTAE_CHUNK_OVERLAP"); ok {
		var overlap int
		if err := intVar(&overlap, "KOTAE_CHUNK_OVERLAP"); err != nil {
			return err
		}
		cfg.Chunking.ChunkOverlap = &overlap
	}
	if err := intVar(&cfg.Retrieval.TopK, "KOTAE_TOP_K"); err != nil {
		return err
	}
	if err := intVar(&cfg.Completion.MaxTokens, "KOTAE_MAX_TOKENS"); err != nil {
		return err
	}
	return nil
}
