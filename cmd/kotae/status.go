package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fragment store statistics and configuration",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	s := statusFromConfig(cfg, components.Embedder.Dimensions())
	if s.Fragments, err = components.Store.Count(ctx); err != nil {
		return err
	}
	if s.Sources, err = components.Store.SourceCount(ctx); err != nil {
		return err
	}
	if s.DiskUsageBytes, err = components.Store.DiskUsageBytes(); err != nil {
		return err
	}
	if cfg.Storage.KeywordIndexPath != "" {
		kw, err := store.DiskUsageBytes(cfg.Storage.KeywordIndexPath)
		if err != nil {
			return err
		}
		s.DiskUsageBytes += kw
	}
	return cli.WriteStatus(cmd.OutOrStdout(), s, cli.FormatFromFlag(statusJSON))
}

func statusFromConfig(cfg *config.Config, dims int) cli.Status {
	return cli.Status{
		DatabasePath:      cfg.Storage.DatabasePath,
		EmbeddingProvider: cfg.Embedding.Provider,
		Dimensions:        dims,
		CompletionModel:   cfg.Completion.Model,
		ChunkSize:         cfg.Chunking.ChunkSize,
		ChunkOverlap:      cfg.Chunking.OverlapOrDefault(),
		TopK:              cfg.Retrieval.TopK,
		Hybrid:            cfg.Retrieval.Hybrid,
	}
}
