package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/models"
)

var (
	ingestOwner string
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest documents into the fragment store",
	Long: `Extract, chunk, embed and store each file. Directories are walked and files
matching watch.extensions are ingested. One failing file does not stop the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "tag fragments with this owner identity")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the report as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, _, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	paths, err := expandInputs(args, cfg.Watch.Extensions)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no matching files in %s", strings.Join(args, ", "))
	}

	docs := make([]models.Document, 0, len(paths))
	report := &models.BatchReport{}
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			report.Results = append(report.Results, models.IngestResult{Filename: filepath.Base(p), Err: err})
			continue
		}
		docs = append(docs, models.Document{Filename: filepath.Base(p), Content: content})
	}

	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	batch := components.Pipeline.Ingest(ctx, docs, ingestOwner)
	report.Results = append(batch.Results, report.Results...)
	logger.Debug("ingest finished", zap.Int("files", len(report.Results)), zap.Int("fragments", report.TotalFragments()))

	if err := cli.WriteIngestReport(cmd.OutOrStdout(), report, cli.FormatFromFlag(ingestJSON)); err != nil {
		return err
	}
	if n := len(report.Failed()); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(report.Results))
	}
	return nil
}

// expandInputs resolves args to files. Files are taken as given; directories are
// walked recursively and filtered by extensions (empty = all).
func expandInputs(args []string, extensions []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(path, extensions) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
