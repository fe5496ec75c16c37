package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/models"
)

var (
	askJSON      bool
	askOwner     string
	askServerURL string
	askRetrieve  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the ingested documents",
	Long: `Ask is all remaining arguments joined by spaces. Multi-word questions work
with or without quotes.

Examples:
  kotae ask what is the refund window
  kotae ask "who signed the contract?" --json
  kotae ask --server http://localhost:8000 what changed in v2
  kotae ask --retrieve pricing tiers          # show matching fragments only`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.Flags().StringVar(&askOwner, "owner", "", "only use fragments owned by this identity")
	askCmd.Flags().StringVar(&askServerURL, "server", "", "ask a running kotae server instead of opening the store")
	askCmd.Flags().BoolVar(&askRetrieve, "retrieve", false, "print the retrieved fragments without generating an answer")
}

// buildQuestion joins args into one question.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := buildQuestion(args)
	if question == "" {
		return models.ErrEmptyQuestion
	}
	cfg, _, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	format := cli.FormatFromFlag(askJSON)
	ctx := cmd.Context()

	if askServerURL != "" {
		answered, err := askViaHTTP(ctx, askServerURL, question, cfg.Auth.IdentityHeader, askOwner)
		if err != nil {
			return err
		}
		return cli.WriteAnswer(cmd.OutOrStdout(), answered, format)
	}

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if askRetrieve {
		results, err := components.Retriever.Retrieve(ctx, question, cfg.Retrieval.TopK, askOwner)
		if err != nil {
			return err
		}
		return cli.WriteRetrieval(cmd.OutOrStdout(), results, format)
	}

	answered, err := components.Answerer.Answer(ctx, question, askOwner)
	if err != nil {
		return err
	}
	return cli.WriteAnswer(cmd.OutOrStdout(), answered, format)
}

// askViaHTTP posts question to a running server's /query endpoint.
func askViaHTTP(ctx context.Context, serverURL, question, identityHeader, owner string) (*models.AnsweredQuery, error) {
	body, err := json.Marshal(models.QueryRequest{Question: question})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if owner != "" && identityHeader != "" {
		req.Header.Set(identityHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("query server: status %d: %s", resp.StatusCode, e.Error)
	}
	var answered models.AnsweredQuery
	if err := json.NewDecoder(resp.Body).Decode(&answered); err != nil {
		return nil, fmt.Errorf("query server: decode response: %w", err)
	}
	return &answered, nil
}
