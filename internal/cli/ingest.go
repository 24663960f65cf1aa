package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.json]",
	Short: "Index document chunks from a JSON file",
	Long: `Ingest reads a JSON array of chunks and indexes them:

  [{"document_id": "doc-1", "ordinal": 0, "text": "...", "metadata": ""}]

Re-ingesting an existing (document_id, ordinal) replaces the prior chunk.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var chunks []struct {
		DocumentID string `json:"document_id"`
		Ordinal    int    `json:"ordinal"`
		Text       string `json:"text"`
		Metadata   string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	for i, c := range chunks {
		if c.DocumentID == "" || c.Text == "" {
			return fmt.Errorf("chunk %d: document_id and text required", i)
		}
		if _, err := app.pipeline.Ingest(ctx, c.DocumentID, c.Ordinal, c.Text, c.Metadata); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	fmt.Printf("ingested %d chunks\n", len(chunks))
	return nil
}
