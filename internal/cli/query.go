package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryUser    string
	querySession string
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Answer a question from the local index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryUser, "user", "local", "user id for memory retrieval")
	queryCmd.Flags().StringVar(&querySession, "session", "", "session id for conversational context")
}

func runQuery(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.Close()

	question := strings.Join(args, " ")
	result, err := app.pipeline.Answer(context.Background(), queryUser, querySession, question)
	if err != nil {
		return err
	}

	fmt.Println(result.ResponseText)
	if result.CacheTier != "miss" {
		fmt.Printf("\n(cache: %s)\n", result.CacheTier)
	}
	if len(result.CitedChunkIDs) > 0 {
		fmt.Printf("cited: %s\n", strings.Join(result.CitedChunkIDs, ", "))
	}
	return nil
}
