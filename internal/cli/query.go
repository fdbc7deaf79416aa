package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
	"docrag/internal/usecase"
)

var (
	queryText string
	queryTopK int
	queryJSON bool
	queryDocs []string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Show the owner's chunks that best match a question",
	Long: `Embed the question and list the owner's most similar chunks with their
scores, most relevant first. No answer is generated.

Examples:
  docrag query -q "release checklist"
  docrag query -q "on-call rotation" --top-k 10 --json
  docrag query -q "pricing" --doc handbook --doc faq`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addQuestionFlags(queryCmd)
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
}

func addQuestionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	cmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks (default from config)")
	cmd.Flags().StringSliceVar(&queryDocs, "doc", nil, "restrict to these document IDs")
	cmd.MarkFlagRequired("query")
}

func retrieveRequest() usecase.RetrieveRequest {
	topK := GetConfig().Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}
	return usecase.RetrieveRequest{
		Question:    queryText,
		OwnerID:     ownerID,
		TopK:        topK,
		DocumentIDs: queryDocs,
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.retrieve.Retrieve(cmd.Context(), retrieveRequest())
	if errors.Is(err, domain.ErrNoRelevantContent) {
		if queryJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No results found.")
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(result.Chunks, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Found %d results for: %s\n\n", len(result.Chunks), queryText)
	for i, c := range result.Chunks {
		fmt.Printf("--- [%d] %s (score: %.3f) ---\n", i+1, c.Key, c.Score)
		fmt.Println(usecase.Snippet(c.Text, 500))
		fmt.Println()
	}
	return nil
}
