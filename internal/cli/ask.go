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
	askJSON        bool
	askTemperature float64
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the owner's documents",
	Long: `Retrieve the owner's most relevant chunks and ask the configured generation
backend to answer from them. Sources are listed even when generation fails.

Examples:
  docrag ask -q "what is our refund policy?"
  docrag ask -q "who approves releases?" --owner alice --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	addQuestionFlags(askCmd)
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.Flags().Float64Var(&askTemperature, "temperature", 0, "sampling temperature (default from config)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.Close()

	req := usecase.AskRequest{RetrieveRequest: retrieveRequest()}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = &askTemperature
	}

	answer, err := a.answer.Ask(cmd.Context(), req)
	if errors.Is(err, domain.ErrNoRelevantContent) {
		fmt.Println("I couldn't find relevant information in your documents to answer this question.")
		return nil
	}
	if answer == nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		output, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(output))
		return err
	}

	if answer.Generated {
		fmt.Println(answer.Text)
	} else {
		fmt.Printf("Answer generation failed: %s\n", answer.GenerationError)
	}

	fmt.Printf("\nSources:\n")
	for i, s := range answer.Sources {
		fmt.Printf("  [%d] %s (score: %.3f)\n      %s\n", i+1, s.ChunkKey, s.SimilarityScore, s.TextSnippet)
	}
	return err
}
