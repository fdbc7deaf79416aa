package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docrag/internal/adapter/generation"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the index and the generation backend",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.indexer.Stats(cmd.Context())
	if err != nil {
		fmt.Printf("Index:      unavailable (%v)\n", err)
		return err
	}
	fmt.Printf("Index:      ok (%d chunks)\n", stats.Entries)
	fmt.Printf("Embedding:  %s (%d dimensions)\n", a.embedder.ModelName(), a.embedder.Dimension())

	ollama, ok := a.generator.(*generation.OllamaGenerator)
	if !ok {
		fmt.Printf("Generation: %s\n", a.generator.ModelName())
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	found, models, err := ollama.CheckModel(ctx)
	switch {
	case err != nil:
		fmt.Printf("Generation: unreachable (%v)\n", err)
	case !found:
		fmt.Printf("Generation: model %s not pulled (available: %v)\n", ollama.ModelName(), models)
	default:
		fmt.Printf("Generation: ok (%s)\n", ollama.ModelName())
	}
	return nil
}
