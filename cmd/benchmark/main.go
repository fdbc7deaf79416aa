package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"docrag/config"
	"docrag/internal/adapter/store"
	"docrag/internal/cli"
	"docrag/internal/logging"
	"docrag/internal/usecase"
)

func main() {
	indexPath := flag.String("index", ".", "Path to the directory holding .docrag")
	owner := flag.String("owner", "local", "Owner whose documents are searched")
	query := flag.String("q", "", "Question to test")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -index ./tmp -owner alice -q \"question\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Index contents (chunks, documents, pinned model)")
		fmt.Println("  2. Similarity of the top matches to the question")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(cfg.IndexPath(*indexPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	index, err := store.NewBoltVectorIndex(st.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading vectors: %v\n", err)
		os.Exit(1)
	}

	embedder, err := cli.NewEmbedder(cfg.Embedding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedder not available: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	stats, _ := index.Stats(ctx)

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Chunks indexed: %d across %d documents\n", stats.Entries, stats.Documents)
	fmt.Printf("Index model:    %s (%d dimensions)\n", stats.Model, stats.Dimension)
	fmt.Printf("Query model:    %s (%d dimensions)\n", embedder.ModelName(), embedder.Dimension())
	fmt.Println()

	retrieve := usecase.NewRetrieveUseCase(embedder, index, nil, usecase.NoRetry, usecase.RetrieveOptions{SnippetLength: 150}, logging.Nop())
	res, err := retrieve.Retrieve(ctx, usecase.RetrieveRequest{Question: *query, OwnerID: *owner, TopK: *topK})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("Top %d matches:\n\n", len(res.Sources))

	totalScore := 0.0
	for i, s := range res.Sources {
		totalScore += s.SimilarityScore
		preview := strings.ReplaceAll(s.TextSnippet, "\n", " ")
		fmt.Printf("%d. [%s %.3f] %s\n", i+1, rating(s.SimilarityScore), s.SimilarityScore, s.ChunkKey)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(res.Sources))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", res.Sources[0].SimilarityScore)

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - retrieval working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need a stronger embedding model or re-ingestion")
	}
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	}
	return "LOW"
}
