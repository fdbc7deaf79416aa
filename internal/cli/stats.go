package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List the owner's documents",
	Long: `List the owner's document records with their ingestion status and the
number of chunks the index holds for each.`,
	RunE: runDocs,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(docsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	docsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.indexer.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Index statistics:\n")
	fmt.Printf("  Chunks:    %d\n", stats.Entries)
	fmt.Printf("  Documents: %d\n", stats.Documents)
	fmt.Printf("  Owners:    %d\n", stats.Owners)
	if stats.Model != "" {
		fmt.Printf("  Model:     %s (%d dimensions)\n", stats.Model, stats.Dimension)
	}
	return nil
}

type docRow struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	Status        string    `json:"status"`
	IndexedChunks int       `json:"indexed_chunks"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func runDocs(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	docs, err := a.indexer.Documents(ctx, ownerID)
	if err != nil {
		return err
	}
	summary, err := a.indexer.OwnerDocuments(ctx, ownerID)
	if err != nil {
		return err
	}
	indexed := make(map[string]int, len(summary))
	for _, s := range summary {
		indexed[s.DocumentID] = s.ChunkCount
	}

	rows := make([]docRow, len(docs))
	for i, d := range docs {
		rows[i] = docRow{
			ID:            d.ID,
			Title:         d.Title,
			Status:        string(d.Status),
			IndexedChunks: indexed[d.ID],
			UpdatedAt:     d.UpdatedAt,
		}
	}

	if statsJSON {
		output, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	if len(rows) == 0 {
		fmt.Printf("No documents for owner %s.\n", ownerID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tCHUNKS\tUPDATED")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Title, r.Status, r.IndexedChunks, r.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}
