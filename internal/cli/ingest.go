package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docrag/internal/adapter/fs"
	"docrag/internal/usecase"
)

var (
	ingestDocID string
	ingestTitle string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest a file or directory for the owner",
	Long: `Ingest plain-text documents for the owner. A directory is walked with the
configured include and exclude patterns; each file becomes one document whose
ID is derived from the owner and the file's relative path. Re-ingesting a
document replaces its earlier chunks.

Examples:
  docrag ingest notes.md --owner alice
  docrag ingest notes.md --doc-id handbook --title "Team handbook"
  docrag ingest ./docs`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document ID for a single file (default derived from the path)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title for a single file")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	a, err := openApp(appOptions{rebuild: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if info.IsDir() {
		return ingestDirectory(cmd, a, path)
	}
	return ingestFile(cmd, a, path)
}

// fileDocumentID derives a single file's document ID from its path relative
// to root, or from the absolute path when the file lies outside root.
func fileDocumentID(owner, root, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if absRoot, err := filepath.Abs(root); err == nil {
		rel, err := filepath.Rel(absRoot, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return usecase.DocumentIDForPath(owner, rel)
		}
	}
	return usecase.DocumentIDForPath(owner, abs)
}

func ingestFile(cmd *cobra.Command, a *app, path string) error {
	text, err := fs.TextReader{}.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	docID := ingestDocID
	if docID == "" {
		docID = fileDocumentID(ownerID, rootDir, path)
	}
	title := ingestTitle
	if title == "" {
		title = filepath.Base(path)
	}

	res, err := a.indexer.Ingest(cmd.Context(), usecase.IngestRequest{
		DocumentID: docID,
		OwnerID:    ownerID,
		Title:      title,
		Source:     path,
		Text:       text,
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Ingested %s\n", path)
	fmt.Printf("  Document:   %s\n", res.DocumentID)
	fmt.Printf("  Chunks:     %d\n", res.ChunkCount)
	fmt.Printf("  Characters: %d\n", res.TotalChars)
	if res.PrunedChunks > 0 {
		fmt.Printf("  Pruned:     %d (stale chunks from an earlier version)\n", res.PrunedChunks)
	}
	return nil
}

func ingestDirectory(cmd *cobra.Command, a *app, path string) error {
	cfg := GetConfig()
	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes, cfg.Ingest.MaxFileSize)

	fmt.Printf("Scanning %s...\n", path)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progress := func(done, total int, current string) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		elapsed := time.Since(startTime)
		if rate := float64(done) / elapsed.Seconds(); rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
		}
	}

	result, err := a.indexer.IngestDirectory(cmd.Context(), path, ownerID, walker, fs.TextReader{}, progress)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("\nIngestion complete (%s):\n", formatDuration(result.Duration))
	fmt.Printf("  Files scanned:  %d\n", result.FilesScanned)
	fmt.Printf("  Ingested:       %d\n", result.Ingested)
	fmt.Printf("  Skipped:        %d (empty or not text)\n", result.Skipped)
	fmt.Printf("  Failed:         %d\n", result.Failed)
	fmt.Printf("  Chunks:         %d\n", result.Chunks)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
