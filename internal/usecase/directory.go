package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// ProgressFunc is called after each file is processed.
type ProgressFunc func(done, total int, path string)

// DirectoryResult summarizes a directory ingestion run.
type DirectoryResult struct {
	FilesScanned int
	Ingested     int
	Skipped      int
	Failed       int
	Chunks       int
	Duration     time.Duration
	Errors       []error
}

// DocumentIDForPath derives a stable document ID from the owner and the
// file's path relative to the ingestion root.
func DocumentIDForPath(ownerID, relPath string) string {
	sum := sha256.Sum256([]byte(ownerID + "\x00" + filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:8])
}

// IngestDirectory walks root and ingests every matching file for the owner.
// A failing file is recorded and skipped; cancellation stops the run.
func (u *IndexUseCase) IngestDirectory(
	ctx context.Context,
	root, ownerID string,
	walker port.FileWalker,
	reader port.FileReader,
	progress ProgressFunc,
) (*DirectoryResult, error) {
	start := time.Now()

	if ownerID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner_id is required", nil)
	}

	files, err := walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &DirectoryResult{FilesScanned: len(files)}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		text, err := reader.ReadFile(f.Path)
		switch {
		case err != nil:
			result.Skipped++
			u.logger.Debug().Err(err).Str("path", f.RelPath).Msg("skipping unreadable file")
		default:
			res, err := u.Ingest(ctx, IngestRequest{
				DocumentID: DocumentIDForPath(ownerID, f.RelPath),
				OwnerID:    ownerID,
				Title:      filepath.Base(f.RelPath),
				Source:     f.RelPath,
				Text:       text,
			})
			switch {
			case domain.KindOf(err) == domain.ErrEmptyDocument:
				result.Skipped++
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", f.RelPath, err))
			default:
				result.Ingested++
				result.Chunks += res.ChunkCount
			}
		}

		if progress != nil {
			progress(i+1, len(files), f.RelPath)
		}
	}

	result.Duration = time.Since(start)
	u.logger.Info().
		Str("root", root).
		Str("owner_id", ownerID).
		Int("files", result.FilesScanned).
		Int("ingested", result.Ingested).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("elapsed", result.Duration).
		Msg("directory ingested")

	return result, nil
}
