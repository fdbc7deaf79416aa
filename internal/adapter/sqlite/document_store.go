package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/adapter/sqlite/migrations"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// DocumentStore keeps document records in a SQLite database.
type DocumentStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ port.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore opens (or creates) the database at path and applies
// pending migrations.
func NewDocumentStore(path string) (*DocumentStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &DocumentStore{db: db, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *DocumentStore) Close() error {
	return s.db.Close()
}

func (s *DocumentStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *DocumentStore) Record(ctx context.Context, doc domain.Document) (string, error) {
	if doc.OwnerID == "" {
		return "", domain.NewError(domain.ErrInvalidInput, "document owner_id is required", nil)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = domain.StatusProcessing
	}
	now := s.now().UnixNano()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, source, status, status_detail, chunk_count, total_chars, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source = excluded.source,
			status = excluded.status,
			status_detail = excluded.status_detail,
			chunk_count = excluded.chunk_count,
			total_chars = excluded.total_chars,
			updated_at = excluded.updated_at
		WHERE documents.owner_id = excluded.owner_id`,
		doc.ID, doc.OwnerID, doc.Title, doc.Source, string(doc.Status), doc.StatusDetail,
		doc.ChunkCount, doc.TotalChars, now, now)
	if err != nil {
		return "", fmt.Errorf("saving document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("document %s belongs to another owner", doc.ID), nil)
	}
	return doc.ID, nil
}

func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, detail string, chunkCount, totalChars int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, status_detail = ?, chunk_count = ?, total_chars = ?, updated_at = ?
		WHERE id = ?`,
		string(status), detail, chunkCount, totalChars, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
	}
	return nil
}

const selectDocument = `
	SELECT id, owner_id, title, source, status, status_detail, chunk_count, total_chars, created_at, updated_at
	FROM documents`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (domain.Document, error) {
	var (
		doc              domain.Document
		status           string
		created, updated int64
	)
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Title, &doc.Source, &status, &doc.StatusDetail,
		&doc.ChunkCount, &doc.TotalChars, &created, &updated)
	if err != nil {
		return doc, err
	}
	doc.Status = domain.DocumentStatus(status)
	doc.CreatedAt = time.Unix(0, created)
	doc.UpdatedAt = time.Unix(0, updated)
	return doc, nil
}

func (s *DocumentStore) Get(ctx context.Context, id string) (domain.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func (s *DocumentStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, selectDocument+" WHERE owner_id = ? ORDER BY created_at DESC, id ASC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
