package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"docrag/internal/domain"
	"docrag/internal/port"
)

var (
	bucketDocs      = []byte("docs")
	bucketVectors   = []byte("vectors")
	bucketIndexMeta = []byte("index_meta")
	bucketStats     = []byte("stats")
	keyModelPin     = []byte("model_pin")
)

// BoltStore owns the bolt database file shared by the document records and
// the vector index.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ port.DocumentStore = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, unavailable("failed to open bolt db", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketVectors, bucketIndexMeta, bucketStats}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// unavailable maps bolt failures to ErrIndexUnavailable.
func unavailable(msg string, err error) error {
	if errors.Is(err, domain.ErrIndexUnavailable) {
		return err
	}
	return domain.NewError(domain.ErrIndexUnavailable, msg, err)
}

type docMeta struct {
	OwnerID      string `json:"owner_id"`
	Title        string `json:"title,omitempty"`
	Source       string `json:"source,omitempty"`
	Status       string `json:"status"`
	StatusDetail string `json:"status_detail,omitempty"`
	ChunkCount   int    `json:"chunk_count"`
	TotalChars   int    `json:"total_chars"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func (m docMeta) toDocument(id string) domain.Document {
	return domain.Document{
		ID:           id,
		OwnerID:      m.OwnerID,
		Title:        m.Title,
		Source:       m.Source,
		Status:       domain.DocumentStatus(m.Status),
		StatusDetail: m.StatusDetail,
		ChunkCount:   m.ChunkCount,
		TotalChars:   m.TotalChars,
		CreatedAt:    time.Unix(0, m.CreatedAt),
		UpdatedAt:    time.Unix(0, m.UpdatedAt),
	}
}

func getDocMeta(tx *bbolt.Tx, id string) (docMeta, bool, error) {
	var meta docMeta
	data := tx.Bucket(bucketDocs).Get([]byte(id))
	if data == nil {
		return meta, false, nil
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, false, fmt.Errorf("corrupt document record %s: %w", id, err)
	}
	return meta, true, nil
}

func putDocMeta(tx *bbolt.Tx, id string, meta docMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDocs).Put([]byte(id), data)
}

func (s *BoltStore) Record(ctx context.Context, doc domain.Document) (string, error) {
	if doc.OwnerID == "" {
		return "", domain.NewError(domain.ErrInvalidInput, "document owner_id is required", nil)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = domain.StatusProcessing
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		now := s.now().UnixNano()
		created := now
		old, ok, err := getDocMeta(tx, doc.ID)
		if err != nil {
			return err
		}
		if ok {
			if old.OwnerID != doc.OwnerID {
				return domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("document %s belongs to another owner", doc.ID), nil)
			}
			created = old.CreatedAt
		}
		return putDocMeta(tx, doc.ID, docMeta{
			OwnerID:      doc.OwnerID,
			Title:        doc.Title,
			Source:       doc.Source,
			Status:       string(doc.Status),
			StatusDetail: doc.StatusDetail,
			ChunkCount:   doc.ChunkCount,
			TotalChars:   doc.TotalChars,
			CreatedAt:    created,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *BoltStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, detail string, chunkCount, totalChars int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, ok, err := getDocMeta(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
		}
		meta.Status = string(status)
		meta.StatusDetail = detail
		meta.ChunkCount = chunkCount
		meta.TotalChars = totalChars
		meta.UpdatedAt = s.now().UnixNano()
		return putDocMeta(tx, id, meta)
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta, ok, err := getDocMeta(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewError(domain.ErrNotFound, fmt.Sprintf("document not found: %s", id), nil)
		}
		doc = meta.toDocument(id)
		return nil
	})
	return doc, err
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).Delete([]byte(id))
	})
}

func (s *BoltStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	var docs []domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var meta docMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			if meta.OwnerID == ownerID {
				docs = append(docs, meta.toDocument(string(k)))
			}
			return nil
		})
	})
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, err
}
