package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"docrag/internal/adapter/memstore"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// BoltVectorIndex persists index entries in bolt and serves searches from an
// in-memory copy loaded at open. Every mutation commits to bolt in one
// transaction before the in-memory copy changes.
type BoltVectorIndex struct {
	*memstore.VectorIndex
}

var _ port.VectorIndex = (*BoltVectorIndex)(nil)

type storedVector struct {
	Vector   []float32            `json:"v"`
	Text     string               `json:"t"`
	Metadata domain.ChunkMetadata `json:"m"`
}

// NewBoltVectorIndex loads the index stored in db. The database stays owned
// by the caller.
func NewBoltVectorIndex(db *bbolt.DB) (*BoltVectorIndex, error) {
	var (
		pin     memstore.ModelPin
		entries []domain.IndexEntry
	)

	err := db.View(func(tx *bbolt.Tx) error {
		if meta := tx.Bucket(bucketIndexMeta); meta != nil {
			if data := meta.Get(keyModelPin); data != nil {
				if err := json.Unmarshal(data, &pin); err != nil {
					return fmt.Errorf("corrupt model pin: %w", err)
				}
			}
		}

		b := tx.Bucket(bucketVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return fmt.Errorf("corrupt vector %s: %w", k, err)
			}
			entries = append(entries, domain.IndexEntry{
				Key:      string(k),
				Vector:   stored.Vector,
				Text:     stored.Text,
				Metadata: stored.Metadata,
			})
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("failed to load vectors", err)
	}

	p := &boltPersister{db: db}
	return &BoltVectorIndex{
		VectorIndex: memstore.NewPersistentVectorIndex(p, pin, entries),
	}, nil
}

type boltPersister struct {
	db *bbolt.DB
}

// Persist writes upserts, deletes and the model pin in one transaction.
func (p *boltPersister) Persist(upserts []domain.IndexEntry, deletes []string, pin memstore.ModelPin) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVectors)
		if b == nil {
			return fmt.Errorf("vectors bucket not found")
		}

		for _, key := range deletes {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		for _, e := range upserts {
			data, err := json.Marshal(storedVector{Vector: e.Vector, Text: e.Text, Metadata: e.Metadata})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(e.Key), data); err != nil {
				return err
			}
		}

		if pin.IsZero() {
			return nil
		}
		pinData, err := json.Marshal(pin)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndexMeta).Put(keyModelPin, pinData)
	})
	if err != nil {
		return unavailable("failed to persist vectors", err)
	}
	return nil
}
