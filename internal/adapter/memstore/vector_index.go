package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// ModelPin is the embedding model and dimension an index accepts. The zero
// value means nothing has been written yet.
type ModelPin struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

func (p ModelPin) IsZero() bool {
	return p.Model == "" && p.Dimension == 0
}

// Persister receives every mutation while the index holds its write lock. A
// returned error aborts the mutation and leaves the in-memory state untouched.
// The upserts and deletes of one call must commit in a single transaction.
type Persister interface {
	Persist(upserts []domain.IndexEntry, deletes []string, pin ModelPin) error
}

// VectorIndex is an exact brute-force cosine index kept in memory. Entries are
// immutable once stored; an upsert swaps whole entries under the write lock,
// so a reader sees either the old or the new entry for a key.
type VectorIndex struct {
	mu      sync.RWMutex
	entries map[string]*entry
	pin     ModelPin
	persist Persister
	closed  bool
}

var _ port.VectorIndex = (*VectorIndex)(nil)

type entry struct {
	vector []float32
	text   string
	meta   domain.ChunkMetadata
}

// NewVectorIndex creates an empty in-memory index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{entries: make(map[string]*entry)}
}

// NewPersistentVectorIndex creates an index preloaded with entries whose
// mutations are written through p.
func NewPersistentVectorIndex(p Persister, pin ModelPin, entries []domain.IndexEntry) *VectorIndex {
	idx := &VectorIndex{
		entries: make(map[string]*entry, len(entries)),
		pin:     pin,
		persist: p,
	}
	for _, e := range entries {
		idx.entries[e.Key] = newEntry(e)
	}
	return idx
}

func newEntry(e domain.IndexEntry) *entry {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	return &entry{vector: vec, text: e.Text, meta: e.Metadata}
}

func validateBatch(entries []domain.IndexEntry) (ModelPin, error) {
	pin := ModelPin{Model: entries[0].Metadata.ModelID, Dimension: len(entries[0].Vector)}
	for _, e := range entries {
		if e.Key == "" {
			return pin, domain.NewError(domain.ErrInvalidInput, "index entry without key", nil)
		}
		if err := e.Metadata.Validate(); err != nil {
			return pin, fmt.Errorf("entry %s: %w", e.Key, err)
		}
		if len(e.Vector) == 0 {
			return pin, domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("entry %s has an empty vector", e.Key), nil)
		}
		if e.Metadata.ModelID != pin.Model || len(e.Vector) != pin.Dimension {
			return pin, domain.NewError(domain.ErrModelMismatch,
				fmt.Sprintf("batch mixes %s/%d with %s/%d", pin.Model, pin.Dimension, e.Metadata.ModelID, len(e.Vector)), nil)
		}
	}
	return pin, nil
}

// checkWritableLocked reports why entries cannot be written. Callers hold the
// write lock.
func (x *VectorIndex) checkWritableLocked(entries []domain.IndexEntry, pin ModelPin) error {
	if x.closed {
		return domain.NewError(domain.ErrIndexUnavailable, "index is closed", nil)
	}
	if len(entries) == 0 {
		return nil
	}
	if !x.pin.IsZero() && x.pin != pin {
		return domain.NewError(domain.ErrModelMismatch,
			fmt.Sprintf("index holds %s/%d, got %s/%d", x.pin.Model, x.pin.Dimension, pin.Model, pin.Dimension), nil)
	}
	for _, e := range entries {
		if old, ok := x.entries[e.Key]; ok && old.meta.OwnerID != e.Metadata.OwnerID {
			return domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("key %s belongs to another owner", e.Key), nil)
		}
	}
	return nil
}

// applyLocked persists and then swaps in one mutation. Callers hold the
// write lock.
func (x *VectorIndex) applyLocked(upserts []domain.IndexEntry, deletes []string, pin ModelPin) error {
	if len(upserts) == 0 {
		pin = x.pin
	}
	if x.persist != nil {
		if err := x.persist.Persist(upserts, deletes, pin); err != nil {
			return err
		}
	}
	for _, key := range deletes {
		delete(x.entries, key)
	}
	for _, e := range upserts {
		x.entries[e.Key] = newEntry(e)
	}
	x.pin = pin
	return nil
}

// Upsert validates the whole batch before writing any of it.
func (x *VectorIndex) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	pin, err := validateBatch(entries)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.checkWritableLocked(entries, pin); err != nil {
		return err
	}
	return x.applyLocked(entries, nil, pin)
}

// ReplaceDocument makes entries the complete set of the owner's chunks for
// the document: it upserts them and removes the document's entries with a
// chunk index >= len(entries), all in one mutation. It returns how many stale
// entries were removed.
func (x *VectorIndex) ReplaceDocument(ctx context.Context, documentID, ownerID string, entries []domain.IndexEntry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if documentID == "" || ownerID == "" {
		return 0, domain.NewError(domain.ErrInvalidInput, "document_id and owner_id are required", nil)
	}

	var pin ModelPin
	if len(entries) > 0 {
		var err error
		if pin, err = validateBatch(entries); err != nil {
			return 0, err
		}
	}
	for _, e := range entries {
		if e.Metadata.DocumentID != documentID || e.Metadata.OwnerID != ownerID {
			return 0, domain.NewError(domain.ErrInvalidInput,
				fmt.Sprintf("entry %s does not belong to document %s of %s", e.Key, documentID, ownerID), nil)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.checkWritableLocked(entries, pin); err != nil {
		return 0, err
	}
	stale := x.documentKeysLocked(documentID, ownerID, len(entries))
	if len(entries) == 0 && len(stale) == 0 {
		return 0, nil
	}
	if err := x.applyLocked(entries, stale, pin); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (x *VectorIndex) documentKeysLocked(documentID, ownerID string, minIndex int) []string {
	var keys []string
	for key, e := range x.entries {
		if e.meta.DocumentID == documentID && e.meta.OwnerID == ownerID && e.meta.ChunkIndex >= minIndex {
			keys = append(keys, key)
		}
	}
	return keys
}

// Search ranks matching entries by cosine similarity clamped to [0,1].
func (x *VectorIndex) Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, domain.NewError(domain.ErrInvalidInput, fmt.Sprintf("top_k must be positive, got %d", q.TopK), nil)
	}
	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, domain.NewError(domain.ErrIndexUnavailable, "index is closed", nil)
	}
	if x.pin.IsZero() {
		return nil, nil
	}
	if len(q.Vector) != x.pin.Dimension || (q.Model != "" && q.Model != x.pin.Model) {
		return nil, domain.NewError(domain.ErrModelMismatch,
			fmt.Sprintf("index holds %s/%d, query is %s/%d", x.pin.Model, x.pin.Dimension, q.Model, len(q.Vector)), nil)
	}

	hits := make([]domain.SearchHit, 0, q.TopK)
	for key, e := range x.entries {
		if !q.Filter.Matches(e.meta) {
			continue
		}
		hits = append(hits, domain.SearchHit{
			Key:      key,
			Text:     e.text,
			Metadata: e.meta,
			Score:    Score(q.Vector, e.vector),
		})
	}

	SortHits(hits)
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

// DeleteByOwner removes the document's entries owned by ownerID.
func (x *VectorIndex) DeleteByOwner(ctx context.Context, documentID, ownerID string) (int, error) {
	return x.deleteWhere(ctx, documentID, ownerID, 0)
}

// PruneDocument removes the document's entries with chunk index >= keep.
func (x *VectorIndex) PruneDocument(ctx context.Context, documentID, ownerID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	return x.deleteWhere(ctx, documentID, ownerID, keep)
}

func (x *VectorIndex) deleteWhere(ctx context.Context, documentID, ownerID string, minIndex int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if documentID == "" || ownerID == "" {
		return 0, domain.NewError(domain.ErrInvalidInput, "document_id and owner_id are required", nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return 0, domain.NewError(domain.ErrIndexUnavailable, "index is closed", nil)
	}

	keys := x.documentKeysLocked(documentID, ownerID, minIndex)
	if len(keys) == 0 {
		return 0, nil
	}
	if err := x.applyLocked(nil, keys, x.pin); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (x *VectorIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return domain.IndexStats{}, domain.NewError(domain.ErrIndexUnavailable, "index is closed", nil)
	}

	docs := make(map[string]struct{})
	owners := make(map[string]struct{})
	for _, e := range x.entries {
		docs[e.meta.DocumentID] = struct{}{}
		owners[e.meta.OwnerID] = struct{}{}
	}
	return domain.IndexStats{
		Entries:   len(x.entries),
		Documents: len(docs),
		Owners:    len(owners),
		Model:     x.pin.Model,
		Dimension: x.pin.Dimension,
	}, nil
}

func (x *VectorIndex) OwnerDocuments(ctx context.Context, ownerID string) ([]domain.OwnerDocumentSummary, error) {
	if ownerID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "owner_id is required", nil)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, domain.NewError(domain.ErrIndexUnavailable, "index is closed", nil)
	}

	byDoc := make(map[string]*domain.OwnerDocumentSummary)
	for _, e := range x.entries {
		if e.meta.OwnerID != ownerID {
			continue
		}
		s, ok := byDoc[e.meta.DocumentID]
		if !ok {
			s = &domain.OwnerDocumentSummary{DocumentID: e.meta.DocumentID, ModelID: e.meta.ModelID}
			byDoc[e.meta.DocumentID] = s
		}
		s.ChunkCount++
	}

	out := make([]domain.OwnerDocumentSummary, 0, len(byDoc))
	for _, s := range byDoc {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// Close makes every later call fail with ErrIndexUnavailable.
func (x *VectorIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	x.entries = make(map[string]*entry)
	return nil
}

// SortHits orders hits by score descending, then key ascending.
func SortHits(hits []domain.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
}

// Score converts cosine distance to a similarity in [0,1].
func Score(a, b []float32) float64 {
	distance := 1 - cosineSimilarity(a, b)
	s := 1 - distance
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
