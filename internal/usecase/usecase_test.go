package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/adapter/analyzer"
	"docrag/internal/adapter/cache"
	"docrag/internal/adapter/chunker"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/fs"
	"docrag/internal/adapter/memstore"
	"docrag/internal/domain"
	"docrag/internal/logging"
	"docrag/internal/port"
)

const skyText = "The sky is blue. Water is wet. Fire is hot."

// flakyIndex fails the first N calls of each operation with
// ErrIndexUnavailable.
type flakyIndex struct {
	*memstore.VectorIndex

	mu           sync.Mutex
	failSearches int
	failReplaces int
	failDeletes  int
	searchCalls  int
	replaceCalls int
	deleteCalls  int

	// onReplace, when set, runs before each ReplaceDocument reaches the index.
	onReplace func(documentID string, entries []domain.IndexEntry)
}

func unavailable() error {
	return domain.NewError(domain.ErrIndexUnavailable, "flaky", nil)
}

func (f *flakyIndex) Search(ctx context.Context, q domain.VectorQuery) ([]domain.SearchHit, error) {
	f.mu.Lock()
	f.searchCalls++
	fail := f.failSearches > 0
	if fail {
		f.failSearches--
	}
	f.mu.Unlock()
	if fail {
		return nil, unavailable()
	}
	return f.VectorIndex.Search(ctx, q)
}

func (f *flakyIndex) ReplaceDocument(ctx context.Context, documentID, ownerID string, entries []domain.IndexEntry) (int, error) {
	f.mu.Lock()
	f.replaceCalls++
	fail := f.failReplaces > 0
	if fail {
		f.failReplaces--
	}
	hook := f.onReplace
	f.mu.Unlock()
	if fail {
		return 0, unavailable()
	}
	if hook != nil {
		hook(documentID, entries)
	}
	return f.VectorIndex.ReplaceDocument(ctx, documentID, ownerID, entries)
}

func (f *flakyIndex) DeleteByOwner(ctx context.Context, documentID, ownerID string) (int, error) {
	f.mu.Lock()
	f.deleteCalls++
	fail := f.failDeletes > 0
	if fail {
		f.failDeletes--
	}
	f.mu.Unlock()
	if fail {
		return 0, unavailable()
	}
	return f.VectorIndex.DeleteByOwner(ctx, documentID, ownerID)
}

type stubGenerator struct {
	text string
	err  error
	got  port.GenerateRequest
}

func (g *stubGenerator) Generate(ctx context.Context, req port.GenerateRequest) (port.GenerateResult, error) {
	g.got = req
	if g.err != nil {
		return port.GenerateResult{}, g.err
	}
	return port.GenerateResult{Text: g.text, Model: "stub"}, nil
}

func (g *stubGenerator) ModelName() string { return "stub" }

type pipeline struct {
	index    *flakyIndex
	docs     *memstore.DocumentStore
	cache    *cache.QueryCache
	indexer  *IndexUseCase
	retrieve *RetrieveUseCase
}

func newPipeline(t *testing.T, size, overlap int) *pipeline {
	t.Helper()

	c, err := chunker.NewWindowChunker(size, overlap)
	require.NoError(t, err)
	emb, err := embedding.NewHashingEmbedder("", 384, analyzer.NewTokenizer(false))
	require.NoError(t, err)

	p := &pipeline{
		index: &flakyIndex{VectorIndex: memstore.NewVectorIndex()},
		docs:  memstore.NewDocumentStore(),
		cache: cache.NewQueryCache(16, time.Minute),
	}
	retry := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	logger := logging.Nop()

	p.indexer = NewIndexUseCase(c, emb, p.index, p.docs, p.cache, retry, logger)
	p.retrieve = NewRetrieveUseCase(emb, p.index, p.cache, retry, RetrieveOptions{SnippetLength: 10}, logger)
	return p
}

func (p *pipeline) ingest(t *testing.T, doc, owner, text string) *domain.IngestResult {
	t.Helper()
	res, err := p.indexer.Ingest(context.Background(), IngestRequest{DocumentID: doc, OwnerID: owner, Text: text})
	require.NoError(t, err)
	return res
}

func TestIngestAndRetrieve_Sky(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	res := p.ingest(t, "doc1", "alice", skyText)
	assert.Equal(t, 4, res.ChunkCount)
	assert.Equal(t, []string{"doc1_0", "doc1_1", "doc1_2", "doc1_3"}, res.Keys)
	assert.Equal(t, 43, res.TotalChars)

	out, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "What color is the sky?", OwnerID: "alice", TopK: 4})
	require.NoError(t, err)
	require.NotEmpty(t, out.Chunks)

	assert.Equal(t, "doc1_0", out.Chunks[0].Key)
	assert.Equal(t, "The sky is blue.", out.Chunks[0].Text)
	for i := 1; i < len(out.Chunks); i++ {
		assert.GreaterOrEqual(t, out.Chunks[i-1].Score, out.Chunks[i].Score)
		assert.Greater(t, out.Chunks[0].Score, out.Chunks[i].Score)
	}

	texts := make([]string, len(out.Chunks))
	for i, c := range out.Chunks {
		texts[i] = c.Text
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
	assert.Equal(t, strings.Join(texts, "\n\n"), out.Context)

	require.Len(t, out.Sources, len(out.Chunks))
	assert.Equal(t, "The sky is...", out.Sources[0].TextSnippet)
	assert.Equal(t, "hot.", sourceText(out, "doc1_3"))

	doc, err := p.docs.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 4, doc.ChunkCount)
}

func sourceText(r *domain.RetrieveResult, key string) string {
	for _, s := range r.Sources {
		if s.ChunkKey == key {
			return s.TextSnippet
		}
	}
	return ""
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	p := newPipeline(t, 20, 5)

	_, err := p.retrieve.Retrieve(context.Background(), RetrieveRequest{Question: "anything", OwnerID: "alice", TopK: 3})
	assert.ErrorIs(t, err, domain.ErrNoRelevantContent)
}

func TestRetrieve_InvalidRequest(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	_, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "q", OwnerID: "", TopK: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "  ", OwnerID: "alice", TopK: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "q", OwnerID: "alice", TopK: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRetrieve_OwnerIsolation(t *testing.T) {
	p := newPipeline(t, 50, 10)
	ctx := context.Background()

	p.ingest(t, "a1", "alice", "SECRET_A lives in the vault of alice")
	p.ingest(t, "b1", "bob", "SECRET_B lives in the garage of bob")

	out, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "SECRET_A vault", OwnerID: "bob", TopK: 10})
	require.NoError(t, err)
	for _, c := range out.Chunks {
		assert.Equal(t, "b1", c.DocumentID)
		assert.NotContains(t, c.Text, "SECRET_A")
	}
	assert.NotContains(t, out.Context, "SECRET_A")

	out, err = p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "SECRET_B", OwnerID: "carol", TopK: 10})
	assert.ErrorIs(t, err, domain.ErrNoRelevantContent)
	assert.Nil(t, out)
}

func TestRetrieve_DocumentAllowList(t *testing.T) {
	p := newPipeline(t, 50, 10)

	p.ingest(t, "d1", "alice", "apples grow on trees")
	p.ingest(t, "d2", "alice", "apples are sold in markets")

	out, err := p.retrieve.Retrieve(context.Background(), RetrieveRequest{
		Question:    "apples",
		OwnerID:     "alice",
		TopK:        10,
		DocumentIDs: []string{"d2"},
	})
	require.NoError(t, err)
	require.Len(t, out.Chunks, 1)
	assert.Equal(t, "d2", out.Chunks[0].DocumentID)
}

func TestIngest_ReingestPrunesStaleChunks(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	p.ingest(t, "doc1", "alice", skyText)
	res := p.ingest(t, "doc1", "alice", "Short text now.")
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, 3, res.PrunedChunks)

	summary, err := p.indexer.OwnerDocuments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].ChunkCount)

	out, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 10})
	require.NoError(t, err)
	require.Len(t, out.Chunks, 1)
	assert.Equal(t, "Short text now.", out.Chunks[0].Text)
}

func TestIngest_EmptyDocument(t *testing.T) {
	p := newPipeline(t, 20, 5)

	_, err := p.indexer.Ingest(context.Background(), IngestRequest{DocumentID: "d", OwnerID: "alice", Text: " \n\t "})
	assert.ErrorIs(t, err, domain.ErrEmptyDocument)

	stats, err := p.indexer.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestIngest_RequiresOwner(t *testing.T) {
	p := newPipeline(t, 20, 5)

	_, err := p.indexer.Ingest(context.Background(), IngestRequest{DocumentID: "d", Text: skyText})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngest_AssignsDocumentID(t *testing.T) {
	p := newPipeline(t, 20, 5)

	res, err := p.indexer.Ingest(context.Background(), IngestRequest{OwnerID: "alice", Title: "sky", Text: skyText})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, domain.ChunkKey(res.DocumentID, 0), res.Keys[0])
}

func TestIngest_CancelledBeforeWrite(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.indexer.Ingest(ctx, IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: skyText})
	assert.ErrorIs(t, err, context.Canceled)

	stats, err := p.indexer.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)

	doc, err := p.docs.Get(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.Status)
}

func TestIngest_RetriesTransientReplace(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.index.failReplaces = 2

	res := p.ingest(t, "doc1", "alice", skyText)
	assert.Equal(t, 4, res.ChunkCount)
}

func TestIngest_GivesUpAfterRetries(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.index.failReplaces = 10

	_, err := p.indexer.Ingest(context.Background(), IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: skyText})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	doc, err := p.docs.Get(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.Status)
}

func TestIngest_FailedReingestKeepsIndexedVersion(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	p.ingest(t, "doc1", "alice", skyText)
	p.index.failReplaces = 10

	_, err := p.indexer.Ingest(ctx, IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: "Short text now."})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	doc, err := p.docs.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 4, doc.ChunkCount)
	assert.Contains(t, doc.StatusDetail, "re-ingestion failed")

	out, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 1})
	require.NoError(t, err)
	assert.Contains(t, out.Chunks[0].Text, "sky")
}

func TestIngest_ReingestWaitsForInFlightVersion(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p.index.onReplace = func(string, []domain.IndexEntry) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.indexer.Ingest(ctx, IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: skyText})
		assert.NoError(t, err)
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, err := p.indexer.Ingest(ctx, IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: "Short text now."})
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	p.index.mu.Lock()
	calls := p.index.replaceCalls
	p.index.mu.Unlock()
	assert.Equal(t, 1, calls, "second ingestion reached the index while the first was writing")

	close(release)
	wg.Wait()

	doc, err := p.docs.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)

	summary, err := p.indexer.OwnerDocuments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].ChunkCount)
}

func TestIngest_ConcurrentReingestStaysConsistent(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()

	versions := []string{skyText, "Short text now."}
	chunkTexts := make([]map[string]bool, len(versions))
	c, err := chunker.NewWindowChunker(20, 5)
	require.NoError(t, err)
	for i, v := range versions {
		segs, err := c.Chunk(v)
		require.NoError(t, err)
		chunkTexts[i] = make(map[string]bool)
		for _, s := range segs {
			chunkTexts[i][s.Text] = true
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := p.indexer.Ingest(ctx, IngestRequest{DocumentID: "doc1", OwnerID: "alice", Text: text})
			assert.NoError(t, err)
		}(versions[i%len(versions)])
	}
	wg.Wait()

	doc, err := p.docs.Get(ctx, "doc1")
	require.NoError(t, err)
	summary, err := p.indexer.OwnerDocuments(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, doc.ChunkCount, summary[0].ChunkCount)

	out, err := p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "text", OwnerID: "alice", TopK: 100})
	require.NoError(t, err)
	require.Len(t, out.Chunks, doc.ChunkCount)
	matched := 0
	for _, set := range chunkTexts {
		all := true
		for _, ch := range out.Chunks {
			if !set[ch.Text] {
				all = false
				break
			}
		}
		if all {
			matched++
		}
	}
	assert.Equal(t, 1, matched, "index holds chunks from more than one version")
}

func TestRetrieve_RetriesTransientSearch(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.ingest(t, "doc1", "alice", skyText)
	p.index.failSearches = 2

	out, err := p.retrieve.Retrieve(context.Background(), RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, "doc1_0", out.Chunks[0].Key)
	assert.Equal(t, 3, p.index.searchCalls)
}

func TestDelete(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()
	p.ingest(t, "doc1", "alice", skyText)

	removed, err := p.indexer.Delete(ctx, "doc1", "bob")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = p.indexer.Delete(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = p.retrieve.Retrieve(ctx, RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 5})
	assert.ErrorIs(t, err, domain.ErrNoRelevantContent)

	_, err = p.docs.Get(ctx, "doc1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	removed, err = p.indexer.Delete(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDelete_NotRetried(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.ingest(t, "doc1", "alice", skyText)
	p.index.failDeletes = 1

	_, err := p.indexer.Delete(context.Background(), "doc1", "alice")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, 1, p.index.deleteCalls)
}

func TestRetrieve_CacheInvalidatedByWrites(t *testing.T) {
	p := newPipeline(t, 20, 5)
	ctx := context.Background()
	p.ingest(t, "doc1", "alice", skyText)

	req := RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 10}
	first, err := p.retrieve.Retrieve(ctx, req)
	require.NoError(t, err)
	calls := p.index.searchCalls

	_, err = p.retrieve.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, calls, p.index.searchCalls, "second retrieval should hit the cache")

	p.ingest(t, "doc2", "alice", "The night sky is dark.")
	second, err := p.retrieve.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.Greater(t, p.index.searchCalls, calls)
	assert.Greater(t, len(second.Chunks), len(first.Chunks))
}

func TestAsk(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.ingest(t, "doc1", "alice", skyText)

	gen := &stubGenerator{text: "Blue."}
	ask := NewAnswerUseCase(p.retrieve, gen, AnswerOptions{Temperature: 0.2, MaxTokens: 64, Timeout: time.Second}, logging.Nop())

	ans, err := ask.Ask(context.Background(), AskRequest{RetrieveRequest: RetrieveRequest{Question: "What color is the sky?", OwnerID: "alice", TopK: 2}})
	require.NoError(t, err)
	assert.True(t, ans.Generated)
	assert.Equal(t, "Blue.", ans.Text)
	assert.Equal(t, "stub", ans.Model)
	assert.Len(t, ans.Sources, 2)
	assert.Contains(t, gen.got.Context, "The sky is blue.")
	assert.Equal(t, 0.2, gen.got.Temperature)
	assert.Equal(t, 64, gen.got.MaxTokens)

	override := 1.1
	_, err = ask.Ask(context.Background(), AskRequest{
		RetrieveRequest: RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 1},
		Temperature:     &override,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.1, gen.got.Temperature)
}

func TestAsk_GenerationFailureKeepsSources(t *testing.T) {
	p := newPipeline(t, 20, 5)
	p.ingest(t, "doc1", "alice", skyText)

	gen := &stubGenerator{err: errors.New("connection refused")}
	ask := NewAnswerUseCase(p.retrieve, gen, AnswerOptions{}, logging.Nop())

	ans, err := ask.Ask(context.Background(), AskRequest{RetrieveRequest: RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 2}})
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	require.NotNil(t, ans)
	assert.False(t, ans.Generated)
	assert.NotEmpty(t, ans.Sources)
	assert.Contains(t, ans.GenerationError, "connection refused")
}

func TestAsk_NoContent(t *testing.T) {
	p := newPipeline(t, 20, 5)
	gen := &stubGenerator{text: "unused"}
	ask := NewAnswerUseCase(p.retrieve, gen, AnswerOptions{}, logging.Nop())

	ans, err := ask.Ask(context.Background(), AskRequest{RetrieveRequest: RetrieveRequest{Question: "sky", OwnerID: "alice", TopK: 2}})
	assert.ErrorIs(t, err, domain.ErrNoRelevantContent)
	assert.Nil(t, ans)
}

func TestIngestDirectory(t *testing.T) {
	p := newPipeline(t, 50, 10)
	dir := t.TempDir()

	write := func(name, content string) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("notes/sky.md", skyText)
	write("notes/empty.txt", "   ")
	write("readme.txt", "Water is wet and rivers flow downhill.")
	write("image.png", "\x89PNG\x00\x00")

	walker := fs.NewWalker([]string{"**/*.md", "**/*.txt"}, nil, 0)
	var calls int
	res, err := p.indexer.IngestDirectory(context.Background(), dir, "alice", walker, fs.TextReader{}, func(done, total int, path string) {
		calls++
		assert.Equal(t, calls, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.FilesScanned)
	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 3, calls)

	docs, err := p.indexer.Documents(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	id := DocumentIDForPath("alice", "notes/sky.md")
	assert.Len(t, id, 16)
	assert.NotEqual(t, id, DocumentIDForPath("bob", "notes/sky.md"))
	_, err = p.docs.Get(context.Background(), id)
	assert.NoError(t, err)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 10))
	assert.Equal(t, "äöü...", Snippet("äöüß", 3))
}
