package embedding

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/adapter/analyzer"
)

func newTestHashing(t *testing.T) *HashingEmbedder {
	t.Helper()
	e, err := NewHashingEmbedder("", 256, analyzer.NewTokenizer(false))
	require.NoError(t, err)
	return e
}

func TestHashingEmbedder_ManyMatchesOne(t *testing.T) {
	e := newTestHashing(t)
	ctx := context.Background()
	texts := []string{"The sky is blue.", "Fire is hot.", "", "sky sky sky"}

	many, err := e.EmbedMany(ctx, texts)
	require.NoError(t, err)
	require.Len(t, many, len(texts))

	for i, text := range texts {
		one, err := e.EmbedOne(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, one, many[i], "text %d", i)
	}
}

func TestHashingEmbedder_Normalized(t *testing.T) {
	e := newTestHashing(t)

	vec, err := e.EmbedOne(context.Background(), "water is wet and fire is hot")
	require.NoError(t, err)
	require.Len(t, vec, 256)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	empty, err := e.EmbedOne(context.Background(), "the of and")
	require.NoError(t, err)
	for _, v := range empty {
		assert.Zero(t, v)
	}
}

func TestHashingEmbedder_UnsignedBuckets(t *testing.T) {
	e, err := NewHashingEmbedder("", 8, analyzer.NewTokenizer(false))
	require.NoError(t, err)

	// Eight buckets force collisions; none may cancel another term out.
	text := "alpha beta gamma delta epsilon zeta theta iota kappa lambda omicron sigma"
	vec, err := e.EmbedOne(context.Background(), text)
	require.NoError(t, err)
	for i, v := range vec {
		assert.GreaterOrEqual(t, v, float32(0), "bucket %d", i)
	}
}

func TestHashingEmbedder_Metadata(t *testing.T) {
	e := newTestHashing(t)
	assert.Equal(t, 256, e.Dimension())
	assert.Equal(t, "feature-hash-256", e.ModelName())

	_, err := NewHashingEmbedder("x", 0, analyzer.NewTokenizer(false))
	assert.Error(t, err)
}

func TestHashingEmbedder_Concurrent(t *testing.T) {
	e := newTestHashing(t)
	want, _ := e.EmbedOne(context.Background(), "concurrent embedding check")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.EmbedOne(context.Background(), "concurrent embedding check")
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestHashingEmbedder_Cancelled(t *testing.T) {
	e := newTestHashing(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedMany(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
