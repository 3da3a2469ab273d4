package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wellbot/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDims = 4

func newMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m, err := NewMemoryStore(testDims, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return m
}

func chunk(docID uuid.UUID, index int, content string, vec ...float32) types.Chunk {
	return types.Chunk{
		ID:         uuid.New(),
		DocumentID: docID,
		Content:    content,
		Embedding:  vec,
		Metadata: types.ChunkMetadata{
			ChunkIndex:  index,
			TotalChunks: 1,
			ChunkSize:   len(content),
			FileType:    types.FileText,
			FileName:    "doc.txt",
		},
	}
}

func TestMemoryStore_SearchOrderAndThreshold(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	docID, err := m.InsertDocument(ctx, "sleep.md", types.FileMarkdown)
	require.NoError(t, err)

	require.NoError(t, m.UpsertChunk(ctx, chunk(docID, 0, "exact", 1, 0, 0, 0)))
	require.NoError(t, m.UpsertChunk(ctx, chunk(docID, 1, "close", 1, 1, 0, 0)))
	require.NoError(t, m.UpsertChunk(ctx, chunk(docID, 2, "orthogonal", 0, 0, 1, 0)))

	query := []float32{1, 0, 0, 0}
	hits, err := m.Search(ctx, query, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "exact", hits[0].Content)
	assert.Equal(t, "close", hits[1].Content)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
	assert.Equal(t, docID, hits[1].DocumentID)
	assert.Equal(t, 1, hits[1].Metadata.ChunkIndex)

	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, 0.5)
	}

	// raising the threshold never adds hits
	strict, err := m.Search(ctx, query, 0.9, 10)
	require.NoError(t, err)
	assert.Len(t, strict, 1)

	limited, err := m.Search(ctx, query, 0, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "exact", limited[0].Content)
}

func TestMemoryStore_TiesFollowInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	docID, err := m.InsertDocument(ctx, "a.txt", types.FileText)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.UpsertChunk(ctx, chunk(docID, i, fmt.Sprintf("tie-%d", i), 0, 1, 0, 0)))
	}

	hits, err := m.Search(ctx, []float32{0, 1, 0, 0}, 0.5, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, h := range hits {
		assert.Equal(t, fmt.Sprintf("tie-%d", i), h.Content)
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	docID, err := m.InsertDocument(ctx, "a.txt", types.FileText)
	require.NoError(t, err)

	c := chunk(docID, 0, "first", 1, 0, 0, 0)
	require.NoError(t, m.UpsertChunk(ctx, c))
	c.Content = "second"
	require.NoError(t, m.UpsertChunk(ctx, c))

	doc, err := m.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.ChunkCount)

	hits, err := m.Search(ctx, []float32{1, 0, 0, 0}, 0.1, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second", hits[0].Content)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	docID, err := m.InsertDocument(ctx, "a.txt", types.FileText)
	require.NoError(t, err)

	err = m.UpsertChunk(ctx, chunk(docID, 0, "short", 1, 0))
	assert.ErrorIs(t, err, ErrIndexWrite)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Search(ctx, []float32{1, 0}, 0.1, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryStore_UpsertUnknownDocument(t *testing.T) {
	m := newMemory(t)
	err := m.UpsertChunk(context.Background(), chunk(uuid.New(), 0, "orphan", 1, 0, 0, 0))
	assert.ErrorIs(t, err, ErrIndexWrite)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteDocumentRemovesChunks(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	keep, err := m.InsertDocument(ctx, "keep.txt", types.FileText)
	require.NoError(t, err)
	drop, err := m.InsertDocument(ctx, "drop.txt", types.FileText)
	require.NoError(t, err)

	require.NoError(t, m.UpsertChunk(ctx, chunk(keep, 0, "kept", 1, 0, 0, 0)))
	for i := 0; i < 10; i++ {
		require.NoError(t, m.UpsertChunk(ctx, chunk(drop, i, fmt.Sprintf("dropped-%d", i), 1, 0, 0, 0)))
	}

	removed, err := m.DeleteDocument(ctx, drop)
	require.NoError(t, err)
	assert.Equal(t, 10, removed)

	hits, err := m.Search(ctx, []float32{1, 0, 0, 0}, 0, 100)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keep, hits[0].DocumentID)

	_, err = m.GetDocument(ctx, drop)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.DeleteDocument(ctx, drop)
	assert.ErrorIs(t, err, ErrNotFound)

	// writes after delete must not resurrect the document
	err = m.UpsertChunk(ctx, chunk(drop, 11, "late", 1, 0, 0, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DeleteIsAtomicForSearch(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	docID, err := m.InsertDocument(ctx, "bulk.txt", types.FileText)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.UpsertChunk(ctx, chunk(docID, i, fmt.Sprintf("c%d", i), 1, 0, 0, 0)))
	}

	var wg sync.WaitGroup
	counts := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := m.Search(ctx, []float32{1, 0, 0, 0}, 0, 100)
			if err == nil {
				counts <- len(hits)
			}
		}()
	}
	_, err = m.DeleteDocument(ctx, docID)
	require.NoError(t, err)
	wg.Wait()
	close(counts)

	for n := range counts {
		assert.Contains(t, []int{0, 20}, n)
	}
}

func TestMemoryStore_ListAndNames(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)
	a, err := m.InsertDocument(ctx, "a.txt", types.FileText)
	require.NoError(t, err)
	b, err := m.InsertDocument(ctx, "b.pdf", types.FilePDF)
	require.NoError(t, err)

	docs, err := m.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	names, err := m.DocumentNames(ctx, []uuid.UUID{a, b, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{a: "a.txt", b: "b.pdf"}, names)

	doc, err := m.GetDocument(ctx, a)
	require.NoError(t, err)
	assert.False(t, doc.Searchable())
	require.NoError(t, m.UpsertChunk(ctx, chunk(a, 0, "hello", 1, 0, 0, 0)))
	require.NoError(t, m.UpdateDocument(ctx, a, time.Now()))
	doc, err = m.GetDocument(ctx, a)
	require.NoError(t, err)
	assert.True(t, doc.Searchable())
}

func TestMemoryStore_RetrievalConfig(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t)

	cfg, found, err := m.GetRetrievalConfig(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, types.DefaultRetrievalConfig(), cfg)

	want := types.RetrievalConfig{SimilarityThreshold: 0.5, MaxChunks: 8, UseTopChunks: 2, DebugMode: true}
	require.NoError(t, m.SetRetrievalConfig(ctx, want))
	cfg, found, err = m.GetRetrievalConfig(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, cfg)
}
