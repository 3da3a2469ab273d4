package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"wellbot/types"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

const chunkCollection = "document_chunks"

type memoryChunk struct {
	documentID uuid.UUID
	seq        int64
}

// MemoryStore keeps documents in maps and chunk vectors in an in-process
// chromem-go collection. A single RWMutex makes document deletion atomic with
// respect to searches: a search sees all of a document's chunks or none.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	collection *chromem.Collection
	docs       map[uuid.UUID]*types.Document
	chunks     map[uuid.UUID]memoryChunk
	byDoc      map[uuid.UUID]map[uuid.UUID]struct{}
	seq        int64
	config     *types.RetrievalConfig
	logger     *slog.Logger
}

func NewMemoryStore(dimensions int, logger *slog.Logger) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimensions)
	}
	col, err := chromem.NewDB().GetOrCreateCollection(chunkCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		dimensions: dimensions,
		collection: col,
		docs:       make(map[uuid.UUID]*types.Document),
		chunks:     make(map[uuid.UUID]memoryChunk),
		byDoc:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		logger:     logger,
	}, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) InsertDocument(_ context.Context, name string, fileType types.FileType) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.docs[id] = &types.Document{
		ID:         id,
		Name:       name,
		FileType:   fileType,
		UploadedAt: time.Now().UTC(),
	}
	m.byDoc[id] = make(map[uuid.UUID]struct{})
	return id, nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, id uuid.UUID, lastIndexedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	t := lastIndexedAt.UTC()
	doc.LastIndexedAt = &t
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return 0, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	ids := make([]string, 0, len(m.byDoc[id]))
	for chunkID := range m.byDoc[id] {
		ids = append(ids, chunkID.String())
	}
	if len(ids) > 0 {
		if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
			return 0, fmt.Errorf("delete document: %w", err)
		}
	}
	for chunkID := range m.byDoc[id] {
		delete(m.chunks, chunkID)
	}
	delete(m.byDoc, id)
	delete(m.docs, id)
	m.logger.Info("[STORE] document deleted", "document_id", id, "chunks", len(ids))
	return len(ids), nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	out := *doc
	out.ChunkCount = len(m.byDoc[id])
	return &out, nil
}

func (m *MemoryStore) ListDocuments(context.Context) ([]types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]types.Document, 0, len(m.docs))
	for id, doc := range m.docs {
		d := *doc
		d.ChunkCount = len(m.byDoc[id])
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].UploadedAt.After(docs[j].UploadedAt)
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
	return docs, nil
}

func (m *MemoryStore) DocumentNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if doc, ok := m.docs[id]; ok {
			names[id] = doc.Name
		}
	}
	return names, nil
}

func (m *MemoryStore) UpsertChunk(ctx context.Context, c types.Chunk) error {
	if len(c.Embedding) != m.dimensions {
		return fmt.Errorf("%w: %w: got %d, want %d", ErrIndexWrite, ErrDimensionMismatch, len(c.Embedding), m.dimensions)
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrIndexWrite, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[c.DocumentID]; !ok {
		return fmt.Errorf("%w: chunk %s: document %s: %w", ErrIndexWrite, c.ID, c.DocumentID, ErrNotFound)
	}
	entry, exists := m.chunks[c.ID]
	if !exists {
		m.seq++
		entry = memoryChunk{documentID: c.DocumentID, seq: m.seq}
	}

	vec := make([]float32, len(c.Embedding))
	copy(vec, c.Embedding)
	err = m.collection.AddDocument(ctx, chromem.Document{
		ID:        c.ID.String(),
		Content:   c.Content,
		Embedding: vec,
		Metadata: map[string]string{
			"document_id": c.DocumentID.String(),
			"seq":         strconv.FormatInt(entry.seq, 10),
			"meta":        string(meta),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: chunk %s: %v", ErrIndexWrite, c.ID, err)
	}
	m.chunks[c.ID] = entry
	m.byDoc[c.DocumentID][c.ID] = struct{}{}
	return nil
}

// Search scans the whole collection so ties can be ordered by insertion
// sequence before the limit is applied.
func (m *MemoryStore) Search(ctx context.Context, query []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := []types.SearchHit{}
	n := m.collection.Count()
	if n == 0 || limit <= 0 {
		return hits, nil
	}
	results, err := m.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	type ranked struct {
		hit types.SearchHit
		seq int64
	}
	candidates := make([]ranked, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		chunkID, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("search: bad chunk id %q: %w", r.ID, err)
		}
		entry := m.chunks[chunkID]
		hit := types.SearchHit{
			ChunkID:    chunkID,
			DocumentID: entry.documentID,
			Similarity: sim,
			Content:    r.Content,
		}
		if raw := r.Metadata["meta"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &hit.Metadata); err != nil {
				return nil, fmt.Errorf("search: decode metadata of chunk %s: %w", chunkID, err)
			}
		}
		candidates = append(candidates, ranked{hit: hit, seq: entry.seq})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hit.Similarity != candidates[j].hit.Similarity {
			return candidates[i].hit.Similarity > candidates[j].hit.Similarity
		}
		return candidates[i].seq < candidates[j].seq
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, c := range candidates {
		hits = append(hits, c.hit)
	}
	return hits, nil
}

func (m *MemoryStore) GetRetrievalConfig(context.Context) (types.RetrievalConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return types.DefaultRetrievalConfig(), false, nil
	}
	return *m.config, true, nil
}

func (m *MemoryStore) SetRetrievalConfig(_ context.Context, cfg types.RetrievalConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = &cfg
	return nil
}
