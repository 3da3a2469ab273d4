package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"wellbot/model"
	"wellbot/store"
	"wellbot/types"

	"github.com/google/uuid"
)

const ContextSeparator = "\n\n---\n\n"

type Retriever struct {
	embedder model.EmbedderInterface
	index    store.VectorIndex
	docs     store.DocumentStorer
	metrics  *Metrics
	logger   *slog.Logger
}

func NewRetriever(embedder model.EmbedderInterface, index store.VectorIndex, docs store.DocumentStorer, metrics *Metrics, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		docs:     docs,
		metrics:  metrics,
		logger:   logger,
	}
}

// Retrieve finds the chunks most similar to query and assembles them into a
// context block. An empty result is not an error. Every failure is reported
// as ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, cfg types.RetrievalConfig) (*types.RetrievalResult, error) {
	started := time.Now()
	cfg = cfg.Normalize()

	level := slog.LevelDebug
	if cfg.DebugMode {
		level = slog.LevelInfo
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.metrics.retrieval("error", started)
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}

	hits, err := r.index.Search(ctx, vec, cfg.SimilarityThreshold, cfg.MaxChunks)
	if err != nil {
		r.metrics.retrieval("error", started)
		return nil, fmt.Errorf("%w: search: %w", ErrRetrievalUnavailable, err)
	}
	r.logger.Log(ctx, level, "[RETRIEVE] candidates",
		"count", len(hits), "threshold", cfg.SimilarityThreshold, "max_chunks", cfg.MaxChunks)

	if len(hits) == 0 {
		r.metrics.retrieval("empty", started)
		return types.EmptyRetrieval(), nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	hits = hits[:min(cfg.UseTopChunks, len(hits))]

	ids := make([]uuid.UUID, 0, len(hits))
	seen := make(map[uuid.UUID]bool, len(hits))
	for _, h := range hits {
		if !seen[h.DocumentID] {
			seen[h.DocumentID] = true
			ids = append(ids, h.DocumentID)
		}
	}
	names, err := r.docs.DocumentNames(ctx, ids)
	if err != nil {
		r.metrics.retrieval("error", started)
		return nil, fmt.Errorf("%w: resolve document names: %w", ErrRetrievalUnavailable, err)
	}

	result := &types.RetrievalResult{Sources: make([]types.Source, 0, len(hits))}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		name := names[h.DocumentID]
		if name == "" {
			name = h.Metadata.FileName
		}
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, sourceHeader(name, h.Metadata)+"\n"+h.Content)
		result.Sources = append(result.Sources, types.Source{
			DocumentID: h.DocumentID,
			FileName:   name,
			Similarity: h.Similarity,
			Metadata:   h.Metadata,
		})
		r.logger.Log(ctx, level, "[RETRIEVE] selected chunk",
			"document", name, "chunk_index", h.Metadata.ChunkIndex, "similarity", h.Similarity)
	}
	result.ContextText = strings.Join(parts, ContextSeparator)

	r.metrics.retrieval("hit", started)
	return result, nil
}

// RetrieveOrEmpty never fails: on error it logs and returns an empty result,
// reporting degraded=true so the caller can answer without grounding.
func (r *Retriever) RetrieveOrEmpty(ctx context.Context, query string, cfg types.RetrievalConfig) (*types.RetrievalResult, bool) {
	res, err := r.Retrieve(ctx, query, cfg)
	if err != nil {
		r.logger.Warn("[RETRIEVE] knowledge base unavailable, continuing without context", "error", err)
		return types.EmptyRetrieval(), true
	}
	return res, false
}

func sourceHeader(name string, meta types.ChunkMetadata) string {
	var b strings.Builder
	b.WriteString("[Source: ")
	b.WriteString(name)
	if meta.TotalChunks > 0 {
		fmt.Fprintf(&b, " | chunk %d of %d", meta.ChunkIndex+1, meta.TotalChunks)
	}
	if meta.Page != nil {
		fmt.Fprintf(&b, " | page %d", *meta.Page)
	}
	b.WriteString("]")
	return b.String()
}
