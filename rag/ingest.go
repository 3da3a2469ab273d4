package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"wellbot/model"
	"wellbot/store"
	"wellbot/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Extractor converts uploaded bytes into plain text according to the declared format.
type Extractor interface {
	Extract(ctx context.Context, fileType types.FileType, data []byte) (types.Extracted, error)
}

type batchCapable interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	SupportsBatch() bool
}

type IngestOptions struct {
	Concurrency int
	BatchSize   int
}

type Ingestor struct {
	docs        store.DocumentStorer
	index       store.VectorIndex
	embedder    model.EmbedderInterface
	extractor   Extractor
	chunker     *Chunker
	concurrency int
	batchSize   int
	metrics     *Metrics
	logger      *slog.Logger
}

func NewIngestor(docs store.DocumentStorer, index store.VectorIndex, embedder model.EmbedderInterface,
	extractor Extractor, chunker *Chunker, opts IngestOptions, metrics *Metrics, logger *slog.Logger) *Ingestor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		docs:        docs,
		index:       index,
		embedder:    embedder,
		extractor:   extractor,
		chunker:     chunker,
		concurrency: opts.Concurrency,
		batchSize:   opts.BatchSize,
		metrics:     metrics,
		logger:      logger,
	}
}

// Ingest extracts, chunks, embeds and indexes one uploaded document.
//
// Only extraction failures and a failed document insert are returned as
// errors. Per-chunk failures are counted in the summary. Chunks stored before
// ctx is cancelled stay indexed.
func (in *Ingestor) Ingest(ctx context.Context, name string, fileType types.FileType, data []byte) (*types.IngestSummary, error) {
	log := in.logger.With("document", name, "file_type", fileType)

	extracted, err := in.extractor.Extract(ctx, fileType, data)
	if err != nil {
		in.metrics.document("rejected")
		log.Warn("[INGEST] extraction failed", "error", err)
		if errors.Is(err, ErrUnsupportedOrCorruptDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedOrCorruptDocument, name, err)
	}

	spans := in.chunker.Spans(extracted.Text)

	docID, err := in.docs.InsertDocument(ctx, name, fileType)
	if err != nil {
		return nil, fmt.Errorf("insert document %s: %w", name, err)
	}
	log = log.With("document_id", docID)

	summary := &types.IngestSummary{
		DocumentID: docID,
		Name:       name,
		FileType:   fileType,
		Total:      len(spans),
		Failures:   []types.ChunkIssue{},
	}
	if len(spans) == 0 {
		in.metrics.document("empty")
		log.Info("[INGEST] document has no content to index")
		return summary, nil
	}

	chunks := make([]types.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = types.Chunk{
			ID:         uuid.New(),
			DocumentID: docID,
			Content:    s.Text,
			Metadata: types.ChunkMetadata{
				ChunkIndex:  i,
				TotalChunks: len(spans),
				ChunkSize:   utf8.RuneCountInString(s.Text),
				FileType:    fileType,
				FileName:    name,
				Page:        extracted.PageAt(s.Start),
			},
		}
	}

	results := in.process(ctx, chunks)

	for i, err := range results {
		if err == nil {
			summary.Processed++
			continue
		}
		summary.Failed++
		var ce *ChunkError
		stage := StageStoring
		if errors.As(err, &ce) {
			stage = ce.Stage
		}
		summary.Failures = append(summary.Failures, types.ChunkIssue{ChunkIndex: i, Stage: stage, Error: err.Error()})
	}
	in.metrics.chunkResults(summary.Processed, summary.Failed)

	if summary.Processed > 0 {
		now := time.Now().UTC()
		if err := in.docs.UpdateDocument(context.WithoutCancel(ctx), docID, now); err != nil {
			log.Error("[INGEST] could not mark document as indexed", "error", err)
		} else {
			summary.LastIndexedAt = &now
		}
	}

	switch {
	case summary.Failed == 0:
		in.metrics.document("indexed")
		log.Info("[INGEST] document indexed", "chunks", summary.Total)
	case summary.Processed > 0:
		in.metrics.document("partial")
		log.Warn("[INGEST] document partially indexed", "processed", summary.Processed, "failed", summary.Failed)
	default:
		in.metrics.document("unindexed")
		log.Error("[INGEST] no chunk could be indexed", "failed", summary.Failed)
	}
	return summary, nil
}

// process embeds and stores every chunk and returns one result per chunk
// index. Work is split into batches that run in parallel up to the
// configured concurrency.
func (in *Ingestor) process(ctx context.Context, chunks []types.Chunk) []error {
	results := make([]error, len(chunks))

	size := 1
	if b, ok := in.embedder.(batchCapable); ok && b.SupportsBatch() {
		size = in.batchSize
	}

	var g errgroup.Group
	g.SetLimit(in.concurrency)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		g.Go(func() error {
			in.processBatch(ctx, chunks[start:end], results[start:end])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (in *Ingestor) processBatch(ctx context.Context, batch []types.Chunk, results []error) {
	vectors := make([][]float32, len(batch))

	embedded := false
	if b, ok := in.embedder.(batchCapable); ok && len(batch) > 1 {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := b.EmbedBatch(ctx, texts)
		if err == nil {
			copy(vectors, vecs)
			embedded = true
		} else {
			in.logger.Warn("[INGEST] batch embedding failed, retrying chunks one by one",
				"document_id", batch[0].DocumentID, "first_chunk", batch[0].Metadata.ChunkIndex, "error", err)
		}
	}

	for i := range batch {
		c := batch[i]
		if !embedded {
			vec, err := in.embedder.Embed(ctx, c.Content)
			if err != nil {
				results[i] = in.chunkFailure(c, StageEmbedding, err)
				continue
			}
			vectors[i] = vec
		}
		c.Embedding = vectors[i]
		if err := in.index.UpsertChunk(ctx, c); err != nil {
			results[i] = in.chunkFailure(c, StageStoring, err)
		}
	}
}

func (in *Ingestor) chunkFailure(c types.Chunk, stage string, err error) error {
	ce := &ChunkError{DocumentID: c.DocumentID, ChunkIndex: c.Metadata.ChunkIndex, Stage: stage, Err: err}
	in.logger.Warn("[INGEST] chunk skipped",
		"document_id", c.DocumentID, "chunk_index", c.Metadata.ChunkIndex, "stage", stage, "error", err)
	return ce
}
