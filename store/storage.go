package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wellbot/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrIndexWrite wraps every failure to persist a chunk vector.
	ErrIndexWrite = errors.New("index write failed")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// DocumentStorer is the document store collaborator used by ingestion and the admin API.
type DocumentStorer interface {
	InsertDocument(ctx context.Context, name string, fileType types.FileType) (uuid.UUID, error)
	UpdateDocument(ctx context.Context, id uuid.UUID, lastIndexedAt time.Time) error
	DeleteDocument(ctx context.Context, id uuid.UUID) (int, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ListDocuments(ctx context.Context) ([]types.Document, error)
	DocumentNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
type VectorIndex interface {
	UpsertChunk(ctx context.Context, chunk types.Chunk) error
	Search(ctx context.Context, query []float32, threshold float64, limit int) ([]types.SearchHit, error)
}

type ConfigStorer interface {
	GetRetrievalConfig(ctx context.Context) (types.RetrievalConfig, bool, error)
	SetRetrievalConfig(ctx context.Context, cfg types.RetrievalConfig) error
}

// DBStorer is everything a backend must provide.
type DBStorer interface {
	DocumentStorer
	VectorIndex
	ConfigStorer
	Ping(ctx context.Context) error
	Close() error
}

type PostgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	logger     *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, dimensions int, logger *slog.Logger) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimensions)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresStore{
		pool:       pool,
		dimensions: dimensions,
		logger:     logger,
	}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) InsertDocument(ctx context.Context, name string, fileType types.FileType) (uuid.UUID, error) {
	id := uuid.New()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO knowledge_base_documents (id, name, file_type, uploaded_at) VALUES ($1, $2, $3, $4)`,
		id, name, string(fileType), time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

func (p *PostgresStore) UpdateDocument(ctx context.Context, id uuid.UUID, lastIndexedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE knowledge_base_documents SET last_indexed_at = $2 WHERE id = $1`,
		id, lastIndexedAt.UTC())
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes the document and its chunks in one transaction.
// The document row is locked first so a concurrent UpsertChunk for the same
// document either finishes before the delete or fails afterwards.
func (p *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) (int, error) {
	var removed int
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM knowledge_base_documents WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, id)
		if err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		_, err = tx.Exec(ctx, `DELETE FROM knowledge_base_documents WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete document: %w", err)
	}
	p.logger.Info("[STORE] document deleted", "document_id", id, "chunks", removed)
	return removed, nil
}

const documentColumns = `d.id, d.name, d.file_type, d.uploaded_at, d.last_indexed_at,
	(SELECT count(*) FROM document_chunks c WHERE c.document_id = d.id)`

func scanDocument(row pgx.Row) (*types.Document, error) {
	doc := &types.Document{}
	var fileType string
	if err := row.Scan(&doc.ID, &doc.Name, &fileType, &doc.UploadedAt, &doc.LastIndexedAt, &doc.ChunkCount); err != nil {
		return nil, err
	}
	doc.FileType = types.FileType(fileType)
	return doc, nil
}

func (p *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM knowledge_base_documents d WHERE d.id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, err
}

func (p *PostgresStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM knowledge_base_documents d ORDER BY d.uploaded_at DESC, d.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []types.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DocumentNames resolves display names for all ids in a single round trip.
func (p *PostgresStore) DocumentNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, name FROM knowledge_base_documents WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// UpsertChunk is idempotent on chunk.ID. It takes a share lock on the owning
// document row, which conflicts with the FOR UPDATE lock taken by DeleteDocument.
func (p *PostgresStore) UpsertChunk(ctx context.Context, c types.Chunk) error {
	if len(c.Embedding) != p.dimensions {
		return fmt.Errorf("%w: %w: got %d, want %d", ErrIndexWrite, ErrDimensionMismatch, len(c.Embedding), p.dimensions)
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrIndexWrite, err)
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var owner uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM knowledge_base_documents WHERE id = $1 FOR SHARE`, c.DocumentID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s: %w", c.DocumentID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
		INSERT INTO document_chunks (id, document_id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, c.Content, pgvector.NewVector(c.Embedding), meta)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: chunk %s: %w", ErrIndexWrite, c.ID, err)
	}
	return nil
}

// Search returns chunks with cosine similarity >= threshold, best first,
// ties broken by insertion order.
func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	if len(queryVec) != p.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(queryVec), p.dimensions)
	}
	if limit <= 0 {
		return []types.SearchHit{}, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.metadata, 1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		WHERE 1 - (c.embedding <=> $1) >= $2
		ORDER BY c.embedding <=> $1, c.seq
		LIMIT $3`,
		pgvector.NewVector(queryVec), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := []types.SearchHit{}
	for rows.Next() {
		var hit types.SearchHit
		var meta []byte
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Content, &meta, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("search: decode metadata of chunk %s: %w", hit.ChunkID, err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

func (p *PostgresStore) GetRetrievalConfig(ctx context.Context) (types.RetrievalConfig, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM app_settings WHERE setting_key = $1`, types.RetrievalConfigKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DefaultRetrievalConfig(), false, nil
	}
	if err != nil {
		return types.RetrievalConfig{}, false, err
	}
	cfg := types.DefaultRetrievalConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return types.RetrievalConfig{}, false, fmt.Errorf("decode retrieval config: %w", err)
	}
	return cfg, true, nil
}

func (p *PostgresStore) SetRetrievalConfig(ctx context.Context, cfg types.RetrievalConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO app_settings (setting_key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (setting_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		types.RetrievalConfigKey, raw)
	return err
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS knowledge_base_documents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		file_type TEXT NOT NULL CHECK (file_type IN ('pdf','txt','md')),
		uploaded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		last_indexed_at TIMESTAMP WITH TIME ZONE
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES knowledge_base_documents(id) ON DELETE CASCADE,
		seq BIGSERIAL,
		content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
		embedding vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks
		USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(document_id);

	CREATE TABLE IF NOT EXISTS app_settings (
		setting_key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	`, p.dimensions)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("Postgres connection pool is closed")
	}
	return nil
}
