package rag

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnsupportedOrCorruptDocument aborts an ingestion before any record is written.
	ErrUnsupportedOrCorruptDocument = errors.New("unsupported or corrupt document")
	// ErrRetrievalUnavailable covers every retrieval failure. Callers degrade to an
	// answer without knowledge base context.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

const (
	StageEmbedding = "embedding"
	StageStoring   = "storing"
)

// ChunkError is a non-fatal failure of a single chunk during ingestion.
type ChunkError struct {
	DocumentID uuid.UUID
	ChunkIndex int
	Stage      string
	Err        error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("document %s chunk %d: %s: %v", e.DocumentID, e.ChunkIndex, e.Stage, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
