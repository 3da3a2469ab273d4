package types

import (
	"time"

	"github.com/google/uuid"
)

type FileType string

const (
	FilePDF      FileType = "pdf"
	FileText     FileType = "txt"
	FileMarkdown FileType = "md"
)

// ParseFileType accepts the declared upload format or a file extension.
func ParseFileType(s string) (FileType, bool) {
	switch s {
	case "pdf", ".pdf", "application/pdf":
		return FilePDF, true
	case "txt", ".txt", "text", "plain", "text/plain":
		return FileText, true
	case "md", ".md", "markdown", ".markdown", "text/markdown":
		return FileMarkdown, true
	}
	return "", false
}

type Document struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	FileType      FileType   `json:"file_type"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	LastIndexedAt *time.Time `json:"last_indexed_at"`
	ChunkCount    int        `json:"chunk_count"`
}

// Searchable reports whether at least one chunk of the document reached the index.
func (d Document) Searchable() bool {
	return d.LastIndexedAt != nil && d.ChunkCount > 0
}

// ChunkMetadata is stored next to every chunk and echoed back in retrieval sources.
type ChunkMetadata struct {
	ChunkIndex  int      `json:"chunkIndex"`
	TotalChunks int      `json:"totalChunks"`
	ChunkSize   int      `json:"chunkSize"`
	FileType    FileType `json:"fileType,omitempty"`
	FileName    string   `json:"fileName,omitempty"`
	Page        *int     `json:"page,omitempty"`
}

type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Embedding  []float32
	Metadata   ChunkMetadata
}

// SearchHit is one nearest-neighbour candidate returned by a vector index.
type SearchHit struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Similarity float64
	Content    string
	Metadata   ChunkMetadata
}

const RetrievalConfigKey = "retrieval_config"

const (
	DefaultSimilarityThreshold = 0.78
	DefaultMaxChunks           = 5
	DefaultUseTopChunks        = 3
)

type RetrievalConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold" validate:"gt=0,lte=1"`
	MaxChunks           int     `json:"max_chunks" validate:"gte=1,lte=100"`
	UseTopChunks        int     `json:"use_top_chunks" validate:"gte=1,ltefield=MaxChunks"`
	DebugMode           bool    `json:"debug_mode"`
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxChunks:           DefaultMaxChunks,
		UseTopChunks:        DefaultUseTopChunks,
	}
}

// Normalize repairs a config read from storage so the pipelines can rely on it:
// out-of-range fields fall back to defaults and use_top_chunks is capped by max_chunks.
func (c RetrievalConfig) Normalize() RetrievalConfig {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MaxChunks < 1 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.UseTopChunks < 1 {
		c.UseTopChunks = DefaultUseTopChunks
	}
	if c.UseTopChunks > c.MaxChunks {
		c.UseTopChunks = c.MaxChunks
	}
	return c
}

// IngestSummary is what an uploader gets back once every chunk has been attempted.
type IngestSummary struct {
	DocumentID    uuid.UUID    `json:"document_id"`
	Name          string       `json:"name"`
	FileType      FileType     `json:"file_type"`
	Total         int          `json:"total_chunks"`
	Processed     int          `json:"processed"`
	Failed        int          `json:"failed"`
	LastIndexedAt *time.Time   `json:"last_indexed_at"`
	Failures      []ChunkIssue `json:"failures,omitempty"`
}

func (s IngestSummary) Indexed() bool {
	return s.Processed > 0
}

type ChunkIssue struct {
	ChunkIndex int    `json:"chunk_index"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

type Source struct {
	DocumentID uuid.UUID     `json:"document_id"`
	FileName   string        `json:"file_name"`
	Similarity float64       `json:"similarity"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// RetrievalResult carries the context block handed to the LLM and its attribution.
type RetrievalResult struct {
	ContextText string   `json:"context"`
	Sources     []Source `json:"sources"`
}

func EmptyRetrieval() *RetrievalResult {
	return &RetrievalResult{ContextText: "", Sources: []Source{}}
}

type LLMConfig struct {
	Provider         string
	URL              string
	Model            string
	APIKey           string
	SystemPrompt     string
	MaxContextTokens int
	Timeout          time.Duration
}

// Extracted is the plain text of an uploaded document. For paged formats
// PageStarts holds the rune offset at which each page begins.
type Extracted struct {
	Text       string
	PageStarts []int
}

// PageAt returns the 1-based page containing the rune offset, or nil when the
// document has no page structure.
func (e Extracted) PageAt(offset int) *int {
	if len(e.PageStarts) == 0 {
		return nil
	}
	page := 1
	for i, start := range e.PageStarts {
		if offset >= start {
			page = i + 1
		}
	}
	return &page
}
