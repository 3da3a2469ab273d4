package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrEmbeddingUnavailable marks a transport, quota or decoding failure of the embedding service.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrEmptyInput is returned for text that is blank after normalization.
	ErrEmptyInput = errors.New("embedding input is empty")
)

// EmbedderInterface определяет интерфейс для создания эмбеддингов
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// BatchEmbedder is implemented by services that accept several inputs per call.
type BatchEmbedder interface {
	EmbedderInterface
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbeddingConfig struct {
	Provider          string
	URL               string
	Model             string
	APIKey            string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
}

// NewEmbedder builds the configured provider wrapped with rate limiting and retries.
func NewEmbedder(cfg EmbeddingConfig, logger *slog.Logger) (EmbedderInterface, error) {
	var base EmbedderInterface
	switch cfg.Provider {
	case "ollama", "":
		base = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimensions, cfg.Timeout)
	case "openai":
		e, err := NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		base = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("[EMBEDDER] configured", "provider", cfg.Provider, "model", cfg.Model, "dimensions", base.Dimensions())

	return NewResilient(base, cfg.RequestsPerSecond, cfg.Burst, cfg.MaxRetries, logger), nil
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// NormalizeText collapses newlines into spaces; embedding models are sensitive to raw newlines.
func NormalizeText(text string) string {
	return strings.TrimSpace(newlineReplacer.Replace(text))
}

// Normalize returns the L2-normalized copy of vec so cosine similarity equals the dot product.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	norm := math.Sqrt(sum)
	if norm == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Resilient wraps an embedder with a token bucket and bounded retries.
type Resilient struct {
	next       EmbedderInterface
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewResilient(next EmbedderInterface, rps float64, burst, maxRetries int, logger *slog.Logger) *Resilient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{
		next:       next,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}
}

func (r *Resilient) Dimensions() int {
	return r.next.Dimensions()
}

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = NormalizeText(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	var vec []float32
	err := r.do(ctx, func() error {
		v, err := r.next.Embed(ctx, text)
		vec = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.check(vec)
}

// EmbedBatch is only offered when the wrapped provider supports batching.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batcher, ok := r.next.(BatchEmbedder)
	if !ok {
		return nil, fmt.Errorf("%w: provider does not support batching", ErrEmbeddingUnavailable)
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = NormalizeText(t)
		if inputs[i] == "" {
			return nil, ErrEmptyInput
		}
	}
	var vecs [][]float32
	err := r.do(ctx, func() error {
		v, err := batcher.EmbedBatch(ctx, inputs)
		vecs = v
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingUnavailable, len(vecs), len(inputs))
	}
	for i := range vecs {
		if vecs[i], err = r.check(vecs[i]); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

// SupportsBatch reports whether EmbedBatch can be used.
func (r *Resilient) SupportsBatch() bool {
	_, ok := r.next.(BatchEmbedder)
	return ok
}

func (r *Resilient) do(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < r.maxRetries {
			delay := r.backoff << attempt
			r.logger.Warn("[EMBEDDER] retrying", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	if errors.Is(lastErr, ErrEmbeddingUnavailable) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

func (r *Resilient) check(vec []float32) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingUnavailable)
	}
	if d := r.next.Dimensions(); d > 0 && len(vec) != d {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingUnavailable, len(vec), d)
	}
	return Normalize(vec), nil
}
