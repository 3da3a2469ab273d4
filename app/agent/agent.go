package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"wellbot/rag"
	"wellbot/types"

	"github.com/pkoukk/tiktoken-go"
)

const DefaultSystemPrompt = `You are a calm, supportive wellness assistant.
Answer clearly and kindly, in the language of the question.
When knowledge base excerpts are provided, prefer them and mention the source name you used.
You are not a doctor: for anything that sounds urgent or medical, suggest contacting a professional.
Don't add introductions like 'Of course!' or 'Here's the answer:'`

// Generator sends one prompt to a language model.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Agent struct {
	gen       Generator
	tok       *tokenizer
	system    string
	maxTokens int
	logger    *slog.Logger
}

func New(cfg types.LLMConfig, logger *slog.Logger) (*Agent, error) {
	var gen Generator
	switch cfg.Provider {
	case "ollama", "":
		gen = NewOllamaGenerator(cfg.URL, cfg.Model, cfg.Timeout)
	case "openai":
		gen = NewOpenAIGenerator(cfg.APIKey, cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return newAgent(gen, loadTokenizer(logger), cfg.SystemPrompt, cfg.MaxContextTokens, logger), nil
}

func newAgent(gen Generator, tok *tokenizer, system string, maxTokens int, logger *slog.Logger) *Agent {
	if system == "" {
		system = DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{gen: gen, tok: tok, system: system, maxTokens: maxTokens, logger: logger}
}

// GenerateAnswer asks the model to answer question, grounded on contextText
// when it is not empty.
func (a *Agent) GenerateAnswer(ctx context.Context, contextText, question string) (string, error) {
	start := time.Now()

	trimmed := a.TrimContext(contextText)
	prompt := BuildPrompt(trimmed, question)

	a.logger.Debug("[AGENT] prompt prepared",
		"context_tokens", a.tok.Count(trimmed),
		"prompt_tokens", a.tok.Count(a.system)+a.tok.Count(prompt),
		"grounded", trimmed != "",
	)

	answer, err := a.gen.Generate(ctx, a.system, prompt)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	a.logger.Info("[AGENT] answer generated", "took", time.Since(start))
	return strings.TrimSpace(answer), nil
}

// BuildPrompt omits the knowledge base section entirely when contextText is empty.
func BuildPrompt(contextText, question string) string {
	var b strings.Builder
	if strings.TrimSpace(contextText) != "" {
		b.WriteString("Use the knowledge base excerpts below if they help answer the question.\n\n")
		b.WriteString("Knowledge base:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// TrimContext keeps whole context blocks, in rank order, while they fit the
// token budget. If even the first block is too long it is cut.
func (a *Agent) TrimContext(contextText string) string {
	if a.maxTokens <= 0 || contextText == "" || a.tok.Count(contextText) <= a.maxTokens {
		return contextText
	}

	blocks := strings.Split(contextText, rag.ContextSeparator)
	sepTokens := a.tok.Count(rag.ContextSeparator)
	used := 0
	kept := 0
	for i, block := range blocks {
		n := a.tok.Count(block)
		if i > 0 {
			n += sepTokens
		}
		if used+n > a.maxTokens {
			break
		}
		used += n
		kept++
	}

	a.logger.Info("[AGENT] context trimmed to token budget", "blocks", len(blocks), "kept", kept, "budget", a.maxTokens)
	if kept == 0 {
		return a.tok.Truncate(blocks[0], a.maxTokens)
	}
	return strings.Join(blocks[:kept], rag.ContextSeparator)
}

// tokenizer counts tokens with the cl100k encoding. Without it (the encoding
// is fetched on first use) it estimates four characters per token.
type tokenizer struct {
	enc *tiktoken.Tiktoken
}

var (
	encOnce sync.Once
	encErr  error
	enc     *tiktoken.Tiktoken
)

func loadTokenizer(logger *slog.Logger) *tokenizer {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if encErr != nil {
		if logger != nil {
			logger.Warn("[AGENT] tiktoken encoding unavailable, estimating tokens", "error", encErr)
		}
		return &tokenizer{}
	}
	return &tokenizer{enc: enc}
}

func (t *tokenizer) Count(s string) int {
	if t.enc == nil {
		return (utf8.RuneCountInString(s) + 3) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}

func (t *tokenizer) Truncate(s string, n int) string {
	if t.enc == nil {
		r := []rune(s)
		if len(r) <= n*4 {
			return s
		}
		return string(r[:n*4])
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= n {
		return s
	}
	return t.enc.Decode(tokens[:n])
}
