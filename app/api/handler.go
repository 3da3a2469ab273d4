package api

import (
	"context"
	"time"

	"wellbot/types"

	"github.com/gofiber/fiber/v2"
)

type Retriever interface {
	RetrieveOrEmpty(ctx context.Context, query string, cfg types.RetrievalConfig) (*types.RetrievalResult, bool)
}

type Answerer interface {
	GenerateAnswer(ctx context.Context, contextText, question string) (string, error)
}

type RequestHandler struct {
	retriever Retriever
	settings  ConfigProvider
	agent     Answerer
}

func NewRequestHandler(retriever Retriever, settings ConfigProvider, agent Answerer) *RequestHandler {
	return &RequestHandler{
		retriever: retriever,
		settings:  settings,
		agent:     agent,
	}
}

// HandleRetrieve returns the context block and sources for a query. A failing
// retrieval answers with an empty context and degraded=true.
func (h *RequestHandler) HandleRetrieve(c *fiber.Ctx) error {
	var params types.RetrieveParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	ctx := c.UserContext()
	res, degraded := h.retriever.RetrieveOrEmpty(ctx, params.Query, h.settings.Get(ctx))
	return c.JSON(&types.RetrieveResponse{
		Context:   res.ContextText,
		Sources:   res.Sources,
		Degraded:  degraded,
		Timestamp: time.Now(),
	})
}

func (h *RequestHandler) HandleChat(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	ctx := c.UserContext()
	res, _ := h.retriever.RetrieveOrEmpty(ctx, params.Prompt, h.settings.Get(ctx))

	output, err := h.agent.GenerateAnswer(ctx, res.ContextText, params.Prompt)
	if err != nil {
		return NewError(fiber.StatusBadGateway, err.Error())
	}

	return c.JSON(&types.ChatResponse{
		Answer:    output,
		Sources:   res.Sources,
		Grounded:  len(res.Sources) > 0,
		Timestamp: time.Now(),
	})
}
