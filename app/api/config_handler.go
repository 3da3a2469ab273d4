package api

import (
	"context"

	"wellbot/types"

	"github.com/gofiber/fiber/v2"
)

type ConfigProvider interface {
	Get(ctx context.Context) types.RetrievalConfig
	Set(ctx context.Context, cfg types.RetrievalConfig) error
}

type ConfigHandler struct {
	settings ConfigProvider
}

func NewConfigHandler(settings ConfigProvider) *ConfigHandler {
	return &ConfigHandler{
		settings: settings,
	}
}

func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	return c.JSON(h.settings.Get(c.UserContext()))
}

// HandleSetConfig replaces the retrieval config. The next retrieval picks it up.
func (h *ConfigHandler) HandleSetConfig(c *fiber.Ctx) error {
	var params types.ConfigParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	cfg := params.RetrievalConfig()
	if err := h.settings.Set(c.UserContext(), cfg); err != nil {
		return err
	}
	return c.JSON(cfg)
}
