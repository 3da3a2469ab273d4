package api

import (
	"errors"
	"fmt"
	"log/slog"

	"wellbot/rag"
	"wellbot/store"
	"wellbot/types"

	"github.com/gofiber/fiber/v2"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	var valErr types.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}

	switch {
	case errors.Is(err, rag.ErrUnsupportedOrCorruptDocument):
		apiErr = NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		apiErr = NewError(fiber.StatusNotFound, err.Error())
	default:
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			apiErr = NewError(fiberErr.Code, fiberErr.Message)
		} else {
			apiErr = NewError(fiber.StatusInternalServerError, "internal server error")
		}
	}

	slog.Error("Request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}

func ErrUnsupportedFile(name string) Error {
	return Error{
		Code:    fiber.StatusUnprocessableEntity,
		Message: fmt.Sprintf("unsupported file type: %s", name),
	}
}
