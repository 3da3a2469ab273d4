package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New()

type QueryParams struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
}

type RetrieveParams struct {
	Query string `json:"query" validate:"required,max=4000"`
}

type ConfigParams struct {
	SimilarityThreshold float64 `json:"similarity_threshold" validate:"gt=0,lte=1"`
	MaxChunks           int     `json:"max_chunks" validate:"gte=1,lte=100"`
	UseTopChunks        int     `json:"use_top_chunks" validate:"gte=1,ltefield=MaxChunks"`
	DebugMode           bool    `json:"debug_mode"`
}

func (params *ConfigParams) RetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SimilarityThreshold: params.SimilarityThreshold,
		MaxChunks:           params.MaxChunks,
		UseTopChunks:        params.UseTopChunks,
		DebugMode:           params.DebugMode,
	}
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *ConfigParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *QueryParams) Validate() map[string]string {
	return validateStruct(params)
}

func (params *RetrieveParams) Validate() map[string]string {
	return validateStruct(params)
}

// ValidateRetrievalConfig is used by writers that bypass the HTTP layer (CLI, tests).
func ValidateRetrievalConfig(cfg RetrievalConfig) error {
	if errs := validateStruct(&cfg); len(errs) > 0 {
		return NewValidationError(errs)
	}
	return nil
}

func validateStruct(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

type RetrieveResponse struct {
	Context   string    `json:"context"`
	Sources   []Source  `json:"sources"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatResponse struct {
	Answer    string    `json:"answer"`
	Sources   []Source  `json:"sources"`
	Grounded  bool      `json:"grounded"`
	Timestamp time.Time `json:"timestamp"`
}
