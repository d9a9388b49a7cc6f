// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	businessflow "github.com/amirphl/warmup-orchestrator/business_flow"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// businessErrorStatus maps business error codes to HTTP status codes
var businessErrorStatus = map[string]int{
	"ACCOUNT_NOT_FOUND":        fiber.StatusNotFound,
	"PHASE_NOT_FOUND":          fiber.StatusNotFound,
	"PHASES_NOT_INITIALIZED":   fiber.StatusNotFound,
	"ASSIGNMENT_NOT_FOUND":     fiber.StatusNotFound,
	"INVALID_PHASE":            fiber.StatusBadRequest,
	"INVALID_LIFECYCLE_STATE":  fiber.StatusBadRequest,
	"INVALID_FAILURE_CATEGORY": fiber.StatusBadRequest,
	"SINGLETON_WORKER_BUSY":    fiber.StatusConflict,
	"PHASE_NOT_AVAILABLE":      fiber.StatusConflict,
}

type baseHandler struct {
	validator *validator.Validate
}

func newBaseHandler() baseHandler {
	return baseHandler{validator: validator.New()}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// validate runs struct validation and reports a 400 response when it fails
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// flowError renders a business error with its mapped status, anything else as 500
func (h *baseHandler) flowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		if status, ok := businessErrorStatus[be.Code]; ok {
			return h.ErrorResponse(c, status, be.Message, be.Code, nil)
		}
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

func (h *baseHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return h.createRequestContextWithTimeout(c, endpoint, utils.DefaultRequestTimeout)
}

func (h *baseHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "numeric":
		return err.Field() + " must contain only numbers"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
