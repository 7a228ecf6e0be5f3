package api

import (
	"errors"
	"net/http"

	"github.com/andeslabs/facturacion-service/internal/models"
)

// ErrorDetail representa un detalle específico del error
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ErrorInfo representa la información del error
type ErrorInfo struct {
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	WaitSeconds float64       `json:"wait_seconds,omitempty"`
	Details     []ErrorDetail `json:"details,omitempty"`
}

// ErrorResponse representa la respuesta de error estandarizada
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// NewErrorResponse crea una nueva respuesta de error
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewValidationError crea un error de validación con detalles
func NewValidationError(message string, details []ErrorDetail) ErrorResponse {
	return ErrorResponse{
		Error: ErrorInfo{
			Code:    "INVALID_REQUEST",
			Message: message,
			Details: details,
		},
	}
}

// NewUnauthorizedError crea un error de autenticación
func NewUnauthorizedError(message string) ErrorResponse {
	return NewErrorResponse("UNAUTHORIZED", message)
}

// NewNotFoundError crea un error de recurso no encontrado
func NewNotFoundError(message string) ErrorResponse {
	return NewErrorResponse("NOT_FOUND", message)
}

// NewInternalError crea un error interno del servidor
func NewInternalError(message string) ErrorResponse {
	return NewErrorResponse("INTERNAL", message)
}

// statusDe traduce un error tipificado de la capa de integraciones al
// código HTTP que ve el back office
func statusDe(err error) (int, ErrorResponse) {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError, NewInternalError(err.Error())
	}

	response := ErrorResponse{
		Error: ErrorInfo{
			Code:        string(apiErr.Code),
			Message:     apiErr.Message,
			WaitSeconds: apiErr.WaitSeconds,
		},
	}

	switch apiErr.Code {
	case models.ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests, response
	case models.ErrorCodeInvalidFormat, models.ErrorCodeValidationFailed:
		return http.StatusUnprocessableEntity, response
	case models.ErrorCodeNotFound:
		return http.StatusNotFound, response
	case models.ErrorCodeConfigMissing, models.ErrorCodeEndpointMissing:
		return http.StatusInternalServerError, response
	case models.ErrorCodeAuthFailed, models.ErrorCodeProviderError,
		models.ErrorCodeTransportError, models.ErrorCodeBadResponse:
		return http.StatusBadGateway, response
	default:
		return http.StatusInternalServerError, response
	}
}
