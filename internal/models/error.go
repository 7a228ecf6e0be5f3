package models

import (
	"errors"
	"fmt"
)

// ErrorCode representa el código de error de la capa de integraciones
type ErrorCode string

const (
	ErrorCodeConfigMissing     ErrorCode = "CONFIG_MISSING"
	ErrorCodeEndpointMissing   ErrorCode = "ENDPOINT_MISSING"
	ErrorCodeInvalidFormat     ErrorCode = "INVALID_FORMAT"
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeAuthFailed        ErrorCode = "AUTH_FAILED"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrorCodeProviderError     ErrorCode = "PROVIDER_ERROR"
	ErrorCodeTransportError    ErrorCode = "TRANSPORT_ERROR"
	ErrorCodeBadResponse       ErrorCode = "BAD_RESPONSE"
)

// APIError representa un error tipificado de una llamada saliente
type APIError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	HTTPCode    int       `json:"http_code,omitempty"`
	WaitSeconds float64   `json:"wait_seconds,omitempty"`
}

// Error implementa la interfaz error
func (e *APIError) Error() string {
	if e.HTTPCode > 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Code, e.HTTPCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError crea un nuevo error tipificado
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// NewHTTPError crea un error tipificado con código HTTP
func NewHTTPError(code ErrorCode, httpCode int, message string) *APIError {
	return &APIError{Code: code, Message: message, HTTPCode: httpCode}
}

// NewRateLimitError crea un error de límite de tasa con el tiempo de espera
func NewRateLimitError(waitSeconds float64) *APIError {
	return &APIError{
		Code:        ErrorCodeRateLimitExceeded,
		Message:     fmt.Sprintf("límite de tasa alcanzado, reintentar en %.1f segundos", waitSeconds),
		WaitSeconds: waitSeconds,
	}
}

// CodeOf retorna el código tipificado de un error, o cadena vacía
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsRetryable indica si el error amerita reintento con backoff.
// Sólo errores 5xx y de transporte se reintentan; los 4xx nunca.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeProviderError, ErrorCodeTransportError:
		return true
	}
	return false
}
