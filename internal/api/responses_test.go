package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestStatusDe(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "límite de tasa", err: models.NewRateLimitError(12.5), status: http.StatusTooManyRequests},
		{name: "formato inválido", err: models.NewAPIError(models.ErrorCodeInvalidFormat, "x"), status: http.StatusUnprocessableEntity},
		{name: "validación del proveedor", err: models.NewAPIError(models.ErrorCodeValidationFailed, "x"), status: http.StatusUnprocessableEntity},
		{name: "no encontrado", err: models.NewAPIError(models.ErrorCodeNotFound, "x"), status: http.StatusNotFound},
		{name: "configuración faltante", err: models.NewAPIError(models.ErrorCodeConfigMissing, "x"), status: http.StatusInternalServerError},
		{name: "autenticación contra el proveedor", err: models.NewAPIError(models.ErrorCodeAuthFailed, "x"), status: http.StatusBadGateway},
		{name: "proveedor caído", err: models.NewAPIError(models.ErrorCodeProviderError, "x"), status: http.StatusBadGateway},
		{name: "error sin tipificar", err: errors.New("algo"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, response := statusDe(tt.err)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, response.Error.Message)
		})
	}
}

func TestStatusDePropagaLaEspera(t *testing.T) {
	status, response := statusDe(models.NewRateLimitError(30))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", response.Error.Code)
	assert.Equal(t, 30.0, response.Error.WaitSeconds)
}
