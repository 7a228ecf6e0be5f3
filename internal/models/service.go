package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceKind representa el tipo de proveedor externo
type ServiceKind string

const (
	ServiceKindMigo     ServiceKind = "MIGO"
	ServiceKindNubefact ServiceKind = "NUBEFACT"
)

// Nombres de endpoints conocidos. Las rutas y límites viven en la base de
// datos; el código sólo referencia operaciones por nombre.
const (
	EndpointConsultarRUC       = "consultar_ruc"
	EndpointConsultarDNI       = "consultar_dni"
	EndpointRUCCollection      = "ruc_collection"
	EndpointTipoCambioLatest   = "tipo_cambio_latest"
	EndpointTipoCambioFecha    = "tipo_cambio_fecha"
	EndpointGenerarComprobante = "generar_comprobante"
)

// Service representa un proveedor externo configurado (Migo o Nubefact)
type Service struct {
	ID                       uuid.UUID   `json:"id" db:"id"`
	Kind                     ServiceKind `json:"kind" db:"kind"`
	BaseURL                  string      `json:"base_url" db:"base_url"`
	BearerToken              string      `json:"-" db:"bearer_token"`
	DefaultRequestsPerMinute int         `json:"default_requests_per_minute" db:"default_rpm"`
	MaxBatchSize             int         `json:"max_batch_size" db:"max_batch_size"`
	IsActive                 bool        `json:"is_active" db:"is_active"`
	CreatedAt                time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time   `json:"updated_at" db:"updated_at"`
}

// Endpoint representa una operación configurada de un servicio
type Endpoint struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ServiceID       uuid.UUID `json:"service_id" db:"service_id"`
	Name            string    `json:"name" db:"name"`
	Path            string    `json:"path" db:"path"`
	HTTPMethod      string    `json:"http_method" db:"http_method"`
	TimeoutSeconds  int       `json:"timeout_seconds" db:"timeout_seconds"`
	CustomRateLimit *int      `json:"custom_rate_limit,omitempty" db:"custom_rate_limit"`
	IsActive        bool      `json:"is_active" db:"is_active"`
}

// Timeout retorna el timeout configurado del endpoint (30s por defecto)
func (e *Endpoint) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// RateLimit retorna el límite por minuto del endpoint, cayendo al
// límite por defecto del servicio si no hay uno propio
func (e *Endpoint) RateLimit(svc *Service) int {
	if e.CustomRateLimit != nil && *e.CustomRateLimit > 0 {
		return *e.CustomRateLimit
	}
	return svc.DefaultRequestsPerMinute
}
