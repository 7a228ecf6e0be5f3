package models

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus representa el estado registrado de una llamada saliente
type CallStatus string

const (
	CallStatusSuccess       CallStatus = "SUCCESS"
	CallStatusFailed        CallStatus = "FAILED"
	CallStatusRateLimited   CallStatus = "RATE_LIMITED"
	CallStatusCacheInvalid  CallStatus = "CACHE_INVALID"
	CallStatusInvalidFormat CallStatus = "INVALID_FORMAT"
)

// MaxErrorMessageLen es el largo máximo persistido de un mensaje de error
const MaxErrorMessageLen = 500

// CallLog representa el registro de auditoría de una llamada o decisión
// saliente. Es inmutable una vez escrito.
type CallLog struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	ServiceID        uuid.UUID  `json:"service_id" db:"service_id"`
	EndpointID       uuid.UUID  `json:"endpoint_id" db:"endpoint_id"`
	BatchRef         *uuid.UUID `json:"batch_ref,omitempty" db:"batch_ref"`
	Status           CallStatus `json:"status" db:"status"`
	HTTPCode         *int       `json:"http_code,omitempty" db:"http_code"`
	DurationMS       int64      `json:"duration_ms" db:"duration_ms"`
	RequestSnapshot  string     `json:"request_snapshot" db:"request_snapshot"`
	ResponseSnapshot string     `json:"response_snapshot" db:"response_snapshot"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
	CalledFrom       string     `json:"called_from" db:"called_from"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// BatchStatus representa el estado de una operación en lote
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusPartial    BatchStatus = "PARTIAL"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// BatchRequest representa el sobre agregado de una operación en lote.
// Los contadores avanzan de forma monótona; CompletedAt marca el estado terminal.
type BatchRequest struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	ServiceID       uuid.UUID   `json:"service_id" db:"service_id"`
	Status          BatchStatus `json:"status" db:"status"`
	TotalItems      int         `json:"total_items" db:"total_items"`
	ProcessedItems  int         `json:"processed_items" db:"processed_items"`
	SuccessfulItems int         `json:"successful_items" db:"successful_items"`
	FailedItems     int         `json:"failed_items" db:"failed_items"`
	InputSnapshot   string      `json:"input_snapshot" db:"input_snapshot"`
	ResultSnapshot  string      `json:"result_snapshot" db:"result_snapshot"`
	ErrorSummary    string      `json:"error_summary,omitempty" db:"error_summary"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}
