package database

import (
	"context"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CallLogRepository maneja el registro de auditoría de llamadas salientes.
// Las escrituras son append-only; no hay actualizaciones.
type CallLogRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewCallLogRepository crea una nueva instancia del repositorio
func NewCallLogRepository(db *DB, logger *logrus.Logger) *CallLogRepository {
	return &CallLogRepository{
		db:     db,
		logger: logger,
	}
}

// AppendCallLog persiste un registro de auditoría
func (r *CallLogRepository) AppendCallLog(ctx context.Context, log *models.CallLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO integration_call_logs (
			id, service_id, endpoint_id, batch_ref, status, http_code,
			duration_ms, request_snapshot, response_snapshot, error_message,
			called_from, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.ServiceID, log.EndpointID, log.BatchRef, log.Status,
		log.HTTPCode, log.DurationMS, log.RequestSnapshot, log.ResponseSnapshot,
		log.ErrorMessage, log.CalledFrom, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error appending call log: %w", err)
	}

	return nil
}

// GetByBatchRef obtiene los registros de auditoría de un lote
func (r *CallLogRepository) GetByBatchRef(batchRef uuid.UUID) ([]models.CallLog, error) {
	query := `
		SELECT id, service_id, endpoint_id, batch_ref, status, http_code,
		       duration_ms, request_snapshot, response_snapshot, error_message,
		       called_from, created_at
		FROM integration_call_logs
		WHERE batch_ref = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryWithTimeout(query, batchRef)
	if err != nil {
		return nil, fmt.Errorf("error querying call logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CallLog
	for rows.Next() {
		var log models.CallLog
		err := rows.Scan(
			&log.ID, &log.ServiceID, &log.EndpointID, &log.BatchRef,
			&log.Status, &log.HTTPCode, &log.DurationMS, &log.RequestSnapshot,
			&log.ResponseSnapshot, &log.ErrorMessage, &log.CalledFrom, &log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning call log: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}
