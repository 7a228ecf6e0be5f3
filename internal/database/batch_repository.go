package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BatchRepository maneja los sobres agregados de operaciones en lote
type BatchRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewBatchRepository crea una nueva instancia del repositorio
func NewBatchRepository(db *DB, logger *logrus.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: logger,
	}
}

// Create registra un nuevo lote en estado PROCESSING
func (r *BatchRepository) Create(batch *models.BatchRequest) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.Status = models.BatchStatusProcessing
	batch.CreatedAt = time.Now()

	query := `
		INSERT INTO integration_batch_requests (
			id, service_id, status, total_items, processed_items,
			successful_items, failed_items, input_snapshot, result_snapshot,
			error_summary, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecWithTimeout(query,
		batch.ID, batch.ServiceID, batch.Status, batch.TotalItems,
		batch.ProcessedItems, batch.SuccessfulItems, batch.FailedItems,
		batch.InputSnapshot, batch.ResultSnapshot, batch.ErrorSummary,
		batch.CreatedAt, batch.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("error creating batch request: %w", err)
	}

	return nil
}

// Update avanza el estado de un lote. Los contadores sólo crecen; el
// estado terminal queda fijado por completed_at.
func (r *BatchRepository) Update(batch *models.BatchRequest) error {
	query := `
		UPDATE integration_batch_requests
		SET status = $1, processed_items = $2, successful_items = $3,
		    failed_items = $4, result_snapshot = $5, error_summary = $6,
		    completed_at = $7
		WHERE id = $8 AND completed_at IS NULL
	`

	result, err := r.db.ExecWithTimeout(query,
		batch.Status, batch.ProcessedItems, batch.SuccessfulItems,
		batch.FailedItems, batch.ResultSnapshot, batch.ErrorSummary,
		batch.CompletedAt, batch.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating batch request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("batch request not found or already terminal: %s", batch.ID)
	}

	return nil
}

// GetByID obtiene un lote por ID
func (r *BatchRepository) GetByID(id uuid.UUID) (*models.BatchRequest, error) {
	query := `
		SELECT id, service_id, status, total_items, processed_items,
		       successful_items, failed_items, input_snapshot, result_snapshot,
		       error_summary, created_at, completed_at
		FROM integration_batch_requests
		WHERE id = $1
	`

	var batch models.BatchRequest
	err := r.db.QueryRowWithTimeout(query, id).Scan(
		&batch.ID, &batch.ServiceID, &batch.Status, &batch.TotalItems,
		&batch.ProcessedItems, &batch.SuccessfulItems, &batch.FailedItems,
		&batch.InputSnapshot, &batch.ResultSnapshot, &batch.ErrorSummary,
		&batch.CreatedAt, &batch.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch request not found: %s", id)
		}
		return nil, fmt.Errorf("error querying batch request: %w", err)
	}

	return &batch, nil
}
