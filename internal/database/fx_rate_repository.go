package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// FXRateRepository maneja los tipos de cambio persistidos
type FXRateRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewFXRateRepository crea una nueva instancia del repositorio
func NewFXRateRepository(db *DB, logger *logrus.Logger) *FXRateRepository {
	return &FXRateRepository{
		db:     db,
		logger: logger,
	}
}

// GetByFecha obtiene el tipo de cambio de una fecha (YYYY-MM-DD).
// Retorna nil sin error si no existe.
func (r *FXRateRepository) GetByFecha(fecha string) (*models.FXRate, error) {
	query := `
		SELECT fecha, compra, venta, created_at
		FROM fx_rates
		WHERE fecha = $1
	`

	var rate models.FXRate
	err := r.db.QueryRowWithTimeout(query, fecha).Scan(
		&rate.Fecha, &rate.Compra, &rate.Venta, &rate.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying fx rate: %w", err)
	}

	return &rate, nil
}

// GetMasReciente obtiene el tipo de cambio más reciente disponible.
// Retorna nil sin error si no hay ninguno.
func (r *FXRateRepository) GetMasReciente() (*models.FXRate, error) {
	query := `
		SELECT fecha, compra, venta, created_at
		FROM fx_rates
		ORDER BY fecha DESC
		LIMIT 1
	`

	var rate models.FXRate
	err := r.db.QueryRowWithTimeout(query).Scan(
		&rate.Fecha, &rate.Compra, &rate.Venta, &rate.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying latest fx rate: %w", err)
	}

	return &rate, nil
}

// Upsert registra o actualiza el tipo de cambio de una fecha
func (r *FXRateRepository) Upsert(fecha string, compra, venta float64) error {
	query := `
		INSERT INTO fx_rates (fecha, compra, venta, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fecha) DO UPDATE
		SET compra = EXCLUDED.compra, venta = EXCLUDED.venta
	`

	_, err := r.db.ExecWithTimeout(query, fecha, compra, venta, time.Now())
	if err != nil {
		return fmt.Errorf("error upserting fx rate: %w", err)
	}

	return nil
}
