package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// PartnerRepository expone la vista mínima de socios de negocio que la
// capa de integraciones necesita: buscar por número de documento y
// actualizar los campos de identidad tras una consulta exitosa.
type PartnerRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewPartnerRepository crea una nueva instancia del repositorio
func NewPartnerRepository(db *DB, logger *logrus.Logger) *PartnerRepository {
	return &PartnerRepository{
		db:     db,
		logger: logger,
	}
}

// GetByNumeroDocumento busca un socio por RUC o DNI. Retorna nil sin
// error si no existe.
func (r *PartnerRepository) GetByNumeroDocumento(numero string) (*models.Partner, error) {
	query := `
		SELECT id, numero_documento, razon_social, direccion,
		       estado_contribuyente, condicion_domicilio, updated_at
		FROM partners
		WHERE numero_documento = $1
	`

	var partner models.Partner
	err := r.db.QueryRowWithTimeout(query, numero).Scan(
		&partner.ID, &partner.NumeroDocumento, &partner.RazonSocial,
		&partner.Direccion, &partner.EstadoContribuyente,
		&partner.CondicionDomicilio, &partner.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying partner: %w", err)
	}

	return &partner, nil
}

// ActualizarIdentidad parchea los campos de identidad de un socio con la
// respuesta de SUNAT
func (r *PartnerRepository) ActualizarIdentidad(numero string, info *models.RUCInfo) error {
	query := `
		UPDATE partners
		SET razon_social = $1, direccion = $2, estado_contribuyente = $3,
		    condicion_domicilio = $4, updated_at = $5
		WHERE numero_documento = $6
	`

	razonSocial := info.NombreORazonSocial
	if razonSocial == "" {
		razonSocial = info.Nombre
	}

	_, err := r.db.ExecWithTimeout(query,
		razonSocial, info.Direccion, info.EstadoDelContribuyente,
		info.CondicionDeDomicilio, time.Now(), numero,
	)
	if err != nil {
		return fmt.Errorf("error updating partner identity: %w", err)
	}

	return nil
}
