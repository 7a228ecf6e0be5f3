package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// APIKey representa una credencial de acceso al back office
type APIKey struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Label     string     `json:"label" db:"label"`
	KeyHash   string     `json:"-" db:"key_hash"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// APIKeyRepository maneja las credenciales de acceso administrativas
type APIKeyRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewAPIKeyRepository crea una nueva instancia del repositorio
func NewAPIKeyRepository(db *DB, logger *logrus.Logger) *APIKeyRepository {
	return &APIKeyRepository{
		db:     db,
		logger: logger,
	}
}

// hashKey calcula el hash de una clave. Sólo se persiste el hash.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Create registra una nueva credencial y retorna su ID
func (r *APIKeyRepository) Create(label, key string) (*APIKey, error) {
	apiKey := &APIKey{
		ID:        uuid.New(),
		Label:     label,
		KeyHash:   hashKey(key),
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO api_keys (id, label, key_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecWithTimeout(query,
		apiKey.ID, apiKey.Label, apiKey.KeyHash, apiKey.IsActive, apiKey.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating api key: %w", err)
	}

	return apiKey, nil
}

// Validate verifica una credencial activa y registra su último uso
func (r *APIKeyRepository) Validate(key string) (bool, error) {
	query := `
		SELECT id FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var id uuid.UUID
	err := r.db.QueryRowWithTimeout(query, hashKey(key)).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("error validating api key: %w", err)
	}

	// Mejor esfuerzo: un fallo aquí no invalida la autenticación
	if _, err := r.db.ExecWithTimeout(
		`UPDATE api_keys SET last_used = $1 WHERE id = $2`, time.Now(), id,
	); err != nil {
		r.logger.Warnf("Could not update api key last_used: %v", err)
	}

	return true, nil
}
