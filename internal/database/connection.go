package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DB representa la conexión a la base de datos
type DB struct {
	*sql.DB
}

// Connect establece la conexión a PostgreSQL
func Connect(cfg *config.Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Pool dimensionado para el tráfico de auditoría: muchas escrituras
	// cortas concurrentes desde los workers asíncronos
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return &DB{db}, nil
}

// Close cierra la conexión a la base de datos
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck verifica la salud de la base de datos
func (db *DB) HealthCheck() error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.QueryContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("database query test failed: %w", err)
	}

	return nil
}

// ExecWithTimeout ejecuta una query con timeout
func (db *DB) ExecWithTimeout(query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.ExecContext(ctx, query, args...)
}

// QueryWithTimeout ejecuta una query de lectura con timeout
func (db *DB) QueryWithTimeout(query string, args ...interface{}) (*sql.Rows, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.QueryContext(ctx, query, args...)
}

// QueryRowWithTimeout ejecuta una query de una fila con timeout
func (db *DB) QueryRowWithTimeout(query string, args ...interface{}) *sql.Row {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return db.QueryRowContext(ctx, query, args...)
}

// LogStats registra las estadísticas del pool de conexiones
func (db *DB) LogStats(logger *logrus.Logger) {
	stats := db.Stats()
	logger.WithFields(logrus.Fields{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
	}).Info("Database pool statistics")
}
