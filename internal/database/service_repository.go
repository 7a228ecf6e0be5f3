package database

import (
	"fmt"
	"sync"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// ServiceRepository carga y sirve la configuración de servicios y endpoints
// externos. Todo el comportamiento hacia los proveedores es dirigido por
// datos: ninguna ruta ni límite de tasa vive en el código de los clientes.
//
// La configuración se lee de la base de datos al arranque y en Refresh;
// las lecturas posteriores son de memoria.
type ServiceRepository struct {
	db     *DB
	logger *logrus.Logger

	mu        sync.RWMutex
	services  map[models.ServiceKind]*models.Service
	endpoints map[string]*models.Endpoint // clave: serviceID + "/" + name
}

// NewServiceRepository crea una nueva instancia del repositorio
func NewServiceRepository(db *DB, logger *logrus.Logger) *ServiceRepository {
	return &ServiceRepository{
		db:        db,
		logger:    logger,
		services:  make(map[models.ServiceKind]*models.Service),
		endpoints: make(map[string]*models.Endpoint),
	}
}

// Load carga servicios y endpoints activos desde la base de datos
func (r *ServiceRepository) Load() error {
	services, err := r.loadServices()
	if err != nil {
		return err
	}

	endpoints, err := r.loadEndpoints()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.services = services
	r.endpoints = endpoints
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"services":  len(services),
		"endpoints": len(endpoints),
	}).Info("Integration configuration loaded")

	return nil
}

// Refresh recarga la configuración desde la base de datos
func (r *ServiceRepository) Refresh() error {
	return r.Load()
}

// GetService obtiene el servicio activo de un tipo dado
func (r *ServiceRepository) GetService(kind models.ServiceKind) (*models.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[kind]
	if !ok {
		return nil, models.NewAPIError(models.ErrorCodeConfigMissing,
			fmt.Sprintf("no hay servicio activo configurado para %s", kind))
	}
	return svc, nil
}

// GetEndpoint obtiene un endpoint activo de un servicio por nombre
func (r *ServiceRepository) GetEndpoint(svc *models.Service, name string) (*models.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[svc.ID.String()+"/"+name]
	if !ok {
		return nil, models.NewAPIError(models.ErrorCodeEndpointMissing,
			fmt.Sprintf("endpoint %s no configurado para servicio %s", name, svc.Kind))
	}
	return ep, nil
}

// loadServices lee los servicios activos
func (r *ServiceRepository) loadServices() (map[models.ServiceKind]*models.Service, error) {
	query := `
		SELECT id, kind, base_url, bearer_token, default_rpm, max_batch_size,
		       is_active, created_at, updated_at
		FROM integration_services
		WHERE is_active = true
	`

	rows, err := r.db.QueryWithTimeout(query)
	if err != nil {
		return nil, fmt.Errorf("error querying integration services: %w", err)
	}
	defer rows.Close()

	services := make(map[models.ServiceKind]*models.Service)
	for rows.Next() {
		var svc models.Service
		err := rows.Scan(
			&svc.ID, &svc.Kind, &svc.BaseURL, &svc.BearerToken,
			&svc.DefaultRequestsPerMinute, &svc.MaxBatchSize,
			&svc.IsActive, &svc.CreatedAt, &svc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning integration service: %w", err)
		}

		// Un token vacío es un error de configuración, no de ejecución
		if svc.BearerToken == "" {
			return nil, models.NewAPIError(models.ErrorCodeConfigMissing,
				fmt.Sprintf("servicio %s sin bearer token configurado", svc.Kind))
		}

		services[svc.Kind] = &svc
	}

	return services, rows.Err()
}

// loadEndpoints lee los endpoints activos
func (r *ServiceRepository) loadEndpoints() (map[string]*models.Endpoint, error) {
	query := `
		SELECT id, service_id, name, path, http_method, timeout_seconds,
		       custom_rate_limit, is_active
		FROM integration_endpoints
		WHERE is_active = true
	`

	rows, err := r.db.QueryWithTimeout(query)
	if err != nil {
		return nil, fmt.Errorf("error querying integration endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := make(map[string]*models.Endpoint)
	for rows.Next() {
		var ep models.Endpoint
		err := rows.Scan(
			&ep.ID, &ep.ServiceID, &ep.Name, &ep.Path, &ep.HTTPMethod,
			&ep.TimeoutSeconds, &ep.CustomRateLimit, &ep.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning integration endpoint: %w", err)
		}
		endpoints[ep.ServiceID.String()+"/"+ep.Name] = &ep
	}

	return endpoints, rows.Err()
}
