package migo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andeslabs/facturacion-service/internal/audit"
	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Largos exactos de los identificadores aceptados
const (
	largoRUC = 11
	largoDNI = 8
)

// PartnerStore es la vista de socios de negocio que el cliente actualiza
// tras una consulta de identidad exitosa
type PartnerStore interface {
	GetByNumeroDocumento(numero string) (*models.Partner, error)
	ActualizarIdentidad(numero string, info *models.RUCInfo) error
}

// FXStore es la vista de tipos de cambio persistidos en la fachada
type FXStore interface {
	GetByFecha(fecha string) (*models.FXRate, error)
	GetMasReciente() (*models.FXRate, error)
	Upsert(fecha string, compra, venta float64) error
}

// BatchStore es la vista del ciclo de vida de lotes
type BatchStore interface {
	Create(batch *models.BatchRequest) error
	Update(batch *models.BatchRequest) error
}

// Client es el cliente de Migo: consultas de identidad (RUC/DNI) y tipo
// de cambio. Toda llamada saliente pasa por el ejecutor compartido; las
// decisiones locales (formato, caché) se auditan directamente.
type Client struct {
	config   executor.ConfigStore
	exec     *executor.Executor
	cache    *cache.Cache
	audit    *audit.Logger
	partners PartnerStore
	fxRepo   FXStore
	batches  BatchStore
	logger   *logrus.Logger

	maxRetries        int
	maxBatchSize      int
	esperaEntreRondas time.Duration

	// sleep y now son inyectables para pruebas
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Options agrupa los colaboradores del cliente de Migo
type Options struct {
	Config   executor.ConfigStore
	Executor *executor.Executor
	Cache    *cache.Cache
	Audit    *audit.Logger
	Partners PartnerStore
	FXRepo   FXStore
	Batches  BatchStore
	Logger   *logrus.Logger

	// MaxRetries es el presupuesto de reintentos por llamada (2 para Migo)
	MaxRetries int
	// MaxBatchSize es el tope de identificadores por llamada en lote
	MaxBatchSize int
	// EsperaEntreRondas separa las rondas de recuperación de omitidos
	// para darle aire al proveedor
	EsperaEntreRondas time.Duration
}

// NewClient crea el cliente de Migo
func NewClient(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.MaxBatchSize <= 0 || opts.MaxBatchSize > 100 {
		opts.MaxBatchSize = 100
	}
	if opts.EsperaEntreRondas <= 0 {
		opts.EsperaEntreRondas = 2 * time.Second
	}
	return &Client{
		config:            opts.Config,
		exec:              opts.Executor,
		cache:             opts.Cache,
		audit:             opts.Audit,
		partners:          opts.Partners,
		fxRepo:            opts.FXRepo,
		batches:           opts.Batches,
		logger:            opts.Logger,
		maxRetries:        opts.MaxRetries,
		maxBatchSize:      opts.MaxBatchSize,
		esperaEntreRondas: opts.EsperaEntreRondas,
		sleep:             sleepCtx,
		now:               time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// formatoValido verifica que el identificador sea todo dígitos con largo
// exacto de RUC o DNI
func formatoValido(id string) bool {
	if len(id) != largoRUC && len(id) != largoDNI {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// endpointParaID retorna el nombre de endpoint según el largo del
// identificador; los largos inválidos caen en consultar_ruc sólo para
// poder auditar el rechazo contra un endpoint real
func endpointParaID(id string) string {
	if len(id) == largoDNI {
		return models.EndpointConsultarDNI
	}
	return models.EndpointConsultarRUC
}

// logDecision audita una decisión local que no generó tráfico HTTP
func (c *Client) logDecision(ctx context.Context, svc *models.Service, ep *models.Endpoint, status models.CallStatus, id, detalle, calledFrom string) {
	if err := c.audit.LogSync(ctx, &models.CallLog{
		ServiceID:       svc.ID,
		EndpointID:      ep.ID,
		Status:          status,
		RequestSnapshot: fmt.Sprintf(`{"id":%q}`, id),
		ErrorMessage:    detalle,
		CalledFrom:      calledFrom,
	}); err != nil {
		c.logger.Warnf("Audit write failed for local decision: %v", err)
	}
}

// ConsultarID consulta un RUC o DNI contra Migo, con corte por formato,
// por conjunto de inválidos y por caché de válidos antes de ir a la red.
// forceRefresh saltea ambos cortes de caché y fuerza la llamada.
func (c *Client) ConsultarID(ctx context.Context, id string, forceRefresh bool) (*models.LookupResult, error) {
	id = strings.TrimSpace(id)

	svc, err := c.config.GetService(models.ServiceKindMigo)
	if err != nil {
		return nil, err
	}
	ep, err := c.config.GetEndpoint(svc, endpointParaID(id))
	if err != nil {
		return nil, err
	}

	// 1. Formato: se rechaza localmente, sin tráfico
	if !formatoValido(id) {
		c.logDecision(ctx, svc, ep, models.CallStatusInvalidFormat, id,
			fmt.Sprintf("identificador %q no tiene formato de RUC ni DNI", id), "consultar_id")
		return &models.LookupResult{ID: id, Valid: false, Reason: models.MotivoFormato}, nil
	}

	// 2. Conjunto de inválidos: negativo cacheado
	if !forceRefresh {
		if invalido, entry := c.cache.IsInvalid(ctx, id); invalido {
			c.logDecision(ctx, svc, ep, models.CallStatusCacheInvalid, id, entry.Reason, "consultar_id")
			return &models.LookupResult{
				ID:        id,
				Valid:     false,
				Reason:    entry.Reason,
				CacheHit:  true,
				CacheType: models.CacheTypeInvalid,
			}, nil
		}

		// 3. Caché de válidos: positivo cacheado
		var info models.RUCInfo
		if found := c.cache.GetJSON(ctx, cache.NamespaceValido, id, &info); found {
			c.logDecision(ctx, svc, ep, models.CallStatusSuccess, id, "", "consultar_id")
			return &models.LookupResult{
				ID:        id,
				Valid:     info.Habilitado(),
				CacheHit:  true,
				CacheType: models.CacheTypeValid,
				Info:      &info,
			}, nil
		}
	}

	// 4. Llamada al proveedor
	info, err := c.consultarUpstream(ctx, svc, ep, id)
	if err != nil {
		// 6. "no existe" entra al conjunto de inválidos por 24 horas
		if models.CodeOf(err) == models.ErrorCodeNotFound {
			c.cache.AddInvalid(ctx, id, models.MotivoNoExisteSunat, cache.TTLInvalido)
			return &models.LookupResult{ID: id, Valid: false, Reason: models.MotivoNoExisteSunat}, nil
		}
		// 7. Cualquier otro error se propaga sin cachear
		return nil, err
	}

	// 5. Positivo: caché de válidos (1 hora) y back-fill del socio
	c.cache.SetJSON(ctx, cache.NamespaceValido, id, info, cache.TTLValido)
	c.actualizarPartner(id, info)

	return &models.LookupResult{ID: id, Valid: info.Habilitado(), Info: info}, nil
}

// consultarUpstream despacha la consulta individual y normaliza el
// desenlace del proveedor
func (c *Client) consultarUpstream(ctx context.Context, svc *models.Service, ep *models.Endpoint, id string) (*models.RUCInfo, error) {
	campo := "ruc"
	if len(id) == largoDNI {
		campo = "dni"
	}

	// Migo repite el token en el cuerpo además del encabezado
	result, err := c.exec.Execute(ctx, &executor.Request{
		Service:    svc,
		Endpoint:   ep,
		Payload:    map[string]interface{}{"token": svc.BearerToken, campo: id},
		CalledFrom: "consultar_id",
		MaxRetries: c.maxRetries,
	})
	if err != nil {
		return nil, err
	}

	if result.ProviderFailed {
		if esNoExiste(result.ProviderMessage) {
			return nil, models.NewAPIError(models.ErrorCodeNotFound, result.ProviderMessage)
		}
		return nil, models.NewAPIError(models.ErrorCodeProviderError,
			fmt.Sprintf("el proveedor rechazó la consulta de %s: %s", id, result.ProviderMessage))
	}

	info, err := decodificarRUCInfo(result.Body)
	if err != nil {
		return nil, err
	}
	if info.Numero() == "" {
		// El proveedor no siempre repite el número consultado
		if campo == "dni" {
			info.DNI = id
		} else {
			info.RUC = id
		}
	}
	return info, nil
}

// esNoExiste detecta el fallo de negocio "el contribuyente no existe"
func esNoExiste(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "no existe") || strings.Contains(lower, "not found")
}

// decodificarRUCInfo convierte el cuerpo genérico del ejecutor al modelo
func decodificarRUCInfo(body interface{}) (*models.RUCInfo, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, models.NewAPIError(models.ErrorCodeBadResponse,
			fmt.Sprintf("respuesta del proveedor no serializable: %v", err))
	}
	var info models.RUCInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, models.NewAPIError(models.ErrorCodeBadResponse,
			fmt.Sprintf("respuesta del proveedor con forma inesperada: %v", err))
	}
	return &info, nil
}

// actualizarPartner refresca los datos SUNAT del socio si existe. Es un
// mejor esfuerzo: un fallo se loguea y no afecta la consulta.
func (c *Client) actualizarPartner(id string, info *models.RUCInfo) {
	if c.partners == nil {
		return
	}
	partner, err := c.partners.GetByNumeroDocumento(id)
	if err != nil {
		c.logger.Warnf("Partner lookup failed for %s: %v", id, err)
		return
	}
	if partner == nil {
		return
	}
	if err := c.partners.ActualizarIdentidad(id, info); err != nil {
		c.logger.Warnf("Partner update failed for %s: %v", id, err)
	}
}
