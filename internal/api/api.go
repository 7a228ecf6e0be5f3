package api

import (
	"net/http"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/database"
	"github.com/andeslabs/facturacion-service/internal/migo"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/services"
	"github.com/andeslabs/facturacion-service/internal/workflows"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// API maneja todos los endpoints del back office de integraciones
type API struct {
	migoClient         *migo.Client
	comprobanteService *services.ComprobanteService
	batchWorkflow      *workflows.BatchWorkflow
	cacheTier          *cache.Cache
	batchRepo          *database.BatchRepository
	serviceRepo        *database.ServiceRepository
	apiKeyRepo         *database.APIKeyRepository
	logger             *logrus.Logger

	asyncEnabled bool
}

// NewAPI crea una nueva instancia de la API
func NewAPI(
	migoClient *migo.Client,
	comprobanteService *services.ComprobanteService,
	batchWorkflow *workflows.BatchWorkflow,
	cacheTier *cache.Cache,
	batchRepo *database.BatchRepository,
	serviceRepo *database.ServiceRepository,
	apiKeyRepo *database.APIKeyRepository,
	logger *logrus.Logger,
	asyncEnabled bool,
) *API {
	return &API{
		migoClient:         migoClient,
		comprobanteService: comprobanteService,
		batchWorkflow:      batchWorkflow,
		cacheTier:          cacheTier,
		batchRepo:          batchRepo,
		serviceRepo:        serviceRepo,
		apiKeyRepo:         apiKeyRepo,
		logger:             logger,
		asyncEnabled:       asyncEnabled,
	}
}

// AuthMiddleware valida la credencial del back office en X-API-Key
func (api *API) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, NewUnauthorizedError("API key required"))
			c.Abort()
			return
		}

		valid, err := api.apiKeyRepo.Validate(apiKey)
		if err != nil {
			api.logger.WithError(err).Error("Error validating API key")
			c.JSON(http.StatusInternalServerError, NewInternalError("Error validating credentials"))
			c.Abort()
			return
		}
		if !valid {
			c.JSON(http.StatusUnauthorized, NewUnauthorizedError("Invalid API key"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// ConsultarIdentidad valida un RUC o DNI contra SUNAT vía Migo
func (api *API) ConsultarIdentidad(c *gin.Context) {
	var req struct {
		Numero       string `json:"numero" binding:"required"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "numero", Issue: "required"},
		}))
		return
	}

	result, err := api.migoClient.ConsultarID(c.Request.Context(), req.Numero, req.ForceRefresh)
	if err != nil {
		api.logger.WithError(err).Error("Error looking up identity")
		status, response := statusDe(err)
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ConsultarLote valida una lista de RUC. Con async=true y el scheduler
// configurado, el lote se encola y la respuesta sólo acusa recibo.
func (api *API) ConsultarLote(c *gin.Context) {
	var req struct {
		IDs   []string `json:"ids" binding:"required"`
		Async bool     `json:"async"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "ids", Issue: "required"},
		}))
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, NewValidationError("Empty ID list", []ErrorDetail{
			{Field: "ids", Issue: "must not be empty"},
		}))
		return
	}

	if req.Async && api.asyncEnabled {
		eventID, err := api.batchWorkflow.Encolar(c.Request.Context(), req.IDs)
		if err != nil {
			api.logger.WithError(err).Error("Error enqueuing batch")
			c.JSON(http.StatusInternalServerError, NewInternalError("Error enqueuing batch"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "enqueued",
			"event_id": eventID,
			"total":    len(req.IDs),
		})
		return
	}

	result, err := api.batchWorkflow.EjecutarLocal(c.Request.Context(), req.IDs)
	if err != nil {
		api.logger.WithError(err).Error("Error processing batch")
		status, response := statusDe(err)
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetLote consulta el estado de un lote por ID
func (api *API) GetLote(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid batch ID", []ErrorDetail{
			{Field: "id", Issue: "Must be a valid UUID"},
		}))
		return
	}

	batch, err := api.batchRepo.GetByID(id)
	if err != nil {
		c.JSON(http.StatusNotFound, NewNotFoundError("Batch not found"))
		return
	}

	c.JSON(http.StatusOK, batch)
}

// GetInvalidos lista los identificadores actualmente bloqueados
func (api *API) GetInvalidos(c *gin.Context) {
	snapshot := api.cacheTier.InvalidSnapshot(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"total":    len(snapshot),
		"entradas": snapshot,
	})
}

// RemoveInvalido retira un identificador del conjunto de bloqueados
func (api *API) RemoveInvalido(c *gin.Context) {
	id := c.Param("id")
	api.cacheTier.RemoveInvalid(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

// GetTipoCambio resuelve el tipo de cambio del día o de la fecha pedida
func (api *API) GetTipoCambio(c *gin.Context) {
	fecha := c.Query("fecha")

	tc, err := api.migoClient.TipoCambio(c.Request.Context(), fecha)
	if err != nil {
		api.logger.WithError(err).Error("Error resolving FX rate")
		status, response := statusDe(err)
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusOK, tc)
}

// EmitirComprobante emite un comprobante electrónico vía Nubefact
func (api *API) EmitirComprobante(c *gin.Context) {
	var payload models.ComprobantePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	result, err := api.comprobanteService.Emitir(c.Request.Context(), payload)
	if err != nil {
		api.logger.WithError(err).Error("Error issuing voucher")
		status, response := statusDe(err)
		c.JSON(status, response)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// comprobanteRef es la referencia de un comprobante ya emitido
type comprobanteRef struct {
	Tipo   string `json:"tipo_de_comprobante" binding:"required"`
	Serie  string `json:"serie" binding:"required"`
	Numero int    `json:"numero" binding:"required"`
	Motivo string `json:"motivo"`
}

// ConsultarComprobante pide el estado de un comprobante emitido
func (api *API) ConsultarComprobante(c *gin.Context) {
	var req comprobanteRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	response, err := api.comprobanteService.Consultar(c.Request.Context(), req.Tipo, req.Serie, req.Numero)
	if err != nil {
		api.logger.WithError(err).Error("Error querying voucher")
		status, resp := statusDe(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"estado":   response.Estado(),
		"response": response,
	})
}

// AnularComprobante solicita la anulación de un comprobante
func (api *API) AnularComprobante(c *gin.Context) {
	var req comprobanteRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "body", Issue: err.Error()},
		}))
		return
	}

	response, err := api.comprobanteService.Anular(c.Request.Context(), req.Tipo, req.Serie, req.Numero, req.Motivo)
	if err != nil {
		api.logger.WithError(err).Error("Error voiding voucher")
		status, resp := statusDe(err)
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"estado":   response.Estado(),
		"response": response,
	})
}

// RefreshConfig recarga la configuración de servicios y endpoints
func (api *API) RefreshConfig(c *gin.Context) {
	if err := api.serviceRepo.Refresh(); err != nil {
		api.logger.WithError(err).Error("Error refreshing integration config")
		c.JSON(http.StatusInternalServerError, NewInternalError("Error refreshing configuration"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// CreateAPIKey registra una nueva credencial del back office
func (api *API) CreateAPIKey(c *gin.Context) {
	var req struct {
		Label string `json:"label" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewValidationError("Invalid request format", []ErrorDetail{
			{Field: "label", Issue: "required"},
		}))
		return
	}

	// La clave en claro se retorna una única vez; sólo el hash persiste
	key := uuid.NewString()
	apiKey, err := api.apiKeyRepo.Create(req.Label, key)
	if err != nil {
		api.logger.WithError(err).Error("Error creating API key")
		c.JSON(http.StatusInternalServerError, NewInternalError("Error creating API key"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":    apiKey.ID,
		"label": apiKey.Label,
		"key":   key,
	})
}
