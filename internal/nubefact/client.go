package nubefact

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/validator"
	"github.com/sirupsen/logrus"
)

// Client es el cliente de Nubefact: emisión, consulta y anulación de
// comprobantes electrónicos. Las tres operaciones van al mismo endpoint
// configurado; el proveedor enruta por el campo operacion del cuerpo.
type Client struct {
	config executor.ConfigStore
	exec   *executor.Executor
	logger *logrus.Logger

	maxRetries int
}

// NewClient crea el cliente de Nubefact
func NewClient(config executor.ConfigStore, exec *executor.Executor, logger *logrus.Logger, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		config:     config,
		exec:       exec,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Emitir envía un comprobante a Nubefact. El payload pasa por el
// normalizador antes de cualquier tráfico: fechas, numéricos como cadena
// y cuadre de totales; un payload inconsistente se rechaza localmente.
func (c *Client) Emitir(ctx context.Context, payload models.ComprobantePayload) (*models.ComprobanteResponse, error) {
	return c.operar(ctx, models.OperacionGenerarComprobante, payload, validator.Normalizar)
}

// Consultar pide el estado de un comprobante ya emitido
func (c *Client) Consultar(ctx context.Context, tipo, serie string, numero int) (*models.ComprobanteResponse, error) {
	payload := models.ComprobantePayload{
		"tipo_de_comprobante": tipo,
		"serie":               serie,
		"numero":              numero,
	}
	return c.operar(ctx, models.OperacionConsultarComprobante, payload, nil)
}

// Anular solicita la anulación de un comprobante ante SUNAT
func (c *Client) Anular(ctx context.Context, tipo, serie string, numero int, motivo string) (*models.ComprobanteResponse, error) {
	payload := models.ComprobantePayload{
		"tipo_de_comprobante": tipo,
		"serie":               serie,
		"numero":              numero,
		"motivo":              motivo,
	}
	return c.operar(ctx, models.OperacionGenerarAnulacion, payload, nil)
}

// operar despacha una operación al endpoint único de Nubefact
func (c *Client) operar(ctx context.Context, operacion string, payload models.ComprobantePayload, normalizar func(map[string]interface{}) (map[string]interface{}, error)) (*models.ComprobanteResponse, error) {
	svc, err := c.config.GetService(models.ServiceKindNubefact)
	if err != nil {
		return nil, err
	}
	ep, err := c.config.GetEndpoint(svc, models.EndpointGenerarComprobante)
	if err != nil {
		return nil, err
	}

	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["operacion"] = operacion

	result, err := c.exec.Execute(ctx, &executor.Request{
		Service:    svc,
		Endpoint:   ep,
		Payload:    body,
		CalledFrom: operacion,
		MaxRetries: c.maxRetries,
		Validate:   normalizar,
	})
	if err != nil {
		return nil, err
	}

	response, err := decodificarRespuesta(result.Body)
	if err != nil {
		return nil, err
	}

	// Nubefact reporta sus errores de negocio con un código numérico en
	// el cuerpo, incluso sobre HTTP 200
	if response.Codigo != nil {
		mensaje := response.Errors
		if mensaje == "" {
			mensaje = fmt.Sprintf("el proveedor reportó el código %d", *response.Codigo)
		}
		return response, models.MapearCodigoNubefact(*response.Codigo, mensaje)
	}
	if result.ProviderFailed {
		return response, models.NewAPIError(models.ErrorCodeProviderError, result.ProviderMessage)
	}

	if response.Estado() == models.EstadoSunatPendiente {
		// false no es un fallo: el comprobante es válido, SUNAT todavía
		// no confirmó la aceptación
		c.logger.WithFields(logrus.Fields{
			"operacion": operacion,
			"serie":     response.Serie,
			"numero":    response.Numero,
		}).Info("Voucher accepted by provider, pending SUNAT confirmation")
	}

	return response, nil
}

// decodificarRespuesta convierte el cuerpo genérico del ejecutor al modelo
func decodificarRespuesta(body interface{}) (*models.ComprobanteResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, models.NewAPIError(models.ErrorCodeBadResponse,
			fmt.Sprintf("respuesta del proveedor no serializable: %v", err))
	}
	var response models.ComprobanteResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, models.NewAPIError(models.ErrorCodeBadResponse,
			fmt.Sprintf("respuesta del proveedor con forma inesperada: %v", err))
	}
	return &response, nil
}
