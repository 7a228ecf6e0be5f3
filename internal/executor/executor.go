package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andeslabs/facturacion-service/internal/audit"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConfigStore es la vista de configuración que consumen los clientes de
// proveedores. La implementa database.ServiceRepository.
type ConfigStore interface {
	GetService(kind models.ServiceKind) (*models.Service, error)
	GetEndpoint(svc *models.Service, name string) (*models.Endpoint, error)
}

// Request describe una llamada saliente a un proveedor
type Request struct {
	Service    *models.Service
	Endpoint   *models.Endpoint
	Payload    interface{}
	BatchRef   *uuid.UUID
	CalledFrom string

	// MaxRetries es el presupuesto de reintentos del servicio (Migo 2,
	// Nubefact 3). Sólo 5xx y errores de transporte se reintentan.
	MaxRetries int

	// Validate normaliza y valida el payload antes del despacho; un
	// rechazo corta la llamada con INVALID_FORMAT sin tráfico HTTP
	Validate func(map[string]interface{}) (map[string]interface{}, error)

	// Async selecciona la puerta asíncrona del registro de auditoría
	Async bool
}

// Result representa el desenlace de una llamada despachada
type Result struct {
	// Body es el cuerpo JSON deserializado: mapa u arreglo según el
	// endpoint
	Body interface{}

	HTTPCode int

	// ProviderFailed marca un 200 con fallo a nivel de negocio del
	// proveedor (success=false); el cuerpo igual se entrega al cliente
	ProviderFailed  bool
	ProviderMessage string

	DurationMS int64
}

// BodyMap retorna el cuerpo como mapa, o nil si no lo es
func (r *Result) BodyMap() map[string]interface{} {
	if m, ok := r.Body.(map[string]interface{}); ok {
		return m
	}
	return nil
}

// Executor despacha las llamadas HTTP salientes a los proveedores.
// Concentra la inyección del bearer, los timeouts por endpoint, la
// clasificación de desenlaces y los reintentos con backoff, de modo que
// las capas superiores vean una taxonomía uniforme.
type Executor struct {
	limiter *ratelimit.Limiter
	audit   *audit.Logger
	logger  *logrus.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*http.Client

	// sleep es inyectable para pruebas
	sleep func(ctx context.Context, d time.Duration) error
}

// New crea un nuevo ejecutor
func New(limiter *ratelimit.Limiter, auditLogger *audit.Logger, logger *logrus.Logger) *Executor {
	return &Executor{
		limiter: limiter,
		audit:   auditLogger,
		logger:  logger,
		clients: make(map[uuid.UUID]*http.Client),
		sleep:   sleepCtx,
	}
}

// sleepCtx duerme respetando la cancelación del contexto
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

// getClient retorna el cliente HTTP compartido del servicio. Un pool de
// conexiones por servicio; el timeout va por contexto en cada intento.
func (e *Executor) getClient(svc *models.Service) *http.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[svc.ID]; ok {
		return client
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	e.clients[svc.ID] = client
	return client
}

// bearerHeader arma el encabezado de autorización. Si el token ya viene
// con prefijo se limpia y se vuelve a prefijar.
func bearerHeader(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "Bearer ")
	return "Bearer " + strings.TrimSpace(token)
}

// emit escribe el registro de auditoría por la puerta que corresponda
func (e *Executor) emit(ctx context.Context, req *Request, log *models.CallLog) {
	log.ServiceID = req.Service.ID
	log.EndpointID = req.Endpoint.ID
	log.BatchRef = req.BatchRef
	log.CalledFrom = req.CalledFrom

	if req.Async {
		e.audit.LogAsync(log)
		return
	}
	if err := e.audit.LogSync(ctx, log); err != nil {
		e.logger.Warnf("Audit sync write failed: %v", err)
	}
}

// Execute despacha una llamada al proveedor y clasifica su desenlace.
// Toda llamada que llega aquí produce exactamente un registro de
// auditoría, incluidos los rechazos por límite de tasa y formato.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	started := time.Now()

	// 1. Límite de tasa: el rechazo no consume presupuesto ni genera tráfico
	allowed, wait := e.limiter.Check(ctx, req.Service, req.Endpoint)
	if !allowed {
		err := models.NewRateLimitError(wait)
		e.emit(ctx, req, &models.CallLog{
			Status:          models.CallStatusRateLimited,
			DurationMS:      time.Since(started).Milliseconds(),
			RequestSnapshot: marshalSnapshot(req.Payload),
			ErrorMessage:    err.Message,
		})
		return nil, err
	}

	// 2. Validación y normalización del payload saliente
	payload := req.Payload
	if req.Validate != nil {
		m, ok := payload.(map[string]interface{})
		if !ok {
			m = map[string]interface{}{}
		}
		normalized, err := req.Validate(m)
		if err != nil {
			e.emit(ctx, req, &models.CallLog{
				Status:          models.CallStatusInvalidFormat,
				DurationMS:      time.Since(started).Milliseconds(),
				RequestSnapshot: marshalSnapshot(payload),
				ErrorMessage:    err.Error(),
			})
			return nil, err
		}
		payload = normalized
	}

	body, err := json.Marshal(payload)
	if err != nil {
		apiErr := models.NewAPIError(models.ErrorCodeInvalidFormat,
			fmt.Sprintf("payload no serializable: %v", err))
		e.emit(ctx, req, &models.CallLog{
			Status:       models.CallStatusInvalidFormat,
			DurationMS:   time.Since(started).Milliseconds(),
			ErrorMessage: apiErr.Message,
		})
		return nil, apiErr
	}

	// 3. Despacho con reintentos. Sólo 5xx y transporte reintentan.
	result, callErr := e.dispatch(ctx, req, body)

	// 4. Un único registro de auditoría con el desenlace final
	log := &models.CallLog{
		DurationMS:      time.Since(started).Milliseconds(),
		RequestSnapshot: string(body),
	}
	switch {
	case callErr != nil:
		log.Status = models.CallStatusFailed
		log.ErrorMessage = callErr.Error()
		var apiErr *models.APIError
		if errors.As(callErr, &apiErr) && apiErr.HTTPCode > 0 {
			log.HTTPCode = intPtr(apiErr.HTTPCode)
		}
		if result != nil {
			log.ResponseSnapshot = result.rawBody
		}
	case result.ProviderFailed:
		log.Status = models.CallStatusFailed
		log.ErrorMessage = result.ProviderMessage
		log.HTTPCode = intPtr(result.HTTPCode)
		log.ResponseSnapshot = result.rawBody
	default:
		log.Status = models.CallStatusSuccess
		log.HTTPCode = intPtr(result.HTTPCode)
		log.ResponseSnapshot = result.rawBody
	}
	e.emit(ctx, req, log)

	if callErr != nil {
		return nil, callErr
	}
	result.DurationMS = log.DurationMS
	return &result.Result, nil
}

// dispatch ejecuta los intentos HTTP y clasifica el desenlace
func (e *Executor) dispatch(ctx context.Context, req *Request, body []byte) (*dispatchResult, error) {
	client := e.getClient(req.Service)
	url := strings.TrimRight(req.Service.BaseURL, "/") + req.Endpoint.Path

	for attempt := 0; ; attempt++ {
		result, err := e.attempt(ctx, client, req, url, body)
		if err == nil {
			return result, nil
		}

		if !models.IsRetryable(err) || attempt >= req.MaxRetries {
			return result, err
		}

		// Backoff exponencial: 1s, 2s, 4s
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		e.logger.WithFields(logrus.Fields{
			"service":  req.Service.Kind,
			"endpoint": req.Endpoint.Name,
			"attempt":  attempt + 1,
			"backoff":  backoff.String(),
		}).Warnf("Retrying upstream call: %v", err)

		if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
			return result, models.NewAPIError(models.ErrorCodeTransportError,
				fmt.Sprintf("llamada cancelada durante backoff: %v", sleepErr))
		}
	}
}

type dispatchResult struct {
	Result
	rawBody string
}

// attempt ejecuta un intento HTTP y clasifica su desenlace
func (e *Executor) attempt(ctx context.Context, client *http.Client, req *Request, url string, body []byte) (*dispatchResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Endpoint.Timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Endpoint.HTTPMethod, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewAPIError(models.ErrorCodeTransportError,
			fmt.Sprintf("error armando request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", bearerHeader(req.Service.BearerToken))

	resp, err := client.Do(httpReq)

	// El contador refleja despachos, no desenlaces
	e.limiter.Record(ctx, req.Service, req.Endpoint)

	if err != nil {
		return nil, models.NewAPIError(models.ErrorCodeTransportError,
			fmt.Sprintf("error de conexión con %s: %v", req.Service.Kind, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewAPIError(models.ErrorCodeTransportError,
			fmt.Sprintf("error leyendo respuesta de %s: %v", req.Service.Kind, err))
	}

	return classify(req, resp.StatusCode, respBody)
}

// classify traduce el par (código HTTP, cuerpo) a la taxonomía uniforme.
// Las rarezas de los proveedores (HTML en fallos de autenticación, 200
// con error de negocio) se aíslan aquí.
func classify(req *Request, statusCode int, respBody []byte) (*dispatchResult, error) {
	raw := string(respBody)

	switch {
	case statusCode == http.StatusOK:
		var parsed interface{}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			// Migo responde HTML ante fallos de token
			lower := strings.ToLower(raw)
			if strings.Contains(lower, "token_invalido") || strings.Contains(lower, "unauthorized") {
				return &dispatchResult{rawBody: raw}, models.NewHTTPError(
					models.ErrorCodeAuthFailed, statusCode,
					"el proveedor rechazó el token de autenticación")
			}
			return &dispatchResult{rawBody: raw}, models.NewHTTPError(
				models.ErrorCodeBadResponse, statusCode,
				"respuesta 200 sin JSON parseable")
		}

		result := &dispatchResult{
			Result:  Result{Body: parsed, HTTPCode: statusCode},
			rawBody: raw,
		}
		if m, ok := parsed.(map[string]interface{}); ok {
			if success, present := m["success"].(bool); present && !success {
				result.ProviderFailed = true
				if msg, ok := m["message"].(string); ok {
					result.ProviderMessage = msg
				}
			}
		}
		return result, nil

	case statusCode == http.StatusBadRequest:
		return &dispatchResult{rawBody: raw}, models.NewHTTPError(
			models.ErrorCodeValidationFailed, statusCode, providerMessage(respBody, raw))

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &dispatchResult{rawBody: raw}, models.NewHTTPError(
			models.ErrorCodeAuthFailed, statusCode, providerMessage(respBody, raw))

	case statusCode == http.StatusNotFound:
		return &dispatchResult{rawBody: raw}, models.NewHTTPError(
			models.ErrorCodeNotFound, statusCode, providerMessage(respBody, raw))

	case statusCode >= 500:
		return &dispatchResult{rawBody: raw}, models.NewHTTPError(
			models.ErrorCodeProviderError, statusCode,
			fmt.Sprintf("error interno del proveedor (http %d)", statusCode))

	default:
		return &dispatchResult{rawBody: raw}, models.NewHTTPError(
			models.ErrorCodeBadResponse, statusCode,
			fmt.Sprintf("código HTTP inesperado %d", statusCode))
	}
}

// providerMessage extrae el mensaje de error del cuerpo si es JSON
func providerMessage(respBody []byte, fallback string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(respBody, &m); err == nil {
		for _, field := range []string{"message", "errors", "error"} {
			if msg, ok := m[field].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return audit.Truncate(fallback, models.MaxErrorMessageLen)
}

// marshalSnapshot serializa un payload para auditoría
func marshalSnapshot(payload interface{}) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}

func intPtr(n int) *int {
	return &n
}
