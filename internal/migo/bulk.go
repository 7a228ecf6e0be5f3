package migo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Tamaños de lote de las rondas de recuperación de omitidos: primero en
// grupos chicos, después de a uno
var tamaniosRecuperacion = []int{5, 1}

// MotivoNoHabilitado marca contribuyentes que existen pero no están
// ACTIVO y HABIDO a la vez
const MotivoNoHabilitado = "NO_HABILITADO"

// bulkState acumula el resultado consolidado durante una consulta en lote
type bulkState struct {
	result    *models.BulkLookupResult
	resueltos map[string]bool
}

func (s *bulkState) agregarValido(r models.LookupResult) {
	if s.resueltos[r.ID] {
		return
	}
	s.resueltos[r.ID] = true
	s.result.Valid = append(s.result.Valid, r)
}

func (s *bulkState) agregarInvalido(r models.LookupResult) {
	if s.resueltos[r.ID] {
		return
	}
	s.resueltos[r.ID] = true
	s.result.Invalid = append(s.result.Invalid, r)
}

func (s *bulkState) agregarError(id, detalle string) {
	if s.resueltos[id] {
		return
	}
	s.resueltos[id] = true
	s.result.Errors[id] = detalle
}

// ConsultarLote valida una lista de RUC contra el endpoint masivo de
// Migo. La entrada se particiona en lotes de hasta maxBatchSize, los
// identificadores con formato inválido o ya bloqueados se cortan sin
// llamada, y los que el proveedor omite silenciosamente se reintentan en
// rondas progresivamente más chicas. El resultado consolidado cubre cada
// identificador de la entrada exactamente una vez.
func (c *Client) ConsultarLote(ctx context.Context, ids []string) (*models.BulkLookupResult, error) {
	svc, err := c.config.GetService(models.ServiceKindMigo)
	if err != nil {
		return nil, err
	}
	ep, err := c.config.GetEndpoint(svc, models.EndpointRUCCollection)
	if err != nil {
		return nil, err
	}

	ids = dedupe(ids)

	state := &bulkState{
		result: &models.BulkLookupResult{
			Errors: make(map[string]string),
		},
		resueltos: make(map[string]bool, len(ids)),
	}

	// Una entrada vacía no abre sobre ni genera tráfico
	if len(ids) == 0 {
		return state.result, nil
	}

	batch := c.crearBatch(svc, ids)
	if batch != nil {
		state.result.BatchRef = &batch.ID
	}

	// Primera pasada: lotes en orden de entrada
	var omitidos []string
	abortado := c.primeraPasada(ctx, svc, ep, ids, state, &omitidos)

	// Rondas de recuperación sobre los omitidos
	if !abortado && len(omitidos) > 0 {
		omitidos = c.recuperarOmitidos(ctx, svc, ep, omitidos, state)
	}

	for _, id := range omitidos {
		if !state.resueltos[id] {
			state.resueltos[id] = true
			state.result.Omitted = append(state.result.Omitted, id)
		}
	}

	c.cerrarBatch(batch, state.result, abortado)
	return state.result, nil
}

// dedupe conserva la primera aparición de cada identificador
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// primeraPasada procesa la entrada completa por lotes. Retorna true si la
// operación se abortó (autenticación caída o cancelación); en ese caso
// los identificadores no procesados quedan en el mapa de errores.
func (c *Client) primeraPasada(ctx context.Context, svc *models.Service, ep *models.Endpoint, ids []string, state *bulkState, omitidos *[]string) bool {
	batchSize := c.maxBatchSize
	if svc.MaxBatchSize > 0 && svc.MaxBatchSize < batchSize {
		batchSize = svc.MaxBatchSize
	}

	pausa := ratelimit.EsperaEntreLotes(svc, ep)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		lote := ids[start:end]

		// La cancelación es cooperativa: el lote en curso termina, los
		// siguientes no arrancan
		if ctx.Err() != nil {
			for _, id := range ids[start:] {
				state.agregarError(id, "operación cancelada antes de despachar el lote")
			}
			return true
		}

		if start > 0 && pausa > 0 {
			if err := c.sleep(ctx, pausa); err != nil {
				for _, id := range ids[start:] {
					state.agregarError(id, "operación cancelada antes de despachar el lote")
				}
				return true
			}
		}

		pendientes := c.prefiltrar(ctx, lote, state)
		if len(pendientes) == 0 {
			continue
		}

		recibidos, err := c.consultarLoteUpstream(ctx, svc, ep, pendientes)
		state.result.BatchesProcessed++
		if err != nil {
			if models.CodeOf(err) == models.ErrorCodeAuthFailed {
				// Sin credenciales válidas no tiene sentido seguir
				for _, id := range ids[start:] {
					state.agregarError(id, err.Error())
				}
				return true
			}
			for _, id := range pendientes {
				state.agregarError(id, err.Error())
			}
			continue
		}
		state.result.APICalls++

		c.clasificarRespuesta(ctx, pendientes, recibidos, state, omitidos)
	}
	return false
}

// prefiltrar corta los identificadores con formato inválido o presentes
// en el conjunto de inválidos; retorna los que sí van al proveedor
func (c *Client) prefiltrar(ctx context.Context, lote []string, state *bulkState) []string {
	pendientes := make([]string, 0, len(lote))
	for _, id := range lote {
		if !formatoValido(id) {
			state.agregarInvalido(models.LookupResult{
				ID:     id,
				Valid:  false,
				Reason: models.MotivoFormato,
			})
			continue
		}
		if invalido, entry := c.cache.IsInvalid(ctx, id); invalido {
			state.result.CacheHits++
			state.agregarInvalido(models.LookupResult{
				ID:        id,
				Valid:     false,
				Reason:    entry.Reason,
				CacheHit:  true,
				CacheType: models.CacheTypeInvalid,
			})
			continue
		}
		pendientes = append(pendientes, id)
	}
	return pendientes
}

// consultarLoteUpstream despacha un lote y normaliza la respuesta, que
// puede venir como arreglo pelado o como sobre {success, data}
func (c *Client) consultarLoteUpstream(ctx context.Context, svc *models.Service, ep *models.Endpoint, ids []string) (map[string]*models.RUCInfo, error) {
	result, err := c.exec.Execute(ctx, &executor.Request{
		Service:    svc,
		Endpoint:   ep,
		Payload:    map[string]interface{}{"token": svc.BearerToken, "ruc": ids},
		CalledFrom: "consultar_lote",
		MaxRetries: c.maxRetries,
		Async:      true,
	})
	if err != nil {
		return nil, err
	}
	if result.ProviderFailed {
		return nil, models.NewAPIError(models.ErrorCodeProviderError,
			fmt.Sprintf("el proveedor rechazó el lote: %s", result.ProviderMessage))
	}

	var rawItems []interface{}
	switch body := result.Body.(type) {
	case []interface{}:
		rawItems = body
	case map[string]interface{}:
		data, ok := body["data"].([]interface{})
		if !ok {
			return nil, models.NewAPIError(models.ErrorCodeBadResponse,
				"respuesta del lote sin arreglo de resultados")
		}
		rawItems = data
	default:
		return nil, models.NewAPIError(models.ErrorCodeBadResponse,
			"respuesta del lote con forma inesperada")
	}

	recibidos := make(map[string]*models.RUCInfo, len(rawItems))
	for _, raw := range rawItems {
		info, err := decodificarRUCInfo(raw)
		if err != nil {
			c.logger.Warnf("Skipping unparseable bulk item: %v", err)
			continue
		}
		if numero := info.Numero(); numero != "" {
			recibidos[numero] = info
		}
	}
	return recibidos, nil
}

// clasificarRespuesta cruza lo enviado contra lo recibido, preservando el
// orden de entrada; lo que el proveedor no devolvió queda como omitido
func (c *Client) clasificarRespuesta(ctx context.Context, enviados []string, recibidos map[string]*models.RUCInfo, state *bulkState, omitidos *[]string) {
	for _, id := range enviados {
		info, ok := recibidos[id]
		if !ok {
			*omitidos = append(*omitidos, id)
			continue
		}

		if !info.Success {
			c.cache.AddInvalid(ctx, id, models.MotivoNoExisteSunat, cache.TTLInvalido)
			state.agregarInvalido(models.LookupResult{
				ID:     id,
				Valid:  false,
				Reason: models.MotivoNoExisteSunat,
				Info:   info,
			})
			continue
		}

		// El contribuyente existe: su información se cachea aunque no
		// esté habilitado, porque la ficha es igual de vigente
		c.cache.SetJSON(ctx, cache.NamespaceValido, id, info, cache.TTLValido)

		if info.Habilitado() {
			state.agregarValido(models.LookupResult{ID: id, Valid: true, Info: info})
		} else {
			state.agregarInvalido(models.LookupResult{
				ID:     id,
				Valid:  false,
				Reason: MotivoNoHabilitado,
				Info:   info,
			})
		}
	}
}

// recuperarOmitidos reintenta los identificadores que el proveedor omitió
// en rondas con lotes cada vez más chicos. Retorna los que siguieron
// omitidos tras la última ronda.
func (c *Client) recuperarOmitidos(ctx context.Context, svc *models.Service, ep *models.Endpoint, omitidos []string, state *bulkState) []string {
	rondas := len(tamaniosRecuperacion)
	if c.maxRetries < rondas {
		rondas = c.maxRetries
	}

	for ronda := 0; ronda < rondas && len(omitidos) > 0; ronda++ {
		if ctx.Err() != nil {
			break
		}
		if err := c.sleep(ctx, c.esperaEntreRondas); err != nil {
			break
		}

		tamanio := tamaniosRecuperacion[ronda]
		state.result.RetriesExecuted++

		c.logger.WithFields(logrus.Fields{
			"round":      ronda + 1,
			"batch_size": tamanio,
			"pending":    len(omitidos),
		}).Info("Retrying IDs omitted by provider")

		var siguientes []string
		for start := 0; start < len(omitidos); start += tamanio {
			end := start + tamanio
			if end > len(omitidos) {
				end = len(omitidos)
			}
			grupo := omitidos[start:end]

			recibidos, err := c.consultarLoteUpstream(ctx, svc, ep, grupo)
			if err != nil {
				// En recuperación un fallo no es terminal: el grupo
				// sigue omitido y probará en la próxima ronda
				c.logger.Warnf("Recovery round call failed: %v", err)
				siguientes = append(siguientes, grupo...)
				continue
			}
			state.result.APICalls++

			var aunOmitidos []string
			c.clasificarRespuesta(ctx, grupo, recibidos, state, &aunOmitidos)
			siguientes = append(siguientes, aunOmitidos...)
		}
		omitidos = siguientes
	}
	return omitidos
}

// crearBatch registra el sobre del lote en la fachada; un fallo degrada a
// operar sin seguimiento
func (c *Client) crearBatch(svc *models.Service, ids []string) *models.BatchRequest {
	if c.batches == nil {
		return nil
	}

	input, _ := json.Marshal(ids)
	batch := &models.BatchRequest{
		ID:            uuid.New(),
		ServiceID:     svc.ID,
		Status:        models.BatchStatusProcessing,
		TotalItems:    len(ids),
		InputSnapshot: string(input),
	}
	if err := c.batches.Create(batch); err != nil {
		c.logger.Warnf("Batch envelope create failed: %v", err)
		return nil
	}
	return batch
}

// cerrarBatch lleva el sobre del lote a su estado terminal
func (c *Client) cerrarBatch(batch *models.BatchRequest, result *models.BulkLookupResult, abortado bool) {
	if batch == nil {
		return
	}

	batch.ProcessedItems = len(result.Valid) + len(result.Invalid) + len(result.Errors)
	batch.SuccessfulItems = len(result.Valid)
	batch.FailedItems = len(result.Invalid) + len(result.Errors)

	switch {
	case abortado && len(result.Valid) == 0 && len(result.Invalid) == 0:
		batch.Status = models.BatchStatusFailed
	case abortado || len(result.Omitted) > 0 || len(result.Errors) > 0:
		batch.Status = models.BatchStatusPartial
	default:
		batch.Status = models.BatchStatusCompleted
	}

	if snapshot, err := json.Marshal(result); err == nil {
		batch.ResultSnapshot = string(snapshot)
	}
	if len(result.Errors) > 0 {
		resumen, _ := json.Marshal(result.Errors)
		batch.ErrorSummary = string(resumen)
	}
	now := c.now()
	batch.CompletedAt = &now

	if err := c.batches.Update(batch); err != nil {
		c.logger.Warnf("Batch envelope update failed: %v", err)
	}
}
