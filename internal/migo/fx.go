package migo

import (
	"context"
	"strconv"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/models"
)

// fechaISO es el formato de fecha que usan Migo y la fachada
const fechaISO = "2006-01-02"

// TipoCambio resuelve el tipo de cambio del día indicado (vacío = hoy)
// en cascada: caché, fachada, proveedor. Una lectura exitosa del
// proveedor rellena la fachada y la caché. Si todas las fuentes fallan
// se retorna la tasa persistida más reciente marcada como vieja, y en
// última instancia los valores por defecto documentados.
func (c *Client) TipoCambio(ctx context.Context, fecha string) (*models.TipoCambio, error) {
	if fecha == "" {
		fecha = c.now().Format(fechaISO)
	}

	// 1. Caché (15 minutos)
	var cached models.TipoCambio
	if found := c.cache.GetJSON(ctx, cache.NamespaceTipoCambio, fecha, &cached); found {
		cached.Source = models.TipoCambioSourceCache
		return &cached, nil
	}

	// 2. Tasa persistida para esa fecha
	if c.fxRepo != nil {
		rate, err := c.fxRepo.GetByFecha(fecha)
		if err != nil {
			c.logger.Warnf("FX store read failed for %s: %v", fecha, err)
		} else if rate != nil {
			tc := &models.TipoCambio{
				Fecha:   rate.Fecha,
				Compra:  rate.Compra,
				Venta:   rate.Venta,
				Success: true,
				Source:  models.TipoCambioSourceDB,
			}
			c.cache.SetJSON(ctx, cache.NamespaceTipoCambio, fecha, tc, cache.TTLTipoCambio)
			return tc, nil
		}
	}

	// 3. Proveedor: primero latest, después por fecha
	if tc := c.tipoCambioUpstream(ctx, fecha); tc != nil {
		c.respaldarTipoCambio(tc)
		c.cache.SetJSON(ctx, cache.NamespaceTipoCambio, fecha, tc, cache.TTLTipoCambio)
		return tc, nil
	}

	// 4. Última tasa conocida, marcada como vieja
	if c.fxRepo != nil {
		rate, err := c.fxRepo.GetMasReciente()
		if err != nil {
			c.logger.Warnf("FX store fallback read failed: %v", err)
		} else if rate != nil {
			return &models.TipoCambio{
				Fecha:   rate.Fecha,
				Compra:  rate.Compra,
				Venta:   rate.Venta,
				Success: true,
				Stale:   true,
				Source:  models.TipoCambioSourceFallback,
			}, nil
		}
	}

	// 5. Valores por defecto documentados
	return &models.TipoCambio{
		Fecha:   fecha,
		Compra:  models.TipoCambioCompraDefault,
		Venta:   models.TipoCambioVentaDefault,
		Success: false,
		Stale:   true,
		Source:  models.TipoCambioSourceFallback,
	}, nil
}

// tipoCambioUpstream consulta al proveedor; retorna nil si ninguno de
// los dos endpoints respondió una tasa usable
func (c *Client) tipoCambioUpstream(ctx context.Context, fecha string) *models.TipoCambio {
	svc, err := c.config.GetService(models.ServiceKindMigo)
	if err != nil {
		c.logger.Warnf("FX upstream skipped, service missing: %v", err)
		return nil
	}

	intentos := []struct {
		endpoint string
		payload  map[string]interface{}
	}{
		{models.EndpointTipoCambioLatest, map[string]interface{}{"token": svc.BearerToken}},
		{models.EndpointTipoCambioFecha, map[string]interface{}{"token": svc.BearerToken, "fecha": fecha}},
	}

	for _, intento := range intentos {
		ep, err := c.config.GetEndpoint(svc, intento.endpoint)
		if err != nil {
			c.logger.Warnf("FX endpoint %s missing: %v", intento.endpoint, err)
			continue
		}

		result, err := c.exec.Execute(ctx, &executor.Request{
			Service:    svc,
			Endpoint:   ep,
			Payload:    intento.payload,
			CalledFrom: "tipo_cambio",
			MaxRetries: c.maxRetries,
		})
		if err != nil {
			c.logger.Warnf("FX call to %s failed: %v", intento.endpoint, err)
			continue
		}
		if result.ProviderFailed {
			c.logger.Warnf("FX call to %s rejected: %s", intento.endpoint, result.ProviderMessage)
			continue
		}

		if tc := decodificarTipoCambio(result.BodyMap(), fecha); tc != nil {
			return tc
		}
	}
	return nil
}

// decodificarTipoCambio normaliza la respuesta del proveedor, que puede
// traer precio_compra/precio_venta o los alias compra/venta
func decodificarTipoCambio(body map[string]interface{}, fechaPedida string) *models.TipoCambio {
	if body == nil {
		return nil
	}

	compra, okCompra := montoDe(body, "precio_compra", "compra")
	venta, okVenta := montoDe(body, "precio_venta", "venta")
	if !okCompra || !okVenta || compra <= 0 || venta <= 0 {
		return nil
	}

	fecha, _ := body["fecha"].(string)
	if fecha == "" {
		fecha = fechaPedida
	}

	return &models.TipoCambio{
		Fecha:   fecha,
		Compra:  compra,
		Venta:   venta,
		Success: true,
		Source:  models.TipoCambioSourceAPI,
	}
}

// montoDe lee el primer campo presente entre los nombres dados,
// aceptando números o cadenas numéricas
func montoDe(body map[string]interface{}, nombres ...string) (float64, bool) {
	for _, nombre := range nombres {
		raw, ok := body[nombre]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case string:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// respaldarTipoCambio persiste la tasa en la fachada; es mejor esfuerzo
func (c *Client) respaldarTipoCambio(tc *models.TipoCambio) {
	if c.fxRepo == nil {
		return
	}
	if err := c.fxRepo.Upsert(tc.Fecha, tc.Compra, tc.Venta); err != nil {
		c.logger.Warnf("FX store backfill failed for %s: %v", tc.Fecha, err)
	}
}
