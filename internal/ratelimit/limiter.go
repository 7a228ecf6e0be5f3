package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "facturacion:ratelimit"

// windowTTL cubre la ventana actual más un margen para relojes corridos
const windowTTL = 2 * time.Minute

// Limiter implementa el límite de tasa por (servicio, endpoint) sobre una
// ventana fija de minuto de reloj. El contador vive en el backend de
// caché, de modo que varios procesos comparten el mismo presupuesto.
//
// Check nunca bloquea: decidir esperar es del llamador. Record se invoca
// sólo tras despachar una llamada al proveedor, nunca en aciertos de
// caché ni en rechazos. Si la frontera de minuto cae entre Check y
// Record, el incremento cuenta contra la ventana nueva; la sobreadmisión
// queda acotada por la concurrencia.
type Limiter struct {
	backend cache.Backend
	logger  *logrus.Logger
	now     func() time.Time
}

// New crea un nuevo limitador de tasa
func New(backend cache.Backend, logger *logrus.Logger) *Limiter {
	return &Limiter{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// windowKey arma la clave del contador para el minuto actual
func windowKey(svc *models.Service, ep *models.Endpoint, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, svc.ID, ep.Name, now.Format("200601021504"))
}

// Check decide si una llamada puede proceder. Si el presupuesto del
// minuto está agotado retorna (false, segundos hasta el próximo minuto).
// Un error del backend degrada a permitir: el limitador nunca hace
// fallar una llamada por sí mismo.
func (l *Limiter) Check(ctx context.Context, svc *models.Service, ep *models.Endpoint) (bool, float64) {
	limit := ep.RateLimit(svc)
	if limit <= 0 {
		return true, 0
	}

	now := l.now()
	value, found, err := l.backend.Get(ctx, windowKey(svc, ep, now))
	if err != nil {
		l.logger.Warnf("Rate limiter backend get failed, allowing call: %v", err)
		return true, 0
	}
	if !found {
		return true, 0
	}

	count, _ := strconv.ParseInt(value, 10, 64)
	if count < int64(limit) {
		return true, 0
	}

	next := now.Truncate(time.Minute).Add(time.Minute)
	wait := next.Sub(now).Seconds()
	if wait <= 0 {
		wait = 1
	}
	return false, wait
}

// Record registra un despacho contra la ventana actual
func (l *Limiter) Record(ctx context.Context, svc *models.Service, ep *models.Endpoint) {
	if ep.RateLimit(svc) <= 0 {
		return
	}

	if _, err := l.backend.Incr(ctx, windowKey(svc, ep, l.now()), windowTTL); err != nil {
		l.logger.Warnf("Rate limiter backend incr failed: %v", err)
	}
}

// EsperaEntreLotes retorna la pausa mínima entre lotes para mantenerse
// dentro del presupuesto por minuto del endpoint
func EsperaEntreLotes(svc *models.Service, ep *models.Endpoint) time.Duration {
	limit := ep.RateLimit(svc)
	if limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / float64(limit))
}
