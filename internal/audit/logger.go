package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Store es la superficie de la fachada de persistencia que consume el
// registro de auditoría
type Store interface {
	AppendCallLog(ctx context.Context, log *models.CallLog) error
}

// snapshotMaxRaw es el máximo retenido de un snapshot no-JSON (binario o
// HTML); los cuerpos JSON se guardan completos
const snapshotMaxRaw = 500

// Logger escribe el registro de auditoría de llamadas salientes. Tiene
// dos puertas con semántica idéntica: LogSync para llamadores bloqueantes
// y LogAsync, que encola en un pool de workers acotado y nunca bloquea la
// ruta crítica. Un registro que no pudo escribirse se loguea y se
// descarta.
type Logger struct {
	store  Store
	logger *logrus.Logger

	jobs chan *models.CallLog
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// New crea el registro de auditoría con su pool de workers
func New(store Store, logger *logrus.Logger, workers, queueSize int) *Logger {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	l := &Logger{
		store:  store,
		logger: logger,
		jobs:   make(chan *models.CallLog, queueSize),
	}

	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}

	return l
}

// worker drena la cola asíncrona
func (l *Logger) worker() {
	defer l.wg.Done()
	for log := range l.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := l.store.AppendCallLog(ctx, log); err != nil {
			l.logger.WithFields(logrus.Fields{
				"service_id":  log.ServiceID,
				"endpoint_id": log.EndpointID,
				"status":      log.Status,
			}).Errorf("Dropping audit record, store write failed: %v", err)
		}
		cancel()
	}
}

// LogSync escribe un registro de auditoría de forma síncrona
func (l *Logger) LogSync(ctx context.Context, log *models.CallLog) error {
	sanitize(log)
	return l.store.AppendCallLog(ctx, log)
}

// LogAsync encola un registro sin bloquear. Si la cola está llena el
// registro se descarta con aviso.
func (l *Logger) LogAsync(log *models.CallLog) {
	sanitize(log)
	select {
	case l.jobs <- log:
	default:
		l.logger.WithFields(logrus.Fields{
			"service_id": log.ServiceID,
			"status":     log.Status,
		}).Warn("Audit queue full, dropping record")
	}
}

// Close drena la cola y detiene los workers
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.jobs)
	})
	l.wg.Wait()
}

// sanitize acota snapshots y mensajes de error antes de persistir
func sanitize(log *models.CallLog) {
	log.RequestSnapshot = Snapshot(log.RequestSnapshot)
	log.ResponseSnapshot = Snapshot(log.ResponseSnapshot)
	log.ErrorMessage = Truncate(log.ErrorMessage, models.MaxErrorMessageLen)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
}

// Snapshot retorna el snapshot a persistir: los cuerpos JSON van enteros,
// lo demás (binario, HTML de fallos de autenticación) se acota a los
// primeros 500 bytes
func Snapshot(body string) string {
	if body == "" {
		return ""
	}
	if json.Valid([]byte(body)) {
		return body
	}
	return Truncate(body, snapshotMaxRaw)
}

// Truncate acota una cadena a n bytes
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
