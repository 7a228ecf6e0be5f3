package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/migo"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/inngest/inngestgo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EventoLoteSolicitado es el evento que dispara la validación de
// identidades en lote
const EventoLoteSolicitado = "identidad/lote.solicitado"

// BatchWorkflow maneja la validación de identidades en lote fuera de la
// ruta de los requests. Con Inngest configurado el lote corre como
// workflow; sin él, EjecutarLocal hace el fan-out acotado en proceso.
type BatchWorkflow struct {
	client inngestgo.Client
	logger *logrus.Logger
	migo   *migo.Client

	concurrencia    int
	segundosPorLote int
	tamanioSubtarea int
}

// NewBatchWorkflow crea una nueva instancia del workflow de lotes
func NewBatchWorkflow(logger *logrus.Logger, migoClient *migo.Client, concurrencia, segundosPorLote int) *BatchWorkflow {
	if concurrencia <= 0 {
		concurrencia = 4
	}
	if segundosPorLote < 0 {
		segundosPorLote = 0
	}
	return &BatchWorkflow{
		logger:          logger,
		migo:            migoClient,
		concurrencia:    concurrencia,
		segundosPorLote: segundosPorLote,
		tamanioSubtarea: 100,
	}
}

// Register registra el workflow con Inngest
func (w *BatchWorkflow) Register(client inngestgo.Client) error {
	w.client = client

	_, err := inngestgo.CreateFunction(
		client,
		inngestgo.FunctionOpts{
			ID:   "validar-lote-identidades",
			Name: "Validar lote de identidades",
		},
		inngestgo.EventTrigger(EventoLoteSolicitado, nil),
		func(ctx context.Context, input inngestgo.Input[BatchWorkflowInput]) (any, error) {
			return w.ProcesarLote(ctx, input)
		},
	)
	if err != nil {
		return fmt.Errorf("error creating function: %w", err)
	}
	return nil
}

// Encolar publica un lote para procesamiento asíncrono y retorna el
// identificador del evento
func (w *BatchWorkflow) Encolar(ctx context.Context, ids []string) (string, error) {
	if w.client == nil {
		return "", fmt.Errorf("Inngest client not configured")
	}

	eventID, err := w.client.Send(ctx, inngestgo.Event{
		Name: EventoLoteSolicitado,
		Data: map[string]any{"ids": ids},
	})
	if err != nil {
		return "", fmt.Errorf("error sending batch event: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"event_id": eventID,
		"ids":      len(ids),
	}).Info("Batch enqueued for async validation")
	return eventID, nil
}

// BatchWorkflowInput representa el input del workflow
type BatchWorkflowInput struct {
	IDs []string `json:"ids"`
}

// BatchWorkflowOutput representa el output del workflow
type BatchWorkflowOutput struct {
	Valid     int        `json:"valid"`
	Invalid   int        `json:"invalid"`
	Omitted   int        `json:"omitted"`
	Errors    int        `json:"errors"`
	BatchRefs []string   `json:"batch_refs,omitempty"`
	Duration  string     `json:"duration"`
	Result    *Resultado `json:"result"`
}

// Resultado agrupa los resultados consolidados de las subtareas
type Resultado struct {
	Lotes []*models.BulkLookupResult `json:"lotes"`
}

// ProcesarLote es la función principal del workflow
func (w *BatchWorkflow) ProcesarLote(ctx context.Context, input inngestgo.Input[BatchWorkflowInput]) (*BatchWorkflowOutput, error) {
	return w.procesar(ctx, input.Event.Data.IDs)
}

// EjecutarLocal corre el mismo fan-out del workflow dentro del proceso,
// para despliegues sin Inngest
func (w *BatchWorkflow) EjecutarLocal(ctx context.Context, ids []string) (*BatchWorkflowOutput, error) {
	return w.procesar(ctx, ids)
}

// procesar particiona la entrada en subtareas y las despacha en paralelo
// con concurrencia acotada. Cada subtarea arranca desplazada para no
// agolpar llamadas contra el límite de tasa; el fallo de una subtarea no
// aborta a sus hermanas.
func (w *BatchWorkflow) procesar(ctx context.Context, ids []string) (*BatchWorkflowOutput, error) {
	started := time.Now()

	particiones := particionar(ids, w.tamanioSubtarea)
	resultados := make([]*models.BulkLookupResult, len(particiones))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrencia)

	for i, particion := range particiones {
		i, particion := i, particion
		g.Go(func() error {
			// Desplazamiento entre subtareas para espaciar el consumo
			// del presupuesto por minuto
			offset := time.Duration(i*w.segundosPorLote) * time.Second
			if offset > 0 {
				timer := time.NewTimer(offset)
				defer timer.Stop()
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-timer.C:
				}
			}

			resultado, err := w.migo.ConsultarLote(gctx, particion)
			if err != nil {
				// La subtarea reporta sus identificadores como fallidos
				// sin tumbar al resto
				w.logger.Warnf("Batch subtask %d failed: %v", i, err)
				resultado = &models.BulkLookupResult{Errors: make(map[string]string)}
				for _, id := range particion {
					resultado.Errors[id] = err.Error()
				}
			}
			resultados[i] = resultado
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	output := &BatchWorkflowOutput{
		Duration: time.Since(started).String(),
		Result:   &Resultado{Lotes: resultados},
	}
	for _, r := range resultados {
		if r == nil {
			continue
		}
		output.Valid += len(r.Valid)
		output.Invalid += len(r.Invalid)
		output.Omitted += len(r.Omitted)
		output.Errors += len(r.Errors)
		if r.BatchRef != nil {
			output.BatchRefs = append(output.BatchRefs, r.BatchRef.String())
		}
	}

	w.logger.WithFields(logrus.Fields{
		"subtasks": len(particiones),
		"valid":    output.Valid,
		"invalid":  output.Invalid,
		"omitted":  output.Omitted,
		"errors":   output.Errors,
	}).Info("Batch validation finished")
	return output, nil
}

// particionar divide la entrada en grupos de hasta tamanio elementos
func particionar(ids []string, tamanio int) [][]string {
	if tamanio <= 0 {
		tamanio = 100
	}
	var out [][]string
	for start := 0; start < len(ids); start += tamanio {
		end := start + tamanio
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
