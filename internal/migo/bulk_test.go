package migo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loteServer simula el endpoint masivo de Migo. Responde la ficha de cada
// RUC pedido salvo los que figuren como omitidos para esa llamada.
type loteServer struct {
	mu       sync.Mutex
	llamadas [][]string
	omitir   func(llamada int, id string) bool
	noExiste map[string]bool
	inactivo map[string]bool
}

func (s *loteServer) handler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RUC []string `json:"ruc"`
	}
	json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	llamada := len(s.llamadas)
	s.llamadas = append(s.llamadas, payload.RUC)
	s.mu.Unlock()

	items := make([]map[string]interface{}, 0, len(payload.RUC))
	for _, id := range payload.RUC {
		if s.omitir != nil && s.omitir(llamada, id) {
			continue
		}
		switch {
		case s.noExiste[id]:
			items = append(items, map[string]interface{}{
				"success": false,
				"ruc":     id,
				"message": "no existe",
			})
		case s.inactivo[id]:
			items = append(items, migoRespuesta(id, "SUSPENSION TEMPORAL", "HABIDO"))
		default:
			items = append(items, migoRespuesta(id, "ACTIVO", "HABIDO"))
		}
	}
	json.NewEncoder(w).Encode(items)
}

func (s *loteServer) totalLlamadas() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.llamadas)
}

func TestConsultarLoteCubreLaEntradaCompleta(t *testing.T) {
	ls := &loteServer{
		noExiste: map[string]bool{"20999999999": true},
		inactivo: map[string]bool{"20555555555": true},
	}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	// Un bloqueado previo debe cortar por caché
	h.cache.AddInvalid(context.Background(), "20888888888", models.MotivoNoExisteSunat, 0)

	entrada := []string{
		"20123456789", // habilitado
		"20555555555", // existe pero no habilitado
		"20999999999", // no existe en SUNAT
		"20888888888", // ya bloqueado
		"basura",      // formato inválido
		"20123456789", // duplicado, cuenta una vez
	}

	result, err := h.client.ConsultarLote(context.Background(), entrada)
	require.NoError(t, err)

	require.Len(t, result.Valid, 1)
	assert.Equal(t, "20123456789", result.Valid[0].ID)

	motivos := map[string]string{}
	for _, r := range result.Invalid {
		motivos[r.ID] = r.Reason
	}
	assert.Equal(t, MotivoNoHabilitado, motivos["20555555555"])
	assert.Equal(t, models.MotivoNoExisteSunat, motivos["20999999999"])
	assert.Equal(t, models.MotivoNoExisteSunat, motivos["20888888888"])
	assert.Equal(t, models.MotivoFormato, motivos["basura"])

	assert.Empty(t, result.Omitted)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.CacheHits)
	assert.Equal(t, 1, result.APICalls)

	// La unión de los conjuntos cubre la entrada deduplicada exactamente
	assert.Equal(t, 5, result.TotalItems())
}

func TestConsultarLoteEntradaVacia(t *testing.T) {
	ls := &loteServer{}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarLote(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, result.Valid)
	assert.Empty(t, result.Invalid)
	assert.Empty(t, result.Omitted)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 0, result.TotalItems())

	// Sin identificadores no hay tráfico ni sobre de lote
	assert.Equal(t, 0, ls.totalLlamadas())
	assert.Nil(t, result.BatchRef)
	assert.Nil(t, h.batch.created)
}

func TestConsultarLoteRecuperaOmitidos(t *testing.T) {
	// La primera llamada omite dos fichas; la recuperación las trae
	ls := &loteServer{
		omitir: func(llamada int, id string) bool {
			return llamada == 0 && (id == "20111111111" || id == "20222222222")
		},
	}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarLote(context.Background(), []string{
		"20123456789", "20111111111", "20222222222",
	})
	require.NoError(t, err)

	assert.Len(t, result.Valid, 3)
	assert.Empty(t, result.Omitted)
	assert.Equal(t, 1, result.RetriesExecuted)
	assert.Equal(t, 2, ls.totalLlamadas())

	// La ronda de recuperación sólo reenvió los omitidos
	assert.ElementsMatch(t, []string{"20111111111", "20222222222"}, ls.llamadas[1])
}

func TestConsultarLoteOmitidoPersistente(t *testing.T) {
	// Un RUC que el proveedor nunca responde queda reportado como omitido
	ls := &loteServer{
		omitir: func(llamada int, id string) bool {
			return id == "20111111111"
		},
	}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarLote(context.Background(), []string{
		"20123456789", "20111111111",
	})
	require.NoError(t, err)

	assert.Len(t, result.Valid, 1)
	assert.Equal(t, []string{"20111111111"}, result.Omitted)
	// Dos rondas de recuperación: grupos de a cinco y después de a uno
	assert.Equal(t, 2, result.RetriesExecuted)
	assert.Equal(t, 3, ls.totalLlamadas())
}

func TestConsultarLoteEsperaConfigurableEntreRondas(t *testing.T) {
	ls := &loteServer{
		omitir: func(llamada int, id string) bool {
			return id == "20111111111"
		},
	}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.esperaEntreRondas = 5 * time.Second

	var esperas []time.Duration
	h.client.sleep = func(ctx context.Context, d time.Duration) error {
		esperas = append(esperas, d)
		return nil
	}

	_, err := h.client.ConsultarLote(context.Background(), []string{"20111111111"})
	require.NoError(t, err)

	// Una espera por cada ronda de recuperación, con el valor configurado
	require.Len(t, esperas, 2)
	for _, d := range esperas {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestEsperaEntreRondasPorDefecto(t *testing.T) {
	assert.Equal(t, 2*time.Second, NewClient(Options{}).esperaEntreRondas)
	assert.Equal(t, 7*time.Second, NewClient(Options{EsperaEntreRondas: 7 * time.Second}).esperaEntreRondas)
}

func TestConsultarLoteParticionaPorTamanio(t *testing.T) {
	ls := &loteServer{}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.maxBatchSize = 2

	entrada := []string{"20111111111", "20222222222", "20333333333", "20444444444", "20555555555"}
	result, err := h.client.ConsultarLote(context.Background(), entrada)
	require.NoError(t, err)

	assert.Len(t, result.Valid, 5)
	assert.Equal(t, 3, ls.totalLlamadas())
	assert.Equal(t, 3, result.BatchesProcessed)
	assert.Len(t, ls.llamadas[0], 2)
	assert.Len(t, ls.llamadas[2], 1)
}

func TestConsultarLoteAbortaConAutenticacionCaida(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token_invalido"}`))
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.maxBatchSize = 2

	entrada := []string{"20111111111", "20222222222", "20333333333"}
	result, err := h.client.ConsultarLote(context.Background(), entrada)
	require.NoError(t, err)

	// Todos los identificadores terminan en el mapa de errores
	assert.Empty(t, result.Valid)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, 3, result.TotalItems())

	// El sobre del lote quedó FAILED
	require.NotNil(t, h.batch.updated)
	assert.Equal(t, models.BatchStatusFailed, h.batch.updated.Status)
}

func TestConsultarLoteCancelacionCooperativa(t *testing.T) {
	ls := &loteServer{}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.client.ConsultarLote(ctx, []string{"20111111111", "20222222222"})
	require.NoError(t, err)

	assert.Equal(t, 0, ls.totalLlamadas())
	assert.Len(t, result.Errors, 2)

	require.NotNil(t, h.batch.updated)
	assert.Equal(t, models.BatchStatusFailed, h.batch.updated.Status)
}

func TestConsultarLoteCierraElSobre(t *testing.T) {
	ls := &loteServer{noExiste: map[string]bool{"20999999999": true}}
	server := httptest.NewServer(http.HandlerFunc(ls.handler))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarLote(context.Background(), []string{
		"20123456789", "20999999999",
	})
	require.NoError(t, err)
	require.NotNil(t, result.BatchRef)

	require.NotNil(t, h.batch.created)
	assert.Equal(t, models.BatchStatusProcessing, h.batch.created.Status)
	assert.Equal(t, 2, h.batch.created.TotalItems)

	require.NotNil(t, h.batch.updated)
	assert.Equal(t, models.BatchStatusCompleted, h.batch.updated.Status)
	assert.Equal(t, 2, h.batch.updated.ProcessedItems)
	assert.Equal(t, 1, h.batch.updated.SuccessfulItems)
	assert.Equal(t, 1, h.batch.updated.FailedItems)
	require.NotNil(t, h.batch.updated.CompletedAt)
	assert.NotEmpty(t, h.batch.updated.ResultSnapshot)
}

func TestConsultarLoteRespuestaConSobre(t *testing.T) {
	// El endpoint también puede responder {success, data: [...]}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": []interface{}{
				migoRespuesta("20123456789", "ACTIVO", "HABIDO"),
			},
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarLote(context.Background(), []string{"20123456789"})
	require.NoError(t, err)
	assert.Len(t, result.Valid, 1)
}
