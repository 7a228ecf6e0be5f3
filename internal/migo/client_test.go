package migo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andeslabs/facturacion-service/internal/audit"
	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConfig sirve la configuración de servicios sin base de datos
type fakeConfig struct {
	svc *models.Service
	eps map[string]*models.Endpoint
}

func (f *fakeConfig) GetService(kind models.ServiceKind) (*models.Service, error) {
	return f.svc, nil
}

func (f *fakeConfig) GetEndpoint(svc *models.Service, name string) (*models.Endpoint, error) {
	ep, ok := f.eps[name]
	if !ok {
		return nil, models.NewAPIError(models.ErrorCodeEndpointMissing, "endpoint no configurado: "+name)
	}
	return ep, nil
}

type fakeAuditStore struct {
	mu   sync.Mutex
	logs []*models.CallLog
}

func (s *fakeAuditStore) AppendCallLog(ctx context.Context, log *models.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *fakeAuditStore) statuses() []models.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CallStatus, len(s.logs))
	for i, log := range s.logs {
		out[i] = log.Status
	}
	return out
}

type fakeBatchStore struct {
	mu      sync.Mutex
	created *models.BatchRequest
	updated *models.BatchRequest
}

func (s *fakeBatchStore) Create(batch *models.BatchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copia := *batch
	s.created = &copia
	return nil
}

func (s *fakeBatchStore) Update(batch *models.BatchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copia := *batch
	s.updated = &copia
	return nil
}

type fakeFXStore struct {
	porFecha    map[string]*models.FXRate
	masReciente *models.FXRate
	upserts     []models.FXRate
}

func (s *fakeFXStore) GetByFecha(fecha string) (*models.FXRate, error) {
	return s.porFecha[fecha], nil
}

func (s *fakeFXStore) GetMasReciente() (*models.FXRate, error) {
	return s.masReciente, nil
}

func (s *fakeFXStore) Upsert(fecha string, compra, venta float64) error {
	s.upserts = append(s.upserts, models.FXRate{Fecha: fecha, Compra: compra, Venta: venta})
	return nil
}

type migoHarness struct {
	client *Client
	cache  *cache.Cache
	audits *fakeAuditStore
	batch  *fakeBatchStore
	fx     *fakeFXStore
}

func newMigoHarness(t *testing.T, baseURL string) *migoHarness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	svc := &models.Service{
		ID:           uuid.New(),
		Kind:         models.ServiceKindMigo,
		BaseURL:      baseURL,
		BearerToken:  "token-migo",
		MaxBatchSize: 100,
	}
	eps := map[string]*models.Endpoint{}
	for _, name := range []string{
		models.EndpointConsultarRUC,
		models.EndpointConsultarDNI,
		models.EndpointRUCCollection,
		models.EndpointTipoCambioLatest,
		models.EndpointTipoCambioFecha,
	} {
		eps[name] = &models.Endpoint{
			ID:             uuid.New(),
			ServiceID:      svc.ID,
			Name:           name,
			Path:           "/" + name,
			HTTPMethod:     http.MethodPost,
			TimeoutSeconds: 5,
		}
	}

	audits := &fakeAuditStore{}
	auditLogger := audit.New(audits, logger, 1, 64)
	t.Cleanup(auditLogger.Close)

	backend := cache.NewMemoryBackend()
	cacheTier := cache.New(backend, logger)
	exec := executor.New(ratelimit.New(backend, logger), auditLogger, logger)

	batch := &fakeBatchStore{}
	fx := &fakeFXStore{porFecha: map[string]*models.FXRate{}}

	client := NewClient(Options{
		Config:   &fakeConfig{svc: svc, eps: eps},
		Executor: exec,
		Cache:    cacheTier,
		Audit:    auditLogger,
		FXRepo:   fx,
		Batches:  batch,
		Logger:   logger,
	})
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return &migoHarness{client: client, cache: cacheTier, audits: audits, batch: batch, fx: fx}
}

// migoRespuesta arma la ficha que Migo retorna para un contribuyente
func migoRespuesta(ruc, estado, condicion string) map[string]interface{} {
	return map[string]interface{}{
		"success":                  true,
		"ruc":                      ruc,
		"nombre_o_razon_social":    "EMPRESA DE PRUEBA S.A.C.",
		"estado_del_contribuyente": estado,
		"condicion_de_domicilio":   condicion,
	}
}

func TestConsultarIDFormatoInvalido(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	for _, id := range []string{"", "abc", "123", "201234567890", "2012345678a"} {
		result, err := h.client.ConsultarID(context.Background(), id, false)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, models.MotivoFormato, result.Reason)
	}

	assert.Equal(t, 0, llamadas, "el rechazo por formato no genera tráfico")
	for _, status := range h.audits.statuses() {
		assert.Equal(t, models.CallStatusInvalidFormat, status)
	}
}

func TestConsultarIDHabilitado(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
		json.NewEncoder(w).Encode(migoRespuesta("20123456789", "ACTIVO", "HABIDO"))
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarID(context.Background(), "20123456789", false)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.CacheHit)
	require.NotNil(t, result.Info)
	assert.Equal(t, "EMPRESA DE PRUEBA S.A.C.", result.Info.NombreORazonSocial)

	// La segunda consulta sale de la caché de válidos
	result, err = h.client.ConsultarID(context.Background(), "20123456789", false)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.CacheHit)
	assert.Equal(t, models.CacheTypeValid, result.CacheType)
	assert.Equal(t, 1, llamadas)
}

func TestConsultarIDNoHabilitado(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(migoRespuesta("20123456789", "BAJA DE OFICIO", "NO HABIDO"))
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarID(context.Background(), "20123456789", false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.Info)
	assert.Equal(t, "BAJA DE OFICIO", result.Info.EstadoDelContribuyente)
}

func TestConsultarIDNoExisteEntraAlConjuntoDeInvalidos(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "el ruc consultado no existe",
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarID(context.Background(), "20999999999", false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, models.MotivoNoExisteSunat, result.Reason)

	// La segunda consulta corta en el negativo cacheado
	result, err = h.client.ConsultarID(context.Background(), "20999999999", false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.CacheHit)
	assert.Equal(t, models.CacheTypeInvalid, result.CacheType)
	assert.Equal(t, 1, llamadas)
}

func TestConsultarIDForceRefreshSalteaLaCache(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
		json.NewEncoder(w).Encode(migoRespuesta("20123456789", "ACTIVO", "HABIDO"))
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	_, err := h.client.ConsultarID(context.Background(), "20123456789", false)
	require.NoError(t, err)
	_, err = h.client.ConsultarID(context.Background(), "20123456789", true)
	require.NoError(t, err)

	assert.Equal(t, 2, llamadas)
}

func TestConsultarIDUsaEndpointDeDNI(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"dni":     "12345678",
			"nombre":  "JUAN PEREZ",
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	result, err := h.client.ConsultarID(context.Background(), "12345678", false)
	require.NoError(t, err)
	assert.Equal(t, "/"+models.EndpointConsultarDNI, path)
	// Los DNI no llevan estado SUNAT, basta el éxito de la consulta
	assert.True(t, result.Valid)
}

func TestConsultarIDErrorDelProveedorNoSeCachea(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.maxRetries = 0

	_, err := h.client.ConsultarID(context.Background(), "20123456789", false)
	require.Error(t, err)
	assert.Equal(t, models.ErrorCodeProviderError, models.CodeOf(err))

	invalido, _ := h.cache.IsInvalid(context.Background(), "20123456789")
	assert.False(t, invalido, "un error transitorio no debe bloquear el identificador")
}
