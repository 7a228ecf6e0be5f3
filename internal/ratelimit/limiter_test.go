package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testService(rpm int) *models.Service {
	return &models.Service{
		ID:                       uuid.New(),
		Kind:                     models.ServiceKindMigo,
		DefaultRequestsPerMinute: rpm,
	}
}

func testEndpoint() *models.Endpoint {
	return &models.Endpoint{
		ID:   uuid.New(),
		Name: "consultar_ruc",
	}
}

func TestCheckPermiteBajoElLimite(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc, ep := testService(3), testEndpoint()
	l.now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		allowed, _ := l.Check(ctx, svc, ep)
		require.True(t, allowed, "llamada %d debería pasar", i+1)
		l.Record(ctx, svc, ep)
	}

	allowed, wait := l.Check(ctx, svc, ep)
	assert.False(t, allowed)
	assert.Greater(t, wait, 0.0)
	assert.LessOrEqual(t, wait, 60.0)
}

func TestCheckNoConsumePresupuesto(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc, ep := testService(1), testEndpoint()

	// Consultar varias veces sin registrar no agota la ventana
	for i := 0; i < 5; i++ {
		allowed, _ := l.Check(ctx, svc, ep)
		assert.True(t, allowed)
	}
}

func TestVentanaNuevaReiniciaElContador(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc, ep := testService(1), testEndpoint()

	ahora := time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return ahora }

	l.Record(ctx, svc, ep)
	allowed, _ := l.Check(ctx, svc, ep)
	require.False(t, allowed)

	// El minuto siguiente arranca con contador propio
	ahora = ahora.Add(time.Minute)
	allowed, _ = l.Check(ctx, svc, ep)
	assert.True(t, allowed)
}

func TestEsperaHastaElProximoMinuto(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc, ep := testService(1), testEndpoint()

	ahora := time.Date(2026, 8, 29, 10, 0, 45, 0, time.UTC)
	l.now = func() time.Time { return ahora }

	l.Record(ctx, svc, ep)
	allowed, wait := l.Check(ctx, svc, ep)
	require.False(t, allowed)
	assert.InDelta(t, 15.0, wait, 0.01)
}

func TestLimitePropioDelEndpoint(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc := testService(100)
	ep := testEndpoint()
	custom := 2
	ep.CustomRateLimit = &custom
	l.now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC) }

	l.Record(ctx, svc, ep)
	l.Record(ctx, svc, ep)

	allowed, _ := l.Check(ctx, svc, ep)
	assert.False(t, allowed, "el límite propio del endpoint manda sobre el del servicio")
}

func TestSinLimiteConfigurado(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc, ep := testService(0), testEndpoint()

	for i := 0; i < 50; i++ {
		l.Record(ctx, svc, ep)
	}
	allowed, _ := l.Check(ctx, svc, ep)
	assert.True(t, allowed)
}

func TestContadoresIndependientesPorEndpoint(t *testing.T) {
	ctx := context.Background()
	l := New(cache.NewMemoryBackend(), testLogger())
	svc := testService(1)
	ruc := testEndpoint()
	dni := &models.Endpoint{ID: uuid.New(), Name: "consultar_dni"}
	l.now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 30, 0, time.UTC) }

	l.Record(ctx, svc, ruc)

	allowed, _ := l.Check(ctx, svc, ruc)
	assert.False(t, allowed)
	allowed, _ = l.Check(ctx, svc, dni)
	assert.True(t, allowed)
}

func TestEsperaEntreLotes(t *testing.T) {
	svc := testService(12)
	ep := testEndpoint()
	assert.Equal(t, 5*time.Second, EsperaEntreLotes(svc, ep))

	assert.Equal(t, time.Duration(0), EsperaEntreLotes(testService(0), ep))
}
