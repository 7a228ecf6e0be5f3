package migo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTipoCambioDesdeCache(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.cache.SetJSON(context.Background(), cache.NamespaceTipoCambio, "2026-08-29", &models.TipoCambio{
		Fecha:   "2026-08-29",
		Compra:  3.71,
		Venta:   3.76,
		Success: true,
		Source:  models.TipoCambioSourceAPI,
	}, cache.TTLTipoCambio)

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.Equal(t, 3.71, tc.Compra)
	assert.Equal(t, models.TipoCambioSourceCache, tc.Source)
	assert.Equal(t, 0, llamadas)
}

func TestTipoCambioDesdeLaFachada(t *testing.T) {
	llamadas := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llamadas++
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.fx.porFecha["2026-08-29"] = &models.FXRate{Fecha: "2026-08-29", Compra: 3.70, Venta: 3.74}

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.True(t, tc.Success)
	assert.Equal(t, 3.74, tc.Venta)
	assert.Equal(t, models.TipoCambioSourceDB, tc.Source)
	assert.Equal(t, 0, llamadas)

	// La lectura rellenó la caché
	var cached models.TipoCambio
	found := h.cache.GetJSON(context.Background(), cache.NamespaceTipoCambio, "2026-08-29", &cached)
	assert.True(t, found)
}

func TestTipoCambioDesdeElProveedor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"precio_compra": 3.72,
			"precio_venta":  3.77,
			"fecha":         "2026-08-29",
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.True(t, tc.Success)
	assert.False(t, tc.Stale)
	assert.Equal(t, 3.72, tc.Compra)
	assert.Equal(t, 3.77, tc.Venta)
	assert.Equal(t, models.TipoCambioSourceAPI, tc.Source)

	// La tasa nueva se respaldó en la fachada
	require.Len(t, h.fx.upserts, 1)
	assert.Equal(t, "2026-08-29", h.fx.upserts[0].Fecha)
}

func TestTipoCambioAceptaAlias(t *testing.T) {
	// Algunas respuestas traen compra/venta en vez de precio_compra/precio_venta
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"compra": "3.73",
			"venta":  "3.78",
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.Equal(t, 3.73, tc.Compra)
	assert.Equal(t, 3.78, tc.Venta)
	// La fecha pedida se conserva cuando el proveedor no la repite
	assert.Equal(t, "2026-08-29", tc.Fecha)
}

func TestTipoCambioCaeALaTasaMasReciente(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.maxRetries = 0
	h.fx.masReciente = &models.FXRate{Fecha: "2026-08-27", Compra: 3.69, Venta: 3.73}

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.True(t, tc.Success)
	assert.True(t, tc.Stale)
	assert.Equal(t, "2026-08-27", tc.Fecha)
	assert.Equal(t, models.TipoCambioSourceFallback, tc.Source)
}

func TestTipoCambioValoresPorDefecto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	h.client.maxRetries = 0

	tc, err := h.client.TipoCambio(context.Background(), "2026-08-29")
	require.NoError(t, err)

	assert.False(t, tc.Success)
	assert.True(t, tc.Stale)
	assert.Equal(t, models.TipoCambioCompraDefault, tc.Compra)
	assert.Equal(t, models.TipoCambioVentaDefault, tc.Venta)
}

func TestTipoCambioFechaVaciaUsaHoy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"precio_compra": 3.72,
			"precio_venta":  3.77,
		})
	}))
	defer server.Close()

	h := newMigoHarness(t, server.URL)
	hoy := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	h.client.now = func() time.Time { return hoy }

	tc, err := h.client.TipoCambio(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29", tc.Fecha)
}
