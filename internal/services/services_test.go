package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func payloadDePrueba() models.ComprobantePayload {
	return models.ComprobantePayload{
		"tipo_de_comprobante":         "1",
		"serie":                       "F001",
		"numero":                      "125",
		"fecha_de_emision":            "29-08-2026",
		"cliente_denominacion":        "EMPRESA DE PRUEBA S.A.C.",
		"cliente_numero_de_documento": "20123456789",
		"cliente_direccion":           "Av. Arequipa 1234, Lima",
		"total_gravada":               "100.00",
		"total_igv":                   "18.00",
		"total":                       "118.00",
		"items": []interface{}{
			map[string]interface{}{
				"descripcion":     "Servicio de consultoría",
				"cantidad":        "1",
				"precio_unitario": "118.00",
				"total":           "118.00",
			},
		},
	}
}

func TestGenerarPDF(t *testing.T) {
	aceptada := true
	response := &models.ComprobanteResponse{
		Serie:              "F001",
		Numero:             "125",
		CodigoHash:         "u0pVn2bG6U8=",
		CadenaParaCodigoQR: "20123456789|01|F001|125|18.00|118.00|29-08-2026",
		AceptadaPorSunat:   &aceptada,
	}

	g := NewDocumentGenerator(testLogger())
	pdfData, err := g.GenerarPDF(payloadDePrueba(), response)
	require.NoError(t, err)

	require.NotEmpty(t, pdfData)
	assert.True(t, bytes.HasPrefix(pdfData, []byte("%PDF")), "el artefacto debe ser un PDF")
}

func TestGenerarPDFSinCadenaQR(t *testing.T) {
	// Sin cadena QR el PDF igual se genera, sólo que sin el código
	g := NewDocumentGenerator(testLogger())
	pdfData, err := g.GenerarPDF(payloadDePrueba(), &models.ComprobanteResponse{})
	require.NoError(t, err)
	assert.NotEmpty(t, pdfData)
}

func TestTituloComprobante(t *testing.T) {
	tests := []struct {
		tipo   string
		titulo string
	}{
		{tipo: "1", titulo: "FACTURA ELECTRÓNICA"},
		{tipo: "2", titulo: "BOLETA DE VENTA ELECTRÓNICA"},
		{tipo: "3", titulo: "NOTA DE CRÉDITO ELECTRÓNICA"},
		{tipo: "4", titulo: "NOTA DE DÉBITO ELECTRÓNICA"},
		{tipo: "7", titulo: "COMPROBANTE ELECTRÓNICO"},
	}
	for _, tt := range tests {
		payload := models.ComprobantePayload{"tipo_de_comprobante": tt.tipo}
		assert.Equal(t, tt.titulo, tituloComprobante(payload))
	}
}

func TestGuardarArtefactos(t *testing.T) {
	dir := t.TempDir()
	s := NewArtifactStorage(nil, testLogger(), dir)
	s.now = func() time.Time { return time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC) }

	response := &models.ComprobanteResponse{Serie: "F001", Numero: "125"}
	paths, err := s.Guardar(context.Background(), "F001", "125", response, []byte("%PDF-fake"))
	require.NoError(t, err)

	esperado := filepath.Join(dir, "20260829_150405")
	assert.Equal(t, filepath.Join(esperado, "response_F001_125.json"), paths.ResponseJSON)
	assert.Equal(t, filepath.Join(esperado, "factura_F001_125.pdf"), paths.PDF)

	data, err := os.ReadFile(paths.ResponseJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"serie": "F001"`)

	pdf, err := os.ReadFile(paths.PDF)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-fake"), pdf)

	// Sin storage remoto configurado no hay URLs
	assert.Empty(t, paths.ResponseURL)
	assert.Empty(t, paths.PDFURL)
}

func TestGuardarSinPDF(t *testing.T) {
	dir := t.TempDir()
	s := NewArtifactStorage(nil, testLogger(), dir)

	paths, err := s.Guardar(context.Background(), "F001", "126", &models.ComprobanteResponse{}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, paths.ResponseJSON)
	assert.Empty(t, paths.PDF)
}
