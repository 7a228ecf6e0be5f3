package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadenaFlexible(t *testing.T) {
	var response ComprobanteResponse

	// Nubefact alterna entre cadena y número para el mismo campo
	require.NoError(t, json.Unmarshal([]byte(`{"tipo_de_comprobante":"1","numero":125}`), &response))
	assert.Equal(t, "1", response.TipoDeComprobante.String())
	assert.Equal(t, 125, response.Numero.Int())

	require.NoError(t, json.Unmarshal([]byte(`{"numero":null}`), &response))
	assert.Equal(t, "", response.Numero.String())
	assert.Equal(t, 0, response.Numero.Int())

	assert.Error(t, json.Unmarshal([]byte(`{"numero":[1]}`), &response))
}

func TestEstadoTernario(t *testing.T) {
	aceptada := true
	pendiente := false

	assert.Equal(t, EstadoSunatAceptada, (&ComprobanteResponse{AceptadaPorSunat: &aceptada}).Estado())
	assert.Equal(t, EstadoSunatPendiente, (&ComprobanteResponse{AceptadaPorSunat: &pendiente}).Estado())
	assert.Equal(t, EstadoSunatDesconocido, (&ComprobanteResponse{}).Estado())
}

func TestHabilitado(t *testing.T) {
	tests := []struct {
		name string
		info RUCInfo
		want bool
	}{
		{
			name: "activo y habido",
			info: RUCInfo{Success: true, RUC: "20123456789", EstadoDelContribuyente: "ACTIVO", CondicionDeDomicilio: "HABIDO"},
			want: true,
		},
		{
			name: "activo pero no habido",
			info: RUCInfo{Success: true, RUC: "20123456789", EstadoDelContribuyente: "ACTIVO", CondicionDeDomicilio: "NO HABIDO"},
			want: false,
		},
		{
			name: "baja de oficio",
			info: RUCInfo{Success: true, RUC: "20123456789", EstadoDelContribuyente: "BAJA DE OFICIO", CondicionDeDomicilio: "HABIDO"},
			want: false,
		},
		{
			name: "dni sin estado sunat",
			info: RUCInfo{Success: true, DNI: "12345678"},
			want: true,
		},
		{
			name: "consulta fallida",
			info: RUCInfo{Success: false, RUC: "20123456789", EstadoDelContribuyente: "ACTIVO", CondicionDeDomicilio: "HABIDO"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Habilitado())
		})
	}
}
