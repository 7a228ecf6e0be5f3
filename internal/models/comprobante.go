package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operaciones de Nubefact. El proveedor enruta por el campo operacion del
// cuerpo, no por la URL.
const (
	OperacionGenerarComprobante   = "generar_comprobante"
	OperacionConsultarComprobante = "consultar_comprobante"
	OperacionGenerarAnulacion     = "generar_anulacion"
)

// ComprobantePayload representa el cuerpo de un comprobante hacia Nubefact.
// Se mantiene como mapa: el proveedor exige varios numéricos como cadenas y
// el validador normaliza campo por campo.
type ComprobantePayload map[string]interface{}

// CadenaFlexible acepta un valor JSON que puede venir como cadena o como
// número; Nubefact alterna entre ambos según el campo y la operación
type CadenaFlexible string

// UnmarshalJSON implementa json.Unmarshaler
func (c *CadenaFlexible) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CadenaFlexible(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("valor %s no es cadena ni número", trimmed)
	}
	*c = CadenaFlexible(n.String())
	return nil
}

// String retorna el valor como cadena
func (c CadenaFlexible) String() string {
	return string(c)
}

// Int retorna el valor como entero, o cero si no lo es
func (c CadenaFlexible) Int() int {
	n, err := strconv.Atoi(string(c))
	if err != nil {
		return 0
	}
	return n
}

// ComprobanteResponse representa la respuesta de Nubefact a una operación
type ComprobanteResponse struct {
	Errors             string         `json:"errors,omitempty"`
	Codigo             *int           `json:"codigo,omitempty"`
	TipoDeComprobante  CadenaFlexible `json:"tipo_de_comprobante,omitempty"`
	Serie              string         `json:"serie,omitempty"`
	Numero             CadenaFlexible `json:"numero,omitempty"`
	Enlace             string         `json:"enlace,omitempty"`
	EnlaceDelPDF       string         `json:"enlace_del_pdf,omitempty"`
	EnlaceDelXML       string         `json:"enlace_del_xml,omitempty"`
	EnlaceDelCDR       string         `json:"enlace_del_cdr,omitempty"`
	CodigoHash         string         `json:"codigo_hash,omitempty"`
	CadenaParaCodigoQR string         `json:"cadena_para_codigo_qr,omitempty"`
	AceptadaPorSunat   *bool          `json:"aceptada_por_sunat,omitempty"`
	SunatDescription   string         `json:"sunat_description,omitempty"`
	SunatNote          string         `json:"sunat_note,omitempty"`
	SunatResponseCode  string         `json:"sunat_responsecode,omitempty"`
	SunatSoapError     string         `json:"sunat_soap_error,omitempty"`
}

// EstadoSunat describe el estado ternario de aceptación por SUNAT:
// aceptada, pendiente (el comprobante es válido, SUNAT aún no confirma)
// o desconocido.
type EstadoSunat string

const (
	EstadoSunatAceptada    EstadoSunat = "ACEPTADA"
	EstadoSunatPendiente   EstadoSunat = "PENDIENTE"
	EstadoSunatDesconocido EstadoSunat = "DESCONOCIDO"
)

// Estado retorna el estado ternario de aceptación por SUNAT
func (r *ComprobanteResponse) Estado() EstadoSunat {
	if r.AceptadaPorSunat == nil {
		return EstadoSunatDesconocido
	}
	if *r.AceptadaPorSunat {
		return EstadoSunatAceptada
	}
	return EstadoSunatPendiente
}

// MapearCodigoNubefact traduce el código numérico de error del proveedor
// a la taxonomía de errores de la capa de integraciones
func MapearCodigoNubefact(codigo int, mensaje string) *APIError {
	switch {
	case codigo == 10 || codigo == 11:
		return NewAPIError(ErrorCodeAuthFailed, mensaje)
	case codigo >= 20 && codigo <= 24:
		return NewAPIError(ErrorCodeValidationFailed, mensaje)
	case codigo == 50 || codigo == 51:
		return NewAPIError(ErrorCodeAuthFailed, mensaje)
	default:
		// 40 y cualquier código no catalogado: error interno del proveedor
		return NewAPIError(ErrorCodeProviderError, mensaje)
	}
}
