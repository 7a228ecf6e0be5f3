package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
)

// Tolerancia aceptada al cuadrar totales declarados contra calculados
const toleranciaMonto = 0.01

// camposFecha son los campos que Nubefact exige en formato DD-MM-YYYY
var camposFecha = []string{"fecha_de_emision", "fecha_de_vencimiento"}

// camposVacioACero es el conjunto cerrado de campos numéricos donde el
// proveedor rechaza la cadena vacía pero acepta "0". Agregar un campo
// nuevo de Nubefact implica extender esta lista, nunca coercionar todo.
var camposVacioACero = map[string]bool{
	"total_igv":             true,
	"total":                 true,
	"descuento_global":      true,
	"total_descuento":       true,
	"detraccion_total":      true,
	"detraccion_porcentaje": true,
}

// camposComoCadena son campos numéricos que el proveedor exige como cadena
var camposComoCadena = map[string]bool{
	"tipo_de_comprobante": true,
	"numero":              true,
	"sunat_transaction":   true,
}

// camposItemComoCadena son los campos por línea que se envían como cadena
var camposItemComoCadena = map[string]bool{
	"cantidad":        true,
	"precio_unitario": true,
	"subtotal":        true,
	"igv":             true,
	"valor_unitario":  true,
	"descuento":       true,
	"total_descuento": true,
}

// Normalizar aplica las transformaciones que Nubefact exige sobre un
// payload de comprobante y verifica su consistencia aritmética. Retorna
// un mapa nuevo; el payload original no se modifica. La operación es
// idempotente: normalizar un payload ya normalizado lo deja igual.
func Normalizar(payload map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = v
	}

	// 1. Fechas a DD-MM-YYYY
	for _, campo := range camposFecha {
		raw, ok := out[campo]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		normalized, err := normalizarFecha(value)
		if err != nil {
			return nil, models.NewAPIError(models.ErrorCodeInvalidFormat,
				fmt.Sprintf("campo %s: %v", campo, err))
		}
		out[campo] = normalized
	}

	// 2. Cadena vacía a cero en campos numéricos conocidos
	for campo := range camposVacioACero {
		if value, ok := out[campo].(string); ok && value == "" {
			out[campo] = "0"
		}
	}

	// 3. Numéricos que el proveedor exige como cadena
	for campo := range camposComoCadena {
		if raw, ok := out[campo]; ok {
			out[campo] = comoCadena(raw)
		}
	}
	if rawItems, ok := out["items"].([]interface{}); ok {
		items := make([]interface{}, len(rawItems))
		for i, rawItem := range rawItems {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				items[i] = rawItem
				continue
			}
			normalized := make(map[string]interface{}, len(item))
			for k, v := range item {
				if camposItemComoCadena[k] {
					normalized[k] = comoCadena(v)
				} else {
					normalized[k] = v
				}
			}
			items[i] = normalized
		}
		out["items"] = items
	}

	if err := verificarConsistencia(out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizarFecha acepta YYYY-MM-DD (reformatea) o DD-MM-YYYY (valida y
// conserva); cualquier otra forma se rechaza
func normalizarFecha(value string) (string, error) {
	parts := strings.Split(value, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("fecha %q no tiene formato reconocible", value)
	}

	switch {
	case len(parts[0]) == 4:
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return "", fmt.Errorf("fecha %q inválida: %v", value, err)
		}
		return t.Format("02-01-2006"), nil
	case len(parts[2]) == 4:
		if _, err := time.Parse("02-01-2006", value); err != nil {
			return "", fmt.Errorf("fecha %q inválida: %v", value, err)
		}
		return value, nil
	default:
		return "", fmt.Errorf("fecha %q no tiene formato reconocible", value)
	}
}

// comoCadena convierte un valor numérico a su representación mínima en
// cadena; las cadenas pasan sin tocarse
func comoCadena(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return value
	}
}

// verificarConsistencia cuadra los totales declarados del comprobante.
// Atrapar la inconsistencia aquí evita un rechazo del proveedor cuyos
// mensajes de error son opacos.
func verificarConsistencia(payload map[string]interface{}) error {
	total, hayTotal := comoNumero(payload["total"])
	items, hayItems := payload["items"].([]interface{})

	if hayTotal && hayItems && len(items) > 0 {
		var suma float64
		for _, rawItem := range items {
			item, ok := rawItem.(map[string]interface{})
			if !ok {
				continue
			}
			if monto, ok := comoNumero(item["total"]); ok {
				suma += monto
			}
		}
		if math.Abs(suma-total) > toleranciaMonto {
			return models.NewAPIError(models.ErrorCodeInvalidFormat,
				fmt.Sprintf("la suma de items (%.2f) no cuadra con el total declarado (%.2f)", suma, total))
		}
	}

	porcentaje, hayPorcentaje := comoNumero(payload["porcentaje_de_igv"])
	if hayPorcentaje && porcentaje > 0 {
		gravada, hayGravada := comoNumero(payload["total_gravada"])
		igv, hayIGV := comoNumero(payload["total_igv"])
		if hayGravada && hayIGV {
			esperado := gravada * porcentaje / 100
			if math.Abs(esperado-igv) > toleranciaMonto {
				return models.NewAPIError(models.ErrorCodeInvalidFormat,
					fmt.Sprintf("el IGV declarado (%.2f) no cuadra con el calculado (%.2f)", igv, esperado))
			}
		}
	}

	return nil
}

// comoNumero intenta leer un valor como número, aceptando cadenas
func comoNumero(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if v == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
