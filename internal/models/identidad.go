package models

import (
	"time"

	"github.com/google/uuid"
)

// Estados SUNAT que habilitan a un contribuyente para facturar
const (
	EstadoContribuyenteActivo = "ACTIVO"
	CondicionDomicilioHabido  = "HABIDO"
)

// Motivos de invalidación de identificadores
const (
	MotivoNoExisteSunat = "NO_EXISTE_SUNAT"
	MotivoFormato       = "FORMATO_INVALIDO"
)

// RUCInfo representa la información básica de un contribuyente según Migo
type RUCInfo struct {
	Success                bool   `json:"success"`
	RUC                    string `json:"ruc,omitempty"`
	DNI                    string `json:"dni,omitempty"`
	NombreORazonSocial     string `json:"nombre_o_razon_social,omitempty"`
	Nombre                 string `json:"nombre,omitempty"`
	EstadoDelContribuyente string `json:"estado_del_contribuyente,omitempty"`
	CondicionDeDomicilio   string `json:"condicion_de_domicilio,omitempty"`
	Direccion              string `json:"direccion,omitempty"`
	Ubigeo                 string `json:"ubigeo,omitempty"`
	ActualizadoEn          string `json:"actualizado_en,omitempty"`
	Message                string `json:"message,omitempty"`
}

// Numero retorna el identificador consultado (RUC o DNI)
func (r *RUCInfo) Numero() string {
	if r.RUC != "" {
		return r.RUC
	}
	return r.DNI
}

// Habilitado indica si el contribuyente puede recibir comprobantes:
// debe estar ACTIVO y HABIDO simultáneamente. Los DNI no llevan estado
// SUNAT, basta con que la consulta haya tenido éxito.
func (r *RUCInfo) Habilitado() bool {
	if !r.Success {
		return false
	}
	if r.DNI != "" && r.RUC == "" {
		return true
	}
	return r.EstadoDelContribuyente == EstadoContribuyenteActivo &&
		r.CondicionDeDomicilio == CondicionDomicilioHabido
}

// Tipos de caché reportados en los resultados de consulta
const (
	CacheTypeValid   = "valid"
	CacheTypeInvalid = "invalid"
)

// LookupResult representa el resultado de una consulta individual
type LookupResult struct {
	ID        string   `json:"id"`
	Valid     bool     `json:"valid"`
	Reason    string   `json:"reason,omitempty"`
	CacheHit  bool     `json:"cache_hit"`
	CacheType string   `json:"cache_type,omitempty"`
	Info      *RUCInfo `json:"info,omitempty"`
}

// BulkLookupResult representa el resultado consolidado de una consulta en
// lote. Los cuatro conjuntos son disjuntos y su unión cubre la entrada.
type BulkLookupResult struct {
	Valid             []LookupResult    `json:"valid"`
	Invalid           []LookupResult    `json:"invalid"`
	Omitted           []string          `json:"omitted"`
	Errors            map[string]string `json:"errors,omitempty"`
	CacheHits         int               `json:"cache_hits"`
	APICalls          int               `json:"api_calls"`
	BatchesProcessed  int               `json:"batches_processed"`
	RetriesExecuted   int               `json:"retries_executed"`
	BatchRef          *uuid.UUID        `json:"batch_ref,omitempty"`
}

// TotalItems retorna el total de identificadores cubiertos por el resultado
func (b *BulkLookupResult) TotalItems() int {
	return len(b.Valid) + len(b.Invalid) + len(b.Omitted) + len(b.Errors)
}

// TipoCambio representa el tipo de cambio normalizado a compra/venta
type TipoCambio struct {
	Fecha   string  `json:"fecha"`
	Compra  float64 `json:"compra"`
	Venta   float64 `json:"venta"`
	Success bool    `json:"success"`
	Stale   bool    `json:"stale,omitempty"`
	Source  string  `json:"source"`
}

// Fuentes posibles de un tipo de cambio
const (
	TipoCambioSourceCache    = "cache"
	TipoCambioSourceDB       = "db"
	TipoCambioSourceAPI      = "api"
	TipoCambioSourceFallback = "fallback"
)

// Valores por defecto documentados cuando ninguna fuente responde
const (
	TipoCambioCompraDefault = 3.70
	TipoCambioVentaDefault  = 3.75
)

// Partner representa la vista mínima de un socio de negocio que la capa
// de integraciones actualiza tras una consulta de identidad exitosa
type Partner struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	NumeroDocumento     string    `json:"numero_documento" db:"numero_documento"`
	RazonSocial         string    `json:"razon_social" db:"razon_social"`
	Direccion           string    `json:"direccion" db:"direccion"`
	EstadoContribuyente string    `json:"estado_contribuyente" db:"estado_contribuyente"`
	CondicionDomicilio  string    `json:"condicion_domicilio" db:"condicion_domicilio"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// FXRate representa un tipo de cambio persistido en la fachada
type FXRate struct {
	Fecha     string    `json:"fecha" db:"fecha"`
	Compra    float64   `json:"compra" db:"compra"`
	Venta     float64   `json:"venta" db:"venta"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
