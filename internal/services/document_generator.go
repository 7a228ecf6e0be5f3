package services

import (
	"bytes"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

// DocumentGenerator genera la representación impresa del comprobante
// emitido: un PDF A4 con los datos del payload y el código QR que SUNAT
// exige a partir de la cadena que retorna el proveedor
type DocumentGenerator struct {
	logger *logrus.Logger
}

// NewDocumentGenerator crea una nueva instancia del generador
func NewDocumentGenerator(logger *logrus.Logger) *DocumentGenerator {
	return &DocumentGenerator{
		logger: logger,
	}
}

// GenerarPDF genera el PDF del comprobante emitido
func (d *DocumentGenerator) GenerarPDF(payload models.ComprobantePayload, response *models.ComprobanteResponse) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	// Colores corporativos
	pdf.SetFillColor(41, 128, 185)
	pdf.SetTextColor(44, 62, 80)
	pdf.SetDrawColor(52, 73, 94)

	// Header con color de fondo
	pdf.SetFillColor(41, 128, 185)
	pdf.Rect(0, 0, 210, 40, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 24)
	pdf.Cell(190, 15, tituloComprobante(payload))
	pdf.Ln(15)

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(190, 10, fmt.Sprintf("%s-%s", campo(payload, "serie"), campo(payload, "numero")))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 12)
	pdf.Cell(190, 8, fmt.Sprintf("Fecha de emisión: %s", campo(payload, "fecha_de_emision")))
	pdf.Ln(8)

	pdf.SetTextColor(44, 62, 80)
	pdf.SetFillColor(255, 255, 255)

	// Datos del cliente
	pdf.SetY(50)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(95, 8, "CLIENTE")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(95, 6, campo(payload, "cliente_denominacion"))
	pdf.Ln(6)
	pdf.Cell(95, 6, fmt.Sprintf("Documento: %s", campo(payload, "cliente_numero_de_documento")))
	pdf.Ln(6)
	pdf.Cell(95, 6, campo(payload, "cliente_direccion"))
	pdf.Ln(6)
	if email := campo(payload, "cliente_email"); email != "" {
		pdf.Cell(95, 6, fmt.Sprintf("Email: %s", email))
		pdf.Ln(6)
	}

	// Estado SUNAT (derecha)
	pdf.SetY(50)
	pdf.SetX(105)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(95, 8, "SUNAT")
	pdf.Ln(8)
	pdf.SetX(105)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(95, 6, fmt.Sprintf("Estado: %s", response.Estado()))
	pdf.Ln(6)
	if response.CodigoHash != "" {
		pdf.SetX(105)
		pdf.Cell(95, 6, fmt.Sprintf("Hash: %s", response.CodigoHash))
		pdf.Ln(6)
	}

	// Tabla de items
	pdf.SetY(95)
	pdf.SetFillColor(236, 240, 241)
	pdf.SetTextColor(44, 62, 80)
	pdf.SetFont("Arial", "B", 10)

	colWidths := []float64{90, 25, 35, 40}
	colHeaders := []string{"Descripción", "Cantidad", "Precio Unit.", "Total"}

	for i, header := range colHeaders {
		pdf.CellFormat(colWidths[i], 10, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(10)

	pdf.SetFillColor(255, 255, 255)
	pdf.SetFont("Arial", "", 9)
	rowHeight := 8.0

	for i, item := range itemsDe(payload) {
		if i%2 == 0 {
			pdf.SetFillColor(248, 249, 250)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		pdf.CellFormat(colWidths[0], rowHeight, campo(item, "descripcion"), "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[1], rowHeight, campo(item, "cantidad"), "1", 0, "R", true, 0, "")
		pdf.CellFormat(colWidths[2], rowHeight, campo(item, "precio_unitario"), "1", 0, "R", true, 0, "")
		pdf.CellFormat(colWidths[3], rowHeight, campo(item, "total"), "1", 0, "R", true, 0, "")
		pdf.Ln(rowHeight)
	}

	// Totales
	totalY := pdf.GetY() + 10
	pdf.SetY(totalY)
	pdf.SetDrawColor(189, 195, 199)
	pdf.Line(120, totalY, 200, totalY)
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 12)
	pdf.SetX(120)
	pdf.Cell(50, 8, "Gravada:")
	pdf.Cell(30, 8, fmt.Sprintf("S/ %s", campo(payload, "total_gravada")))
	pdf.Ln(8)

	pdf.SetX(120)
	pdf.Cell(50, 8, "IGV:")
	pdf.Cell(30, 8, fmt.Sprintf("S/ %s", campo(payload, "total_igv")))
	pdf.Ln(8)

	pdf.SetFillColor(41, 128, 185)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetX(120)
	pdf.Cell(50, 12, "TOTAL:")
	pdf.Cell(30, 12, fmt.Sprintf("S/ %s", campo(payload, "total")))
	pdf.Ln(12)

	pdf.SetTextColor(44, 62, 80)

	// Código QR a partir de la cadena que exige SUNAT
	if response.CadenaParaCodigoQR != "" {
		if err := d.insertarQR(pdf, response.CadenaParaCodigoQR); err != nil {
			return nil, err
		}
	}

	// Footer
	pdf.SetY(272)
	pdf.SetTextColor(149, 165, 166)
	pdf.SetFont("Arial", "", 8)
	pdf.Cell(190, 6, "Representación impresa del comprobante electrónico")
	pdf.Ln(6)
	pdf.Cell(190, 6, fmt.Sprintf("Generado el: %s", time.Now().Format("02/01/2006 15:04:05")))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("error generating PDF: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"serie":  campo(payload, "serie"),
		"numero": campo(payload, "numero"),
		"size":   buf.Len(),
	}).Info("Voucher PDF generated successfully")

	return buf.Bytes(), nil
}

// insertarQR renderiza la cadena QR como imagen PNG y la inserta en la
// esquina inferior izquierda del PDF
func (d *DocumentGenerator) insertarQR(pdf *gofpdf.Fpdf, cadena string) error {
	png, err := qrcode.Encode(cadena, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("error generating QR code: %w", err)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("codigo_qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("codigo_qr", 10, 235, 30, 30, false, opts, 0, "")
	return nil
}

// tituloComprobante traduce el tipo de comprobante al título impreso
func tituloComprobante(payload models.ComprobantePayload) string {
	switch campo(payload, "tipo_de_comprobante") {
	case "1":
		return "FACTURA ELECTRÓNICA"
	case "2":
		return "BOLETA DE VENTA ELECTRÓNICA"
	case "3":
		return "NOTA DE CRÉDITO ELECTRÓNICA"
	case "4":
		return "NOTA DE DÉBITO ELECTRÓNICA"
	default:
		return "COMPROBANTE ELECTRÓNICO"
	}
}

// campo lee un valor del payload como texto
func campo(m map[string]interface{}, nombre string) string {
	raw, ok := m[nombre]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// itemsDe retorna las líneas del comprobante
func itemsDe(payload models.ComprobantePayload) []map[string]interface{} {
	raw, ok := payload["items"].([]interface{})
	if !ok {
		return nil
	}
	items := make([]map[string]interface{}, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(map[string]interface{}); ok {
			items = append(items, item)
		}
	}
	return items
}
