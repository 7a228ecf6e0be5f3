package services

import (
	"context"

	"github.com/andeslabs/facturacion-service/internal/email"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/andeslabs/facturacion-service/internal/nubefact"
	"github.com/sirupsen/logrus"
)

// ComprobanteService orquesta el ciclo completo de una emisión: envío a
// Nubefact, generación del PDF con QR, guardado de artefactos y correo
// al cliente. Sólo el envío al proveedor es obligatorio; el resto es
// mejor esfuerzo y sus fallos se reportan sin deshacer la emisión.
type ComprobanteService struct {
	nubefact  *nubefact.Client
	generator *DocumentGenerator
	storage   *ArtifactStorage
	email     *email.ResendService
	logger    *logrus.Logger
}

// EmisionResult agrupa el desenlace de una emisión orquestada
type EmisionResult struct {
	Response    *models.ComprobanteResponse `json:"response"`
	Estado      models.EstadoSunat          `json:"estado"`
	Artifacts   *ArtifactPaths              `json:"artifacts,omitempty"`
	EmailSent   bool                        `json:"email_sent"`
	Advertencia string                      `json:"advertencia,omitempty"`
}

// NewComprobanteService crea el servicio de comprobantes. storage y
// emailService pueden ser nil; esos pasos se saltean.
func NewComprobanteService(nubefactClient *nubefact.Client, generator *DocumentGenerator, storage *ArtifactStorage, emailService *email.ResendService, logger *logrus.Logger) *ComprobanteService {
	return &ComprobanteService{
		nubefact:  nubefactClient,
		generator: generator,
		storage:   storage,
		email:     emailService,
		logger:    logger,
	}
}

// Emitir emite un comprobante y procesa sus artefactos
func (s *ComprobanteService) Emitir(ctx context.Context, payload models.ComprobantePayload) (*EmisionResult, error) {
	response, err := s.nubefact.Emitir(ctx, payload)
	if err != nil {
		return nil, err
	}

	result := &EmisionResult{
		Response: response,
		Estado:   response.Estado(),
	}

	// Representación impresa con el QR de SUNAT
	var pdfData []byte
	if s.generator != nil {
		pdfData, err = s.generator.GenerarPDF(payload, response)
		if err != nil {
			s.logger.Warnf("Voucher PDF generation failed: %v", err)
			result.Advertencia = "el comprobante se emitió pero el PDF no pudo generarse"
		}
	}

	if s.storage != nil {
		serie := response.Serie
		numero := response.Numero.String()
		paths, err := s.storage.Guardar(ctx, serie, numero, response, pdfData)
		if err != nil {
			s.logger.Warnf("Artifact storage failed: %v", err)
			if result.Advertencia == "" {
				result.Advertencia = "el comprobante se emitió pero los artefactos no pudieron guardarse"
			}
		} else {
			result.Artifacts = paths
		}
	}

	if s.email != nil {
		if destinatario, ok := payload["cliente_email"].(string); ok && destinatario != "" {
			if err := s.email.EnviarComprobante(destinatario, payload, response, pdfData); err != nil {
				s.logger.Warnf("Voucher email failed: %v", err)
			} else {
				result.EmailSent = true
			}
		}
	}

	return result, nil
}

// Consultar pide el estado de un comprobante emitido
func (s *ComprobanteService) Consultar(ctx context.Context, tipo, serie string, numero int) (*models.ComprobanteResponse, error) {
	return s.nubefact.Consultar(ctx, tipo, serie, numero)
}

// Anular solicita la anulación de un comprobante
func (s *ComprobanteService) Anular(ctx context.Context, tipo, serie string, numero int, motivo string) (*models.ComprobanteResponse, error) {
	return s.nubefact.Anular(ctx, tipo, serie, numero, motivo)
}
