package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andeslabs/facturacion-service/internal/database"
	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/sirupsen/logrus"
)

// ArtifactStorage persiste los artefactos de una emisión: la respuesta
// cruda del proveedor en JSON y la representación impresa en PDF. Los
// archivos van a un directorio local con marca de tiempo y, si el
// storage remoto está configurado, también a Supabase.
type ArtifactStorage struct {
	supabase  *database.SupabaseClient
	logger    *logrus.Logger
	outputDir string

	// now es inyectable para pruebas
	now func() time.Time
}

// ArtifactPaths agrupa las rutas de los artefactos guardados
type ArtifactPaths struct {
	ResponseJSON string `json:"response_json"`
	PDF          string `json:"pdf,omitempty"`
	ResponseURL  string `json:"response_url,omitempty"`
	PDFURL       string `json:"pdf_url,omitempty"`
}

// NewArtifactStorage crea el servicio de artefactos. supabase puede ser
// nil; en ese caso sólo se escribe al disco local.
func NewArtifactStorage(supabase *database.SupabaseClient, logger *logrus.Logger, outputDir string) *ArtifactStorage {
	if outputDir == "" {
		outputDir = "./salida"
	}
	return &ArtifactStorage{
		supabase:  supabase,
		logger:    logger,
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Guardar escribe los artefactos de una emisión. El PDF puede ser nil
// cuando la generación falló; la respuesta JSON se guarda siempre.
func (s *ArtifactStorage) Guardar(ctx context.Context, serie string, numero string, response *models.ComprobanteResponse, pdfData []byte) (*ArtifactPaths, error) {
	dir := filepath.Join(s.outputDir, s.now().Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating artifact directory: %w", err)
	}

	paths := &ArtifactPaths{}

	// Respuesta del proveedor, indentada para lectura humana
	data, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error serializing provider response: %w", err)
	}
	responseName := fmt.Sprintf("response_%s_%s.json", serie, numero)
	paths.ResponseJSON = filepath.Join(dir, responseName)
	if err := os.WriteFile(paths.ResponseJSON, data, 0o644); err != nil {
		return nil, fmt.Errorf("error writing provider response: %w", err)
	}

	if len(pdfData) > 0 {
		pdfName := fmt.Sprintf("factura_%s_%s.pdf", serie, numero)
		paths.PDF = filepath.Join(dir, pdfName)
		if err := os.WriteFile(paths.PDF, pdfData, 0o644); err != nil {
			return nil, fmt.Errorf("error writing voucher PDF: %w", err)
		}
	}

	s.subirRemoto(ctx, serie, numero, data, pdfData, paths)

	s.logger.WithFields(logrus.Fields{
		"serie":  serie,
		"numero": numero,
		"dir":    dir,
	}).Info("Issue artifacts stored successfully")

	return paths, nil
}

// subirRemoto replica los artefactos en Supabase; es mejor esfuerzo y un
// fallo no afecta la emisión
func (s *ArtifactStorage) subirRemoto(ctx context.Context, serie, numero string, responseData, pdfData []byte, paths *ArtifactPaths) {
	if s.supabase == nil {
		return
	}

	prefix := fmt.Sprintf("comprobantes/%s/%s_%s", s.now().Format("2006-01"), serie, numero)

	url, err := s.supabase.UploadFile(ctx, prefix+"_response.json", responseData, "application/json")
	if err != nil {
		s.logger.Warnf("Remote upload of response failed: %v", err)
	} else {
		paths.ResponseURL = url
	}

	if len(pdfData) > 0 {
		url, err := s.supabase.UploadFile(ctx, prefix+".pdf", pdfData, "application/pdf")
		if err != nil {
			s.logger.Warnf("Remote upload of PDF failed: %v", err)
		} else {
			paths.PDFURL = url
		}
	}
}
