package email

import (
	"fmt"

	"github.com/andeslabs/facturacion-service/internal/models"
	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// ResendService maneja el envío de correos electrónicos usando Resend API
type ResendService struct {
	client    *resend.Client
	fromEmail string
	baseURL   string
	logger    *logrus.Logger
}

// NewResendService crea una nueva instancia de ResendService
func NewResendService(apiKey string, fromEmail string, baseURL string, logger *logrus.Logger) *ResendService {
	if fromEmail == "" {
		fromEmail = "facturacion@resend.dev"
	}
	return &ResendService{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// EnviarComprobante envía al cliente el comprobante emitido con el PDF
// adjunto y el enlace del proveedor
func (s *ResendService) EnviarComprobante(destinatario string, payload models.ComprobantePayload, response *models.ComprobanteResponse, pdfData []byte) error {
	denominacion, _ := payload["cliente_denominacion"].(string)
	serie := response.Serie
	numero := response.Numero.String()

	subject := fmt.Sprintf("Comprobante electrónico %s-%s", serie, numero)

	htmlContent := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Comprobante Electrónico</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 8px; }
        .content { padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px; margin: 10px 5px; }
        .footer { margin-top: 30px; padding: 20px; background-color: #f8f9fa; border-radius: 8px; font-size: 14px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Comprobante Electrónico</h1>
            <p>%s-%s</p>
        </div>

        <div class="content">
            <h2>Hola %s,</h2>

            <p>Tu comprobante electrónico fue emitido correctamente. Adjuntamos la representación impresa en PDF.</p>

            <div style="text-align: center; margin: 20px 0;">
                <a href="%s" class="button">Ver comprobante en línea</a>
            </div>
        </div>

        <div class="footer">
            <p>Este es un email automático del <a href="%s">sistema de facturación electrónica</a>.</p>
            <p>Si tienes alguna pregunta, por favor contacta a nuestro equipo de soporte.</p>
        </div>
    </div>
</body>
</html>`,
		serie,
		numero,
		denominacion,
		response.Enlace,
		s.baseURL)

	request := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{destinatario},
		Subject: subject,
		Html:    htmlContent,
	}

	if len(pdfData) > 0 {
		request.Attachments = []*resend.Attachment{
			{
				Filename: fmt.Sprintf("factura_%s_%s.pdf", serie, numero),
				Content:  pdfData,
			},
		}
	}

	result, err := s.client.Emails.Send(request)
	if err != nil {
		return fmt.Errorf("error sending email via Resend: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"email_id": result.Id,
		"to":       destinatario,
		"subject":  subject,
	}).Info("Email sent successfully via Resend")

	return nil
}
