package workflows

import (
	"fmt"

	"github.com/andeslabs/facturacion-service/internal/config"
	"github.com/inngest/inngestgo"
	"github.com/sirupsen/logrus"
)

// InngestClient maneja la configuración y registro de workflows
type InngestClient struct {
	client inngestgo.Client
	logger *logrus.Logger
}

// NewInngestClient crea una nueva instancia del cliente. Si las
// credenciales no están configuradas retorna error y el servicio opera
// en modo local, con el fan-out acotado en proceso.
func NewInngestClient(cfg *config.Config, logger *logrus.Logger) (*InngestClient, error) {
	if cfg.Inngest.EventKey == "" {
		return nil, fmt.Errorf("INNGEST_EVENT_KEY not configured")
	}

	if cfg.Inngest.SigningKey == "" {
		return nil, fmt.Errorf("INNGEST_SIGNING_KEY not configured")
	}

	client, err := inngestgo.NewClient(inngestgo.ClientOpts{
		EventKey:   &cfg.Inngest.EventKey,
		SigningKey: &cfg.Inngest.SigningKey,
		AppID:      cfg.Inngest.AppID,
		Dev:        &cfg.Inngest.Dev,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Inngest client: %w", err)
	}

	return &InngestClient{
		client: client,
		logger: logger,
	}, nil
}

// RegisterWorkflows registra todos los workflows con Inngest
func (c *InngestClient) RegisterWorkflows(batchWorkflow *BatchWorkflow) error {
	c.logger.Info("Registering workflows with Inngest")

	if err := batchWorkflow.Register(c.client); err != nil {
		return fmt.Errorf("error registering batch workflow: %w", err)
	}

	return nil
}

// GetClient retorna el cliente de Inngest
func (c *InngestClient) GetClient() inngestgo.Client {
	return c.client
}
