package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andeslabs/facturacion-service/internal/api"
	"github.com/andeslabs/facturacion-service/internal/audit"
	"github.com/andeslabs/facturacion-service/internal/cache"
	"github.com/andeslabs/facturacion-service/internal/config"
	"github.com/andeslabs/facturacion-service/internal/database"
	"github.com/andeslabs/facturacion-service/internal/email"
	"github.com/andeslabs/facturacion-service/internal/executor"
	"github.com/andeslabs/facturacion-service/internal/migo"
	"github.com/andeslabs/facturacion-service/internal/nubefact"
	"github.com/andeslabs/facturacion-service/internal/ratelimit"
	"github.com/andeslabs/facturacion-service/internal/services"
	"github.com/andeslabs/facturacion-service/internal/workflows"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Cargar configuración
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Configurar logging
	logger := setupLogger(cfg)
	logger.Info("Starting Facturacion Service...")

	// Configurar modo de Gin
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Conectar a la base de datos
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatalf("Error connecting to database: %v", err)
	}
	defer db.Close()

	// Conectar a Redis. Sin Redis la caché y el limitador de tasa
	// degradan a un backend en memoria, válido para un solo proceso.
	var backend cache.Backend
	redis, err := database.ConnectRedis(cfg)
	if err != nil {
		logger.Warnf("Error connecting to Redis, using in-memory cache: %v", err)
		backend = cache.NewMemoryBackend()
	} else {
		defer redis.Close()
		backend = redis
	}

	// Cargar la configuración de servicios y endpoints externos
	serviceRepo := database.NewServiceRepository(db, logger)
	if err := serviceRepo.Load(); err != nil {
		logger.Fatalf("Error loading integration config: %v", err)
	}

	// Inicializar caché, limitador de tasa y auditoría
	cacheTier := cache.New(backend, logger)
	limiter := ratelimit.New(backend, logger)

	callLogRepo := database.NewCallLogRepository(db, logger)
	auditLogger := audit.New(callLogRepo, logger, 2, 256)
	defer auditLogger.Close()

	exec := executor.New(limiter, auditLogger, logger)

	// Repositorios de dominio
	partnerRepo := database.NewPartnerRepository(db, logger)
	fxRepo := database.NewFXRateRepository(db, logger)
	batchRepo := database.NewBatchRepository(db, logger)

	// Cliente de Migo (identidades y tipo de cambio)
	migoClient := migo.NewClient(migo.Options{
		Config:            serviceRepo,
		Executor:          exec,
		Cache:             cacheTier,
		Audit:             auditLogger,
		Partners:          partnerRepo,
		FXRepo:            fxRepo,
		Batches:           batchRepo,
		Logger:            logger,
		MaxRetries:        cfg.Migo.MaxRetries,
		MaxBatchSize:      cfg.Migo.MaxBatchSize,
		EsperaEntreRondas: cfg.Lotes.EsperaEntreRondas,
	})

	// Cliente de Nubefact (comprobantes electrónicos)
	nubefactClient := nubefact.NewClient(serviceRepo, exec, logger, cfg.Nubefact.MaxRetries)

	// Inicializar cliente de Supabase
	var supabaseClient *database.SupabaseClient
	if cfg.Supabase.StorageEndpoint != "" && cfg.Supabase.AccessKeyID != "" && cfg.Supabase.SecretAccessKey != "" {
		supabaseClient, err = database.NewSupabaseClient(&cfg.Supabase, logger)
		if err != nil {
			logger.Warnf("Error initializing Supabase client: %v", err)
			supabaseClient = nil
		} else {
			if err := supabaseClient.HealthCheck(); err != nil {
				logger.Warnf("Supabase health check failed: %v", err)
			} else {
				logger.Info("Supabase storage connection healthy")
			}
		}
	} else {
		logger.Warn("Supabase storage credentials not provided, artifacts will only be written to disk")
	}

	// Inicializar servicio de Resend
	var resendService *email.ResendService
	if cfg.Email.ResendAPIKey != "" {
		resendService = email.NewResendService(cfg.Email.ResendAPIKey, cfg.Email.FromEmail, cfg.Server.BaseURL, logger)
		logger.Info("Resend service initialized successfully")
	} else {
		logger.Warn("Resend API key not provided, email service will not be available")
	}

	// Servicios de comprobantes: generación de PDF, artefactos y envío
	generator := services.NewDocumentGenerator(logger)
	artifactStorage := services.NewArtifactStorage(supabaseClient, logger, cfg.Storage.OutputDir)
	comprobanteService := services.NewComprobanteService(nubefactClient, generator, artifactStorage, resendService, logger)

	// Workflow de lotes: con Inngest los lotes asíncronos se encolan; sin
	// credenciales el procesamiento corre en proceso.
	batchWorkflow := workflows.NewBatchWorkflow(logger, migoClient, cfg.Lotes.Concurrencia, cfg.Lotes.SegundosPorLote)

	inngestClient, err := workflows.NewInngestClient(cfg, logger)
	if err != nil {
		logger.Warnf("Inngest not configured, batches will run in-process: %v", err)
		inngestClient = nil
	} else {
		if err := inngestClient.RegisterWorkflows(batchWorkflow); err != nil {
			logger.Warnf("Error registering workflows: %v", err)
			inngestClient = nil
		}
	}

	// Inicializar repositorio de API Keys
	apiKeyRepo := database.NewAPIKeyRepository(db, logger)

	// Inicializar API
	apiHandler := api.NewAPI(
		migoClient,
		comprobanteService,
		batchWorkflow,
		cacheTier,
		batchRepo,
		serviceRepo,
		apiKeyRepo,
		logger,
		inngestClient != nil,
	)

	// Configurar router
	router := setupRouter(apiHandler, inngestClient, cfg)

	// Crear servidor HTTP
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Canal para señales de terminación
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Iniciar servidor en goroutine
	go func() {
		logger.Infof("Server starting on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	// Esperar señal de terminación
	<-quit
	logger.Info("Shutting down server...")

	// Contexto con timeout para shutdown graceful
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown graceful del servidor
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// setupLogger configura el logger según la configuración
func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	// Configurar nivel de log
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Configurar formato
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// setupRouter configura el router principal
func setupRouter(apiHandler *api.API, inngestClient *workflows.InngestClient, cfg *config.Config) *gin.Engine {
	router := gin.New()

	// Middleware global
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Middleware de CORS para desarrollo
	if cfg.IsDevelopment() {
		router.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "facturacion-service",
			"version":   "1.0.0",
		})
	})

	// Endpoint de invocación de workflows de Inngest
	if inngestClient != nil {
		router.Any("/api/inngest", gin.WrapH(inngestClient.GetClient().Serve()))
	}

	// API v1 (toda la superficie es interna del back office)
	v1 := router.Group("/v1")
	v1.Use(apiHandler.AuthMiddleware())
	{
		// Identidades (RUC/DNI)
		identidades := v1.Group("/identidades")
		{
			identidades.POST("/consultar", apiHandler.ConsultarIdentidad)
			identidades.POST("/lote", apiHandler.ConsultarLote)
			identidades.GET("/invalidos", apiHandler.GetInvalidos)
			identidades.DELETE("/invalidos/:id", apiHandler.RemoveInvalido)
		}

		// Lotes
		v1.GET("/lotes/:id", apiHandler.GetLote)

		// Tipo de cambio
		v1.GET("/tipo-cambio", apiHandler.GetTipoCambio)

		// Comprobantes electrónicos
		comprobantes := v1.Group("/comprobantes")
		{
			comprobantes.POST("", apiHandler.EmitirComprobante)
			comprobantes.POST("/consultar", apiHandler.ConsultarComprobante)
			comprobantes.POST("/anular", apiHandler.AnularComprobante)
		}

		// Administración
		admin := v1.Group("/admin")
		{
			admin.POST("/apikeys", apiHandler.CreateAPIKey)
			admin.POST("/config/refresh", apiHandler.RefreshConfig)
		}
	}

	return router
}
