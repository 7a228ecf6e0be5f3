package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config representa la configuración del servicio
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Inngest  InngestConfig
	Logging  LoggingConfig
	Email    EmailConfig
	Migo     MigoConfig
	Nubefact NubefactConfig
	Lotes    LotesConfig
	Storage  StorageConfig
	Supabase SupabaseConfig
}

// ServerConfig representa la configuración del servidor HTTP
type ServerConfig struct {
	Port    string
	Host    string
	Env     string
	BaseURL string
}

// DatabaseConfig representa la configuración de la base de datos
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig representa la configuración de Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// InngestConfig representa la configuración de Inngest
type InngestConfig struct {
	EventKey   string
	SigningKey string
	AppID      string
	Dev        bool
}

// LoggingConfig representa la configuración de logging
type LoggingConfig struct {
	Level  string
	Format string
}

// EmailConfig representa la configuración de email
type EmailConfig struct {
	ResendAPIKey string
	FromEmail    string
}

// MigoConfig representa los valores por defecto del cliente de Migo.
// La URL base, el token y los endpoints viven en la base de datos; aquí
// sólo van los presupuestos de reintento y el tamaño de lote.
type MigoConfig struct {
	MaxRetries   int
	MaxBatchSize int
}

// NubefactConfig representa los valores por defecto del cliente de Nubefact
type NubefactConfig struct {
	MaxRetries int
}

// LotesConfig representa la configuración de procesamiento de lotes
type LotesConfig struct {
	Concurrencia      int
	SegundosPorLote   int
	EsperaEntreRondas time.Duration
}

// StorageConfig representa la configuración de almacenamiento de artefactos
type StorageConfig struct {
	OutputDir string
}

// SupabaseConfig representa la configuración del storage S3 de Supabase
type SupabaseConfig struct {
	StorageEndpoint string
	StorageRegion   string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Load carga la configuración desde variables de entorno
func Load() (*Config, error) {
	// Cargar archivo .env si existe
	if err := godotenv.Load(); err != nil {
		// No es crítico si no existe el archivo .env
	}

	config := &Config{
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8082"),
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Env:     getEnv("SERVER_ENV", "development"),
			BaseURL: getEnv("SERVER_BASE_URL", "http://localhost:8082"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PGHOST", "localhost"),
			Port:     getEnv("PGPORT", "5432"),
			User:     getEnv("PGUSER", "postgres"),
			Password: getEnv("PGPASSWORD", "postgres"),
			Name:     getEnv("PGDATABASE", "facturacion"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Inngest: InngestConfig{
			EventKey:   getEnv("INNGEST_EVENT_KEY", ""),
			SigningKey: getEnv("INNGEST_SIGNING_KEY", ""),
			AppID:      getEnv("INNGEST_APP_ID", "facturacion-service"),
			Dev:        getEnvAsBool("INNGEST_DEV", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			FromEmail:    getEnv("EMAIL_FROM", "facturacion@resend.dev"),
		},
		Migo: MigoConfig{
			MaxRetries:   getEnvAsInt("MIGO_MAX_RETRIES", 2),
			MaxBatchSize: getEnvAsInt("MIGO_MAX_BATCH_SIZE", 100),
		},
		Nubefact: NubefactConfig{
			MaxRetries: getEnvAsInt("NUBEFACT_MAX_RETRIES", 3),
		},
		Lotes: LotesConfig{
			Concurrencia:      getEnvAsInt("LOTES_CONCURRENCIA", 4),
			SegundosPorLote:   getEnvAsInt("LOTES_SEGUNDOS_POR_LOTE", 2),
			EsperaEntreRondas: getEnvAsDuration("LOTES_ESPERA_ENTRE_RONDAS", 2*time.Second),
		},
		Storage: StorageConfig{
			OutputDir: getEnv("STORAGE_OUTPUT_DIR", "./salida"),
		},
		Supabase: SupabaseConfig{
			StorageEndpoint: getEnv("SUPABASE_STORAGE_ENDPOINT", ""),
			StorageRegion:   getEnv("SUPABASE_STORAGE_REGION", ""),
			AccessKeyID:     getEnv("SUPABASE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("SUPABASE_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("SUPABASE_STORAGE_BUCKET", "comprobantes"),
		},
	}

	return config, nil
}

// getEnv obtiene una variable de entorno o retorna un valor por defecto
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt obtiene una variable de entorno como entero
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool obtiene una variable de entorno como booleano
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration obtiene una variable de entorno como duración
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// IsDevelopment retorna true si el entorno es de desarrollo
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction retorna true si el entorno es de producción
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetDSN retorna la cadena de conexión a la base de datos
func (c *Config) GetDSN() string {
	return "host=" + c.Database.Host +
		" port=" + c.Database.Port +
		" user=" + c.Database.User +
		" password=" + c.Database.Password +
		" dbname=" + c.Database.Name +
		" sslmode=" + c.Database.SSLMode
}

// GetRedisAddr retorna la dirección de Redis
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}
