package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andeslabs/facturacion-service/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// SupabaseClient representa el cliente del storage de Supabase usando S3.
// Guarda los artefactos de emisión (respuesta JSON y PDF con QR) para que
// el back office los sirva sin depender de los enlaces del proveedor.
type SupabaseClient struct {
	s3Client *s3.Client
	config   *config.SupabaseConfig
	logger   *logrus.Logger
	bucket   string
}

// NewSupabaseClient crea una nueva instancia del cliente de Supabase
func NewSupabaseClient(cfg *config.SupabaseConfig, logger *logrus.Logger) (*SupabaseClient, error) {
	if cfg.StorageEndpoint == "" {
		return nil, fmt.Errorf("SUPABASE_STORAGE_ENDPOINT not configured")
	}

	// Configuración S3 personalizada para Supabase
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.StorageEndpoint,
			SigningRegion:     cfg.StorageRegion,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
			},
		}),
		awsconfig.WithRegion(cfg.StorageRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // Importante para Supabase
	})

	return &SupabaseClient{
		s3Client: s3Client,
		config:   cfg,
		logger:   logger,
		bucket:   cfg.Bucket,
	}, nil
}

// HealthCheck verifica la conexión al storage
func (s *SupabaseClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("error checking Supabase storage connection: %w", err)
	}

	s.logger.Info("Supabase storage connection healthy")
	return nil
}

// Bucket retorna el nombre del bucket configurado
func (s *SupabaseClient) Bucket() string {
	return s.bucket
}

// UploadFile sube un archivo al storage y retorna su URL
func (s *SupabaseClient) UploadFile(ctx context.Context, fileName string, fileData []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fileName),
		Body:          bytes.NewReader(fileData),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileData))),
	})
	if err != nil {
		return "", fmt.Errorf("error uploading file to Supabase storage: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", s.config.StorageEndpoint, s.bucket, fileName)

	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"file":   fileName,
		"size":   len(fileData),
	}).Info("File uploaded to Supabase storage successfully")

	return url, nil
}

// DownloadFile descarga un archivo del storage
func (s *SupabaseClient) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileName),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading file from Supabase storage: %w", err)
	}
	defer result.Body.Close()

	fileData, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading file content: %w", err)
	}

	return fileData, nil
}

// DeleteFile elimina un archivo del storage
func (s *SupabaseClient) DeleteFile(ctx context.Context, fileName string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileName),
	})
	if err != nil {
		return fmt.Errorf("error deleting file from Supabase storage: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"file":   fileName,
	}).Info("File deleted from Supabase storage successfully")

	return nil
}
