package database

import (
	"context"
	"fmt"
	"time"

	"github.com/andeslabs/facturacion-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// Redis representa la conexión a Redis. Expone la superficie mínima que
// consumen la caché y el limitador de tasa.
type Redis struct {
	*redis.Client
}

// ConnectRedis establece la conexión a Redis
func ConnectRedis(cfg *config.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error pinging Redis: %w", err)
	}

	return &Redis{client}, nil
}

// Close cierra la conexión a Redis
func (r *Redis) Close() error {
	return r.Client.Close()
}

// HealthCheck verifica la salud de Redis
func (r *Redis) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Ping(ctx).Err()
}

// Get obtiene un valor. Retorna found=false si la clave no existe.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set establece un valor con TTL absoluto
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

// Delete elimina una clave
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

// Clear elimina todas las claves bajo un prefijo
func (r *Redis) Clear(ctx context.Context, prefix string) error {
	iter := r.Client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := r.Client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Incr incrementa un contador y fija su TTL en la primera escritura.
// El INCR de Redis es atómico por clave, lo que basta para el contador
// de tasa compartido entre procesos.
func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && ttl > 0 {
		if err := r.Client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}
