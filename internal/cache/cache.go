package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Backend es la superficie mínima de almacenamiento clave/valor con TTL.
// La implementan el wrapper de Redis y el store en memoria.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Namespace representa un espacio lógico de la caché con TTL propio
type Namespace string

const (
	NamespaceValido     Namespace = "id_valido"
	NamespaceInvalido   Namespace = "id_invalido"
	NamespaceTipoCambio Namespace = "tipo_cambio"
	NamespaceGeneral    Namespace = "general"
)

// TTLs por espacio de nombres
const (
	TTLValido     = time.Hour
	TTLInvalido   = 24 * time.Hour
	TTLTipoCambio = 15 * time.Minute
	TTLDefault    = 15 * time.Minute
)

const (
	keyPrefix = "facturacion:cache"
	maxKeyLen = 256
)

// Cache es la capa de caché multinivel del servicio. Las operaciones
// degradan localmente: un error del backend se loguea y se trata como
// miss, nunca hace fallar la llamada del cliente.
type Cache struct {
	backend Backend
	logger  *logrus.Logger
}

// New crea una nueva instancia de la caché
func New(backend Backend, logger *logrus.Logger) *Cache {
	return &Cache{
		backend: backend,
		logger:  logger,
	}
}

// TTLFor retorna el TTL por defecto de un espacio de nombres
func TTLFor(ns Namespace) time.Duration {
	switch ns {
	case NamespaceValido:
		return TTLValido
	case NamespaceInvalido:
		return TTLInvalido
	case NamespaceTipoCambio:
		return TTLTipoCambio
	default:
		return TTLDefault
	}
}

// normalizeKey valida y normaliza una clave: recorta espacios en los
// extremos, prohíbe espacios internos y acota el largo
func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("clave de caché vacía")
	}
	if strings.ContainsAny(key, " \t\n\r") {
		return "", fmt.Errorf("clave de caché con espacios internos: %q", key)
	}
	if len(key) > maxKeyLen {
		return "", fmt.Errorf("clave de caché excede %d bytes", maxKeyLen)
	}
	return key, nil
}

// buildKey arma la clave física con prefijo de espacio de nombres
func buildKey(ns Namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, ns, key)
}

// Get obtiene un valor. Retorna found=false en miss, clave inválida o
// error del backend.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string) (string, bool) {
	key, err := normalizeKey(key)
	if err != nil {
		c.logger.Warnf("Cache get with invalid key: %v", err)
		return "", false
	}

	value, found, err := c.backend.Get(ctx, buildKey(ns, key))
	if err != nil {
		c.logger.Warnf("Cache backend get failed, treating as miss: %v", err)
		return "", false
	}
	return value, found
}

// GetJSON obtiene y deserializa un valor
func (c *Cache) GetJSON(ctx context.Context, ns Namespace, key string, dest interface{}) bool {
	value, found := c.Get(ctx, ns, key)
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		c.logger.Warnf("Cache entry with invalid JSON, purging %s/%s: %v", ns, key, err)
		c.Delete(ctx, ns, key)
		return false
	}
	return true
}

// Set almacena un valor con TTL. Sobrescribir está permitido; la última
// escritura gana.
func (c *Cache) Set(ctx context.Context, ns Namespace, key, value string, ttl time.Duration) {
	key, err := normalizeKey(key)
	if err != nil {
		c.logger.Warnf("Cache set with invalid key: %v", err)
		return
	}
	if ttl <= 0 {
		ttl = TTLFor(ns)
	}

	if err := c.backend.Set(ctx, buildKey(ns, key), value, ttl); err != nil {
		c.logger.Warnf("Cache backend set failed: %v", err)
	}
}

// SetJSON serializa y almacena un valor con TTL
func (c *Cache) SetJSON(ctx context.Context, ns Namespace, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warnf("Cache set with unserializable value: %v", err)
		return
	}
	c.Set(ctx, ns, key, string(data), ttl)
}

// Delete elimina una clave
func (c *Cache) Delete(ctx context.Context, ns Namespace, key string) {
	key, err := normalizeKey(key)
	if err != nil {
		return
	}
	if err := c.backend.Delete(ctx, buildKey(ns, key)); err != nil {
		c.logger.Warnf("Cache backend delete failed: %v", err)
	}
}

// Clear vacía un espacio de nombres completo
func (c *Cache) Clear(ctx context.Context, ns Namespace) {
	if err := c.backend.Clear(ctx, fmt.Sprintf("%s:%s:", keyPrefix, ns)); err != nil {
		c.logger.Warnf("Cache backend clear failed: %v", err)
	}
}
