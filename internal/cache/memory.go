package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryBackend es un backend en memoria con TTL. Se usa como degradación
// cuando Redis no está disponible y en las pruebas. Las entradas vencidas
// se purgan perezosamente en la lectura.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryBackend crea un backend en memoria
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get obtiene un valor vigente
func (m *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set almacena un valor con TTL
func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Delete elimina una clave
func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Clear elimina todas las claves bajo un prefijo
func (m *MemoryBackend) Clear(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Incr incrementa un contador, fijando el TTL en la primera escritura
func (m *MemoryBackend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		ok = false
	}

	count := int64(1)
	expiresAt := entry.expiresAt
	if ok {
		prev, _ := strconv.ParseInt(entry.value, 10, 64)
		count = prev + 1
	} else if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.entries[key] = memoryEntry{value: strconv.FormatInt(count, 10), expiresAt: expiresAt}
	return count, nil
}
