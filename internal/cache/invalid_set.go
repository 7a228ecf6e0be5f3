package cache

import (
	"context"
	"time"
)

// invalidSetKey es la clave única bajo la que vive todo el conjunto de
// identificadores inválidos. Un solo objeto de caché en vez de una clave
// por ID: miles de entradas caben en un objeto, el conjunto expira junto
// y un reporte de "todos los bloqueados" es una sola lectura.
const invalidSetKey = "ruc_invalidos"

// InvalidEntry representa una entrada del conjunto de inválidos
type InvalidEntry struct {
	Reason    string    `json:"reason"`
	AddedAt   time.Time `json:"added_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Vigente indica si la entrada aún no expiró
func (e *InvalidEntry) Vigente(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// getInvalidSet lee el conjunto completo; un miss retorna un mapa vacío
func (c *Cache) getInvalidSet(ctx context.Context) map[string]InvalidEntry {
	set := make(map[string]InvalidEntry)
	c.GetJSON(ctx, NamespaceInvalido, invalidSetKey, &set)
	return set
}

// AddInvalid agrega un identificador al conjunto de inválidos con motivo
// y TTL propio. El objeto completo se reescribe con el TTL del espacio.
func (c *Cache) AddInvalid(ctx context.Context, id, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = TTLInvalido
	}
	now := time.Now()

	set := c.getInvalidSet(ctx)
	set[id] = InvalidEntry{
		Reason:    reason,
		AddedAt:   now,
		ExpiresAt: now.Add(ttl),
	}
	c.SetJSON(ctx, NamespaceInvalido, invalidSetKey, set, TTLInvalido)
}

// IsInvalid indica si un identificador está vigente en el conjunto de
// inválidos. Las entradas vencidas se filtran en memoria en la lectura.
func (c *Cache) IsInvalid(ctx context.Context, id string) (bool, *InvalidEntry) {
	set := c.getInvalidSet(ctx)
	entry, ok := set[id]
	if !ok {
		return false, nil
	}
	if !entry.Vigente(time.Now()) {
		return false, nil
	}
	return true, &entry
}

// RemoveInvalid retira un identificador del conjunto
func (c *Cache) RemoveInvalid(ctx context.Context, id string) {
	set := c.getInvalidSet(ctx)
	if _, ok := set[id]; !ok {
		return
	}
	delete(set, id)
	c.SetJSON(ctx, NamespaceInvalido, invalidSetKey, set, TTLInvalido)
}

// InvalidSnapshot retorna las entradas vigentes del conjunto, para
// reportes del back office
func (c *Cache) InvalidSnapshot(ctx context.Context) map[string]InvalidEntry {
	now := time.Now()
	set := c.getInvalidSet(ctx)
	vigentes := make(map[string]InvalidEntry, len(set))
	for id, entry := range set {
		if entry.Vigente(now) {
			vigentes[id] = entry
		}
	}
	return vigentes
}
