package weather

import (
	"sync"
	"time"

	"telemetry-hub/internal/model"
)

type entry struct {
	data      model.WeatherEvent
	expiresAt time.Time
}

// Cache keeps the last upstream response per location key so the REST
// current-weather path does not hit the API on every request.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{items: make(map[string]entry), ttl: ttl}
}

func (c *Cache) Get(key string) (model.WeatherEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return model.WeatherEvent{}, false
	}
	return e.data, true
}

func (c *Cache) Set(key string, data model.WeatherEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{data: data, expiresAt: time.Now().Add(c.ttl)}
}
