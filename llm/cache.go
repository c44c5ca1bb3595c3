package llm

import "sync"

// Cache hands out one backend per credential and reuses it while the
// credential stays the same.
type Cache struct {
	cfg     Config
	newFunc func(Config, string) (Backend, error)

	mu      sync.Mutex
	key     string
	backend Backend
}

// NewCache returns a cache building backends from cfg.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, newFunc: New}
}

// Static returns a cache that always serves b, whatever the credential.
func Static(b Backend) *Cache {
	return &Cache{newFunc: func(Config, string) (Backend, error) { return b, nil }}
}

// Backend returns the backend for apiKey, constructing it on first use or
// when the key changed since the previous call.
func (c *Cache) Backend(apiKey string) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backend != nil && c.key == apiKey {
		return c.backend, nil
	}
	b, err := c.newFunc(c.cfg, apiKey)
	if err != nil {
		return nil, err
	}
	c.key, c.backend = apiKey, b
	return b, nil
}
