package config

import "sync"

// Holder provides thread-safe access to a mutable *Config. vaultapp's
// shared-state struct (internal/vaultapp) holds one Holder; every
// component reads through it rather than capturing a *Config at
// construction time, so a future config reload updates every consumer
// from one place.
type Holder struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewHolder creates a Holder around an already-loaded Config.
func NewHolder(cfg *Config) *Holder {
	return &Holder{cfg: cfg}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Update replaces the held config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}
