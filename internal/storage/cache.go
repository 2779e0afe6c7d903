package storage

import (
	"sync"

	"ad-eligibility-engine/internal/engine"
)

// CreativeRow is a creative as stored, before validation.
type CreativeRow struct {
	ID            string
	CampaignID    string
	AdvertiserID  string
	CreativeSetID string
	Caps          map[string]int
}

// Creative validates the row into an engine creative.
func (r CreativeRow) Creative() (engine.CreativeAd, error) {
	caps := make(map[engine.CapKind]int, len(r.Caps))
	for k, v := range r.Caps {
		caps[engine.CapKind(k)] = v
	}
	return engine.NewCreativeAd(r.ID, r.CampaignID, r.AdvertiserID, r.CreativeSetID, caps)
}

// Cache holds the catalog of validated creatives between refreshes.
type Cache struct {
	mu        sync.RWMutex
	creatives []engine.CreativeAd
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) GetCreatives() []engine.CreativeAd {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]engine.CreativeAd(nil), c.creatives...)
}

func (c *Cache) UpdateCreatives(creatives []engine.CreativeAd) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creatives = creatives
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.creatives)
}
