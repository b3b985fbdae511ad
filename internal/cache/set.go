package cache

import (
	"fmt"
	"time"

	"github.com/aristath/marketcore/internal/domain"
)

// Default TTLs per artifact category.
const (
	TTLRealtime = 10 * time.Second // quotes move constantly
	TTLKline    = 5 * time.Minute  // bars close on their own schedule
	TTLMetadata = 24 * time.Hour   // exchange/name/currency rarely change
	TTLListing  = 5 * time.Minute  // prediction market listings
)

// SetConfig configures every category cache.
type SetConfig struct {
	RealtimeTTL time.Duration
	KlineTTL    time.Duration
	MetadataTTL time.Duration
	ListingTTL  time.Duration
	MaxEntries  int
}

func (c SetConfig) withDefaults() SetConfig {
	if c.RealtimeTTL <= 0 {
		c.RealtimeTTL = TTLRealtime
	}
	if c.KlineTTL <= 0 {
		c.KlineTTL = TTLKline
	}
	if c.MetadataTTL <= 0 {
		c.MetadataTTL = TTLMetadata
	}
	if c.ListingTTL <= 0 {
		c.ListingTTL = TTLListing
	}
	return c
}

// Set holds one Cache per artifact category.
type Set struct {
	realtime *Cache
	kline    *Cache
	metadata *Cache
	listing  *Cache
}

// NewSet creates the category caches.
func NewSet(cfg SetConfig) *Set {
	cfg = cfg.withDefaults()
	return &Set{
		realtime: New(string(domain.KindRealtime), cfg.RealtimeTTL, cfg.MaxEntries),
		kline:    New(string(domain.KindKline), cfg.KlineTTL, cfg.MaxEntries),
		metadata: New(string(domain.KindMetadata), cfg.MetadataTTL, cfg.MaxEntries),
		listing:  New(string(domain.KindListing), cfg.ListingTTL, cfg.MaxEntries),
	}
}

func (s *Set) Realtime() *Cache { return s.realtime }
func (s *Set) Kline() *Cache    { return s.kline }
func (s *Set) Metadata() *Cache { return s.metadata }
func (s *Set) Listing() *Cache  { return s.listing }

// For returns the cache serving kind.
func (s *Set) For(kind domain.ArtifactKind) (*Cache, error) {
	switch kind {
	case domain.KindRealtime:
		return s.realtime, nil
	case domain.KindKline:
		return s.kline, nil
	case domain.KindMetadata:
		return s.metadata, nil
	case domain.KindListing:
		return s.listing, nil
	default:
		return nil, fmt.Errorf("no cache for artifact kind %q", kind)
	}
}

// All returns every category cache.
func (s *Set) All() []*Cache {
	return []*Cache{s.realtime, s.kline, s.metadata, s.listing}
}

// Stats is a per-category summary for the ops endpoint.
type Stats struct {
	Category   string `json:"category"`
	Entries    int    `json:"entries"`
	DefaultTTL string `json:"default_ttl"`
}

// Stats summarizes every category cache.
func (s *Set) Stats() []Stats {
	all := s.All()
	out := make([]Stats, 0, len(all))
	for _, c := range all {
		out = append(out, Stats{
			Category:   c.Name(),
			Entries:    c.Len(),
			DefaultTTL: c.DefaultTTL().String(),
		})
	}
	return out
}

// Sweep sweeps every category and returns the removed count per category.
func (s *Set) Sweep() map[string]int {
	out := make(map[string]int, 4)
	for _, c := range s.All() {
		out[c.Name()] = c.Sweep()
	}
	return out
}
