package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Item is the part of a catalog entry the live core needs.
type Item struct {
	Code  string
	Name  string
	Price decimal.Decimal
	Stock int64
}

// Snapshot is immutable once built and safe to share across sessions.
type Snapshot struct {
	items      map[string]Item
	collisions map[string][]string
	builtAt    time.Time
}

// NewSnapshot indexes items by normalized code. Distinct codes sharing a key
// are left out of the index, since a comment naming that key could mean
// either; they are reported by Collisions.
func NewSnapshot(items []Item, builtAt time.Time) *Snapshot {
	m := make(map[string]Item, len(items))
	var clash map[string][]string
	for _, it := range items {
		k := Key(it.Code)
		if k == "" {
			continue
		}
		if codes, ok := clash[k]; ok {
			clash[k] = append(codes, it.Code)
			continue
		}
		prev, ok := m[k]
		if ok && prev.Code != it.Code {
			if clash == nil {
				clash = make(map[string][]string)
			}
			clash[k] = []string{prev.Code, it.Code}
			delete(m, k)
			continue
		}
		m[k] = it
	}
	return &Snapshot{items: m, collisions: clash, builtAt: builtAt}
}

// Collisions maps each ambiguous key to the codes that share it.
func (s *Snapshot) Collisions() map[string][]string {
	if s == nil {
		return nil
	}
	return s.collisions
}

// Lookup accepts a raw code or an already normalized token.
func (s *Snapshot) Lookup(code string) (Item, bool) {
	if s == nil {
		return Item{}, false
	}
	it, ok := s.items[Key(code)]
	return it, ok
}

// LookupToken skips normalization; token must come from Tokenize.
func (s *Snapshot) LookupToken(token string) (Item, bool) {
	if s == nil {
		return Item{}, false
	}
	it, ok := s.items[token]
	return it, ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Snapshot) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Source is the catalog service feed.
type Source interface {
	LoadItems(ctx context.Context) ([]Item, error)
}

// Cache serves the latest snapshot without ever calling the source on the
// read path. A failed refresh keeps the previous snapshot.
type Cache struct {
	src      Source
	interval time.Duration
	log      *zap.Logger
	current  atomic.Pointer[Snapshot]
}

func NewCache(src Source, interval time.Duration, log *zap.Logger) *Cache {
	c := &Cache{src: src, interval: interval, log: log}
	c.current.Store(NewSnapshot(nil, time.Time{}))
	return c
}

// Snapshot never blocks.
func (c *Cache) Snapshot() *Snapshot { return c.current.Load() }

// Refresh loads the source and publishes a new snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	items, err := c.src.LoadItems(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	snap := NewSnapshot(items, time.Now())
	for key, codes := range snap.Collisions() {
		c.log.Warn("catalog codes collide after normalization, excluded from matching",
			zap.String("key", key), zap.Strings("codes", codes))
	}
	c.current.Store(snap)
	return nil
}

// Run refreshes on every tick until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("catalog refresh failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			c.log.Debug("catalog refreshed", zap.Int("items", c.Snapshot().Len()))
		}
	}
}
