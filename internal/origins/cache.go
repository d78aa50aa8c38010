// Package origins maintains the CORS origin allow-list as a read-only
// snapshot over the store: loaded at startup, refreshed on a ticker, and
// updated through mutation events from the admin endpoints. Readers tolerate
// brief staleness.
package origins

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/oauthd/internal/store"
)

// Lister is the slice of the store the cache needs.
type Lister interface {
	ListOrigins(ctx context.Context) ([]*store.AllowedOrigin, error)
}

// Event is one allow-list mutation.
type Event struct {
	Origin  string
	Removed bool
}

type Cache struct {
	lister Lister
	log    zerolog.Logger

	mu  sync.RWMutex
	set map[string]struct{}

	events chan Event
}

func New(l Lister, log zerolog.Logger) *Cache {
	return &Cache{
		lister: l,
		log:    log,
		set:    map[string]struct{}{},
		events: make(chan Event, 16),
	}
}

// Load replaces the snapshot with the store's current allow-list.
func (c *Cache) Load(ctx context.Context) error {
	rows, err := c.lister.ListOrigins(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		next[row.Origin] = struct{}{}
	}
	c.mu.Lock()
	c.set = next
	c.mu.Unlock()
	c.log.Info().Int("origins", len(next)).Msg("origin allow-list loaded")
	return nil
}

// Allowed reports whether origin is on the allow-list.
func (c *Cache) Allowed(origin string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set[origin]
	return ok
}

// Apply queues a mutation event for the Run loop.
func (c *Cache) Apply(ev Event) {
	select {
	case c.events <- ev:
	default:
		// queue full; the next periodic Load picks the change up
		c.log.Warn().Msg("origin event queue full, deferring to refresh")
	}
}

func (c *Cache) apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Removed {
		delete(c.set, ev.Origin)
		return
	}
	c.set[ev.Origin] = struct{}{}
}

// Run consumes mutation events and refreshes the snapshot from the store on
// the given interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, refresh time.Duration) {
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ev)
		case <-ticker.C:
			if err := c.Load(ctx); err != nil {
				c.log.Error().Err(err).Msg("origin allow-list refresh failed")
			}
		}
	}
}
