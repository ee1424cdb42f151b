// Package catalog holds the independently fetched entity collections
// (blogs, products, services) and the denormalized favorite-counter
// reconciliation that keeps them consistent with the user's own toggles.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/core"
)

// Backend is the slice of the transport client the collections need.
type Backend interface {
	ListCollection(ctx context.Context, ftype core.FavoriteType) ([]core.EntityItem, error)
}

// Collections caches the three catalog lists. Each list is wholly replaced
// by a full fetch; in between, favorite counters are adjusted incrementally
// as the current user's toggles are confirmed.
type Collections struct {
	backend Backend
	bus     bus.EventBus
	logger  *slog.Logger

	mu     sync.RWMutex
	items  map[core.FavoriteType][]core.EntityItem
	loaded map[core.FavoriteType]bool
}

// Config configures Collections.
type Config struct {
	Backend Backend

	// Bus receives collection.refreshed events. Optional.
	Bus bus.EventBus

	// Logger receives collection logging (default: slog.Default()).
	Logger *slog.Logger
}

// NewCollections creates empty Collections.
func NewCollections(config Config) (*Collections, error) {
	if config.Backend == nil {
		return nil, errors.New("catalog: backend is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collections{
		backend: config.Backend,
		bus:     config.Bus,
		logger:  logger,
		items:   make(map[core.FavoriteType][]core.EntityItem),
		loaded:  make(map[core.FavoriteType]bool),
	}, nil
}

// Load wholly replaces the collection for the given type from the backend.
func (c *Collections) Load(ctx context.Context, ftype core.FavoriteType) error {
	if !ftype.Valid() {
		return fmt.Errorf("catalog: invalid collection type %q", ftype)
	}

	items, err := c.backend.ListCollection(ctx, ftype)
	if err != nil {
		return fmt.Errorf("catalog: loading %s collection: %w", ftype, err)
	}

	c.mu.Lock()
	c.items[ftype] = items
	c.loaded[ftype] = true
	c.mu.Unlock()

	if c.bus != nil {
		event := bus.NewEvent(bus.EventCollectionRefreshed)
		event.Payload = map[string]any{
			"favorite_type": ftype.String(),
			"count":         len(items),
		}
		c.bus.Publish(event)
	}
	return nil
}

// Loaded reports whether the collection for the given type has been fetched.
func (c *Collections) Loaded(ftype core.FavoriteType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded[ftype]
}

// Items returns a snapshot of the collection for the given type.
func (c *Collections) Items(ftype core.FavoriteType) []core.EntityItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.EntityItem, len(c.items[ftype]))
	copy(out, c.items[ftype])
	return out
}

// Find returns the item with the given id in the type-matched collection.
func (c *Collections) Find(ftype core.FavoriteType, itemID int64) (core.EntityItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items[ftype] {
		if item.ID == itemID {
			return item, true
		}
	}
	return core.EntityItem{}, false
}

// ApplyToggle adjusts the denormalized counter of the single item with the
// given id inside the type-matched collection. Additions increment; removals
// decrement but never below zero. When the item is not present in the loaded
// collection the adjustment is a silent no-op; the counter self-corrects on
// the next full fetch. The other two collections are untouched.
func (c *Collections) ApplyToggle(ftype core.FavoriteType, itemID int64, added bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.items[ftype]
	for i := range list {
		if list[i].ID != itemID {
			continue
		}
		if added {
			list[i].FavoriteCount++
		} else if list[i].FavoriteCount > 0 {
			list[i].FavoriteCount--
		}
		return
	}
	c.logger.Debug("toggle for item not in loaded collection",
		"type", ftype, "item_id", itemID)
}

// Reset empties every collection, e.g. on teardown.
func (c *Collections) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[core.FavoriteType][]core.EntityItem)
	c.loaded = make(map[core.FavoriteType]bool)
}
