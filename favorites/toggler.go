package favorites

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/core"
)

// Applier receives confirmed toggle outcomes, e.g. the catalog layer's
// denormalized counter adjustment.
type Applier interface {
	ApplyToggle(ftype core.FavoriteType, itemID int64, added bool)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ftype core.FavoriteType, itemID int64, added bool)

// ApplyToggle calls f.
func (f ApplierFunc) ApplyToggle(ftype core.FavoriteType, itemID int64, added bool) {
	f(ftype, itemID, added)
}

// Toggler flips the favorited state of a pair. The control is never
// disabled while a request is in flight; instead, concurrent toggles for
// the same pair are coalesced into one backend request, so rapid repeated
// clicks issue exactly one transition and share its outcome.
type Toggler struct {
	registry *Registry
	applier  Applier
	bus      bus.EventBus
	logger   *slog.Logger

	group singleflight.Group
}

// TogglerConfig configures a Toggler.
type TogglerConfig struct {
	Registry *Registry

	// Applier receives confirmed toggles. Optional.
	Applier Applier

	// Bus receives favorite.added / favorite.removed events. Optional.
	Bus bus.EventBus

	// Logger receives toggle logging (default: slog.Default()).
	Logger *slog.Logger
}

// NewToggler creates a Toggler over the given registry.
func NewToggler(config TogglerConfig) (*Toggler, error) {
	if config.Registry == nil {
		return nil, errors.New("favorites: registry is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Toggler{
		registry: config.Registry,
		applier:  config.Applier,
		bus:      config.Bus,
		logger:   logger,
	}, nil
}

// Toggle adds the pair when absent and removes it when present. The
// favorited state is read from the registry at execution time, never from
// caller memory. On success the applier and the bus are notified; on
// failure neither fires and the registry is unchanged.
func (t *Toggler) Toggle(ctx context.Context, ftype core.FavoriteType, itemID int64) error {
	key := ftype.String() + ":" + strconv.FormatInt(itemID, 10)

	_, err, shared := t.group.Do(key, func() (any, error) {
		// The flight's outcome is shared by every coalesced click, so it
		// must not die with the first caller's context.
		ctx := context.WithoutCancel(ctx)

		if t.registry.Contains(ftype, itemID) {
			if err := t.registry.Remove(ctx, ftype, itemID); err != nil {
				return nil, err
			}
			t.confirmed(ftype, itemID, false)
			return nil, nil
		}

		if _, err := t.registry.Add(ctx, ftype, itemID); err != nil {
			return nil, err
		}
		t.confirmed(ftype, itemID, true)
		return nil, nil
	})
	if shared {
		t.logger.Debug("toggle coalesced with in-flight request",
			"type", ftype, "item_id", itemID)
	}
	return err
}

func (t *Toggler) confirmed(ftype core.FavoriteType, itemID int64, added bool) {
	if t.applier != nil {
		t.applier.ApplyToggle(ftype, itemID, added)
	}
	if t.bus == nil {
		return
	}
	kind := bus.EventFavoriteRemoved
	if added {
		kind = bus.EventFavoriteAdded
	}
	event := bus.NewEvent(kind)
	event.Payload = map[string]any{
		"favorite_type": ftype.String(),
		"item_id":       itemID,
	}
	t.bus.Publish(event)
}
