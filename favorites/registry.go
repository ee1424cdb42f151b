// Package favorites holds the signed-in user's favorite records and the
// toggle controller that mutates them. State is confirmed-only: the registry
// changes after the backend acknowledges, never optimistically.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petal-labs/trellis/core"
)

// Backend is the slice of the transport client the registry needs.
type Backend interface {
	ListFavorites(ctx context.Context) ([]core.FavoriteRecord, error)
	AddFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) (core.FavoriteRecord, error)
	RemoveFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) error
}

// TokenProvider reports whether a bearer credential exists. Mutations
// require one.
type TokenProvider interface {
	Token() string
}

type pairKey struct {
	ftype  core.FavoriteType
	itemID int64
}

// Registry is the set of (type, item_id) pairs favorited by the current
// user. It is fetched once per session and mutated incrementally; a full
// refetch wholly replaces it.
type Registry struct {
	backend Backend
	tokens  TokenProvider
	logger  *slog.Logger

	mu      sync.RWMutex
	records map[pairKey]core.FavoriteRecord
	loaded  bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Backend Backend
	Tokens  TokenProvider

	// Logger receives registry logging (default: slog.Default()).
	Logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Backend == nil {
		return nil, errors.New("favorites: backend is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("favorites: token provider is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: config.Backend,
		tokens:  config.Tokens,
		logger:  logger,
		records: make(map[pairKey]core.FavoriteRecord),
	}, nil
}

// Contains reports whether the pair is currently favorited. Toggle buttons
// consult this rather than local component memory, so two controls for the
// same item cannot disagree.
func (r *Registry) Contains(ftype core.FavoriteType, itemID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[pairKey{ftype, itemID}]
	return ok
}

// Records returns a snapshot of all favorite records.
func (r *Registry) Records() []core.FavoriteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.FavoriteRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Loaded reports whether a fetch has populated the registry this session.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// EnsureLoaded fetches the registry if it has not been fetched this session.
func (r *Registry) EnsureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Refresh wholly replaces the registry from the backend.
//
// An authorization rejection resets the registry to empty without surfacing
// an error: that condition is already being handled by the global expiry
// path, and reporting it here too would produce a contradictory UI state.
func (r *Registry) Refresh(ctx context.Context) error {
	records, err := r.backend.ListFavorites(ctx)
	if err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			r.logger.Debug("favorites fetch unauthorized, resetting silently")
			r.Reset()
			return nil
		}
		return fmt.Errorf("favorites: refreshing registry: %w", err)
	}

	fresh := make(map[pairKey]core.FavoriteRecord, len(records))
	for _, rec := range records {
		fresh[pairKey{rec.FavoriteType, rec.ItemID}] = rec
	}

	r.mu.Lock()
	r.records = fresh
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Add favorites the pair. It requires a bearer credential and appends the
// backend's returned record only on success; a failure leaves the registry
// untouched. Adding an already-favorited pair is a no-op.
func (r *Registry) Add(ctx context.Context, ftype core.FavoriteType, itemID int64) (core.FavoriteRecord, error) {
	if !ftype.Valid() {
		return core.FavoriteRecord{}, fmt.Errorf("favorites: invalid type %q", ftype)
	}
	if r.tokens.Token() == "" {
		return core.FavoriteRecord{}, core.ErrNotAuthenticated
	}

	key := pairKey{ftype, itemID}
	r.mu.RLock()
	existing, ok := r.records[key]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	rec, err := r.backend.AddFavorite(ctx, ftype, itemID)
	if err != nil {
		return core.FavoriteRecord{}, fmt.Errorf("favorites: adding %s/%d: %w", ftype, itemID, err)
	}

	r.mu.Lock()
	r.records[key] = rec
	r.mu.Unlock()
	return rec, nil
}

// Remove unfavorites the pair. The pair must currently be present; the
// record is removed only after backend confirmation.
func (r *Registry) Remove(ctx context.Context, ftype core.FavoriteType, itemID int64) error {
	if r.tokens.Token() == "" {
		return core.ErrNotAuthenticated
	}

	key := pairKey{ftype, itemID}
	r.mu.RLock()
	_, ok := r.records[key]
	r.mu.RUnlock()
	if !ok {
		return core.ErrNotFavorited
	}

	if err := r.backend.RemoveFavorite(ctx, ftype, itemID); err != nil {
		return fmt.Errorf("favorites: removing %s/%d: %w", ftype, itemID, err)
	}

	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
	return nil
}

// Reset empties the registry, e.g. when the session ends.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.records = make(map[pairKey]core.FavoriteRecord)
	r.loaded = false
	r.mu.Unlock()
}
