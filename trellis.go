// Package trellis is the client-side session and favorites layer for the
// Petal storefront backend. It establishes and revalidates the authenticated
// identity across restarts and silent backend failures, reacts exactly once
// to session expiry regardless of which request pathway detected it, and
// keeps favorite toggle state consistent with the denormalized counters
// duplicated across the blog, product, and service collections.
//
// The zero entry point is New, which wires the credential store, the HTTP
// transport, the session controller, the favorites registry, and the catalog
// collections over one event bus.
package trellis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/catalog"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/credstore"
	"github.com/petal-labs/trellis/favorites"
	"github.com/petal-labs/trellis/session"
	"github.com/petal-labs/trellis/transport"
)

// Options configures a Client. BaseURL is required; everything else has a
// working default.
type Options struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Store persists credentials across restarts (default: a FileStore
	// under ~/.trellis).
	Store credstore.Store

	// HTTPClient is the underlying HTTP client. Optional.
	HTTPClient *http.Client

	// Navigator performs the redirect-to-login side effect on session
	// expiry. Optional.
	Navigator transport.Navigator

	// Bus is the event bus shared by all components (default: a MemBus
	// owned and closed by the Client).
	Bus bus.EventBus

	// Logger receives client logging (default: slog.Default()).
	Logger *slog.Logger

	// LogoutTimeout bounds the best-effort logout notification.
	LogoutTimeout time.Duration
}

// Client is the assembled storefront client.
type Client struct {
	bus      bus.EventBus
	ownsBus  bool
	store    credstore.Store
	api      *transport.Client
	session  *session.Controller
	registry *favorites.Registry
	toggler  *favorites.Toggler
	catalog  *catalog.Collections

	expirySub bus.Subscription
	done      chan struct{}
}

// New wires a Client from the given options.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("trellis: base URL is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eventBus := opts.Bus
	ownsBus := false
	if eventBus == nil {
		eventBus = bus.NewMemBus(bus.MemBusConfig{})
		ownsBus = true
	}

	store := opts.Store
	if store == nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("trellis: resolving home dir for credential store: %w", err)
		}
		store, err = credstore.NewFileStore(filepath.Join(home, ".trellis"))
		if err != nil {
			return nil, err
		}
	}

	api, err := transport.NewClient(transport.Config{
		BaseURL:    opts.BaseURL,
		HTTPClient: opts.HTTPClient,
		Store:      store,
		Bus:        eventBus,
		Navigator:  opts.Navigator,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	controller, err := session.NewController(session.Config{
		Backend:       api,
		Store:         store,
		Bus:           eventBus,
		Logger:        logger,
		LogoutTimeout: opts.LogoutTimeout,
	})
	if err != nil {
		return nil, err
	}
	api.SetTokenSource(controller)

	registry, err := favorites.NewRegistry(favorites.RegistryConfig{
		Backend: api,
		Tokens:  controller,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	collections, err := catalog.NewCollections(catalog.Config{
		Backend: api,
		Bus:     eventBus,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	toggler, err := favorites.NewToggler(favorites.TogglerConfig{
		Registry: registry,
		Applier:  collections,
		Bus:      eventBus,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		bus:       eventBus,
		ownsBus:   ownsBus,
		store:     store,
		api:       api,
		session:   controller,
		registry:  registry,
		toggler:   toggler,
		catalog:   collections,
		expirySub: eventBus.Subscribe(bus.EventSessionExpired),
		done:      make(chan struct{}),
	}
	go c.watchExpiry()

	return c, nil
}

// watchExpiry empties the favorites registry when the session expires; its
// contents belong to the departed user.
func (c *Client) watchExpiry() {
	for {
		select {
		case _, ok := <-c.expirySub.Events():
			if !ok {
				return
			}
			c.registry.Reset()
		case <-c.done:
			return
		}
	}
}

// Close releases the client's subscriptions and, when it owns the bus,
// closes it.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.expirySub.Close()
	err := c.session.Close()
	if c.ownsBus {
		if busErr := c.bus.Close(); err == nil {
			err = busErr
		}
	}
	return err
}

// Login authenticates with the backend. See session.Controller.Login.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) error {
	if err := c.session.Login(ctx, email, password, remember); err != nil {
		return err
	}
	// A fresh session invalidates any favorites fetched for the previous one.
	c.registry.Reset()
	return nil
}

// Logout clears the session. Local state clears even when the server
// notification fails.
func (c *Client) Logout(ctx context.Context) {
	c.session.Logout(ctx)
	c.registry.Reset()
}

// CheckAuth revalidates a persisted session. Safe to call on every startup.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.session.CheckAuth(ctx)
}

// IsAuthenticated reports whether a resolved session exists.
func (c *Client) IsAuthenticated() bool {
	return c.session.IsAuthenticated()
}

// CurrentUser returns the authenticated identity, if any.
func (c *Client) CurrentUser() (core.User, bool) {
	return c.session.CurrentUser()
}

// SessionState returns the session controller's lifecycle state.
func (c *Client) SessionState() session.State {
	return c.session.State()
}

// LastError returns the user-readable message from the most recent failed
// session operation.
func (c *Client) LastError() string {
	return c.session.LastError()
}

// IsFavorited reports whether the pair is favorited, from registry state.
func (c *Client) IsFavorited(ftype core.FavoriteType, itemID int64) bool {
	return c.registry.Contains(ftype, itemID)
}

// ToggleFavorite flips the favorited state of the pair, loading the
// registry first if this session has not fetched it yet.
func (c *Client) ToggleFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) error {
	if err := c.registry.EnsureLoaded(ctx); err != nil {
		return err
	}
	return c.toggler.Toggle(ctx, ftype, itemID)
}

// Favorites returns the favorites registry.
func (c *Client) Favorites() *favorites.Registry {
	return c.registry
}

// Catalog returns the entity collections.
func (c *Client) Catalog() *catalog.Collections {
	return c.catalog
}

// Subscribe returns a subscription to session change events. Callers must
// close it when done.
func (c *Client) Subscribe() bus.Subscription {
	return c.bus.Subscribe(bus.EventSessionChanged)
}

// Events returns the underlying event bus for observers that want more than
// session changes.
func (c *Client) Events() bus.EventBus {
	return c.bus
}
