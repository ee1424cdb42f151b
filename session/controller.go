// Package session owns the authoritative in-memory {user, token} pair.
// It drives login, logout, and startup revalidation against the backend,
// falls back to the persisted identity when revalidation is unreliable, and
// yields immediately when the transport layer broadcasts a session expiry.
//
// At rest the pair is always whole: either the token is present and the user
// passes the validity check, or both are empty. A degraded pair may exist
// transiently while a revalidation is in flight, but it is never exposed as
// an authenticated state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/credstore"
)

// State identifies where the controller is in its lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRevalidating    State = "revalidating"
)

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// Backend is the slice of the transport client the controller needs.
type Backend interface {
	Login(ctx context.Context, email, password string, remember bool) (string, map[string]any, error)
	Logout(ctx context.Context) error
	FetchUser(ctx context.Context) (map[string]any, error)
}

// Config configures a Controller.
type Config struct {
	Backend Backend
	Store   credstore.Store
	Bus     bus.EventBus

	// Logger receives controller logging (default: slog.Default()).
	Logger *slog.Logger

	// LogoutTimeout bounds the best-effort server notification on logout
	// (default: 3 seconds). Local state clears regardless of its outcome.
	LogoutTimeout time.Duration
}

// Controller is the session state machine.
type Controller struct {
	backend       Backend
	store         credstore.Store
	bus           bus.EventBus
	logger        *slog.Logger
	logoutTimeout time.Duration

	mu        sync.Mutex
	state     State
	user      core.User
	token     string
	lastError string
	gen       uint64 // revalidation generation; stale completions are discarded

	sub  bus.Subscription
	done chan struct{}
}

// NewController creates a Controller and subscribes it to session expiry
// broadcasts. Close releases the subscription.
func NewController(config Config) (*Controller, error) {
	if config.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if config.Store == nil {
		return nil, errors.New("session: credential store is required")
	}
	if config.Bus == nil {
		return nil, errors.New("session: event bus is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logoutTimeout := config.LogoutTimeout
	if logoutTimeout <= 0 {
		logoutTimeout = 3 * time.Second
	}

	c := &Controller{
		backend:       config.Backend,
		store:         config.Store,
		bus:           config.Bus,
		logger:        logger,
		logoutTimeout: logoutTimeout,
		state:         StateUnauthenticated,
		done:          make(chan struct{}),
	}

	c.sub = config.Bus.Subscribe(bus.EventSessionExpired)
	go c.watchExpiry()

	return c, nil
}

// Close stops the expiry watcher. The controller remains usable for reads.
func (c *Controller) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.sub.Close()
}

// watchExpiry forces the controller to Unauthenticated whenever any request
// pathway reports a rejected credential. The generation bump discards any
// in-flight revalidation result.
func (c *Controller) watchExpiry() {
	for {
		select {
		case _, ok := <-c.sub.Events():
			if !ok {
				return
			}
			c.mu.Lock()
			c.gen++
			changed := c.state != StateUnauthenticated || c.token != ""
			c.state = StateUnauthenticated
			c.user = core.User{}
			c.token = ""
			c.lastError = ""
			c.mu.Unlock()

			if changed {
				c.logger.Info("session expired, state cleared")
				c.bus.Publish(bus.NewEvent(bus.EventSessionChanged))
			}
		case <-c.done:
			return
		}
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAuthenticated reports whether a resolved, valid session exists.
func (c *Controller) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateAuthenticated
}

// CurrentUser returns the authenticated identity and whether one exists.
func (c *Controller) CurrentUser() (core.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return core.User{}, false
	}
	return c.user, true
}

// Token returns the current bearer token. It is non-empty during
// revalidation so the verification call itself can authenticate.
func (c *Controller) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// LastError returns the user-readable message from the most recent failed
// operation, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Login authenticates with the backend. On failure the session stays empty
// and LastError carries a user-readable message, never the transport error.
func (c *Controller) Login(ctx context.Context, email, password string, remember bool) error {
	c.mu.Lock()
	c.state = StateAuthenticating
	c.lastError = ""
	gen := c.gen
	c.mu.Unlock()

	token, rawUser, err := c.backend.Login(ctx, email, password, remember)
	if err != nil {
		c.failLogin(gen, err)
		return err
	}

	user := core.NormalizeUser(rawUser)
	if !user.Valid() {
		// A token without a resolvable identity is not a session.
		err := errors.New("session: login response carried no usable identity")
		c.failLogin(gen, core.ErrServerDegraded)
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		// An expiry or logout superseded this attempt.
		c.mu.Unlock()
		return core.ErrNotAuthenticated
	}
	c.state = StateAuthenticated
	c.user = user
	c.token = token
	c.lastError = ""
	c.mu.Unlock()

	if err := c.store.Write(credstore.Credentials{Token: token, User: user}); err != nil {
		c.logger.Warn("persisting credentials after login", "err", err)
	}
	c.bus.Publish(bus.NewEvent(bus.EventSessionChanged))
	return nil
}

func (c *Controller) failLogin(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.state = StateUnauthenticated
	c.user = core.User{}
	c.token = ""
	c.lastError = core.UserMessage(err)
}

// Logout clears the local session unconditionally. The server notification
// is best-effort and time-bounded; its failure never blocks local logout.
// Calling Logout without a session is a no-op.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	hadToken := c.token != ""
	c.mu.Unlock()

	if hadToken {
		notifyCtx, cancel := context.WithTimeout(ctx, c.logoutTimeout)
		if err := c.backend.Logout(notifyCtx); err != nil {
			c.logger.Debug("logout notification failed", "err", err)
		}
		cancel()
	}

	c.mu.Lock()
	c.gen++
	changed := c.state != StateUnauthenticated || c.token != ""
	c.state = StateUnauthenticated
	c.user = core.User{}
	c.token = ""
	c.lastError = ""
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clearing credentials on logout", "err", err)
	}
	if changed {
		c.bus.Publish(bus.NewEvent(bus.EventSessionChanged))
	}
}

// CheckAuth revalidates a persisted session against the backend. It is
// idempotent and safe to call redundantly: it gates itself on whether the
// store holds plausible data and whether a check is already under way.
//
// Resolution policy:
//   - backend confirms the token: Authenticated with the server's identity,
//     re-persisted
//   - backend unreachable or degraded: fall back to the persisted user when
//     it passes the validity check, otherwise clear everything
//   - backend rejects the token: clear everything
func (c *Controller) CheckAuth(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnauthenticated {
		c.mu.Unlock()
		return nil
	}
	startGen := c.gen
	c.mu.Unlock()

	creds, ok, err := c.store.Read()
	if err != nil {
		c.logger.Warn("reading persisted credentials", "err", err)
		return nil
	}

	// Re-gate under the lock: a login, logout, or expiry may have resolved
	// the session while the store read was in flight, and the persisted
	// snapshot is staler than whatever it established.
	c.mu.Lock()
	if c.gen != startGen || c.state != StateUnauthenticated {
		c.mu.Unlock()
		return nil
	}
	if !ok || creds.Token == "" {
		c.mu.Unlock()
		c.clearAll()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = StateRevalidating
	c.token = creds.Token
	c.user = creds.User
	c.mu.Unlock()

	rawUser, err := c.backend.FetchUser(ctx)
	if err != nil {
		return c.resolveRevalidationFailure(gen, creds, err)
	}

	serverUser := core.NormalizeUser(rawUser)
	if !serverUser.Valid() {
		// The endpoint answered but returned no usable identity; treat it
		// like a degraded backend and fall back to the cached user.
		return c.resolveRevalidationFailure(gen, creds, core.ErrServerDegraded)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateRevalidating {
		// A newer login, logout, or expiry won; discard this completion.
		c.mu.Unlock()
		return nil
	}
	c.state = StateAuthenticated
	c.user = serverUser
	c.lastError = ""
	c.mu.Unlock()

	if err := c.store.Write(credstore.Credentials{Token: creds.Token, User: serverUser}); err != nil {
		c.logger.Warn("re-persisting revalidated credentials", "err", err)
	}
	c.bus.Publish(bus.NewEvent(bus.EventSessionChanged))
	return nil
}

func (c *Controller) resolveRevalidationFailure(gen uint64, creds credstore.Credentials, err error) error {
	if core.Recoverable(err) && creds.User.Valid() {
		c.mu.Lock()
		if c.gen != gen || c.state != StateRevalidating {
			c.mu.Unlock()
			return nil
		}
		c.state = StateAuthenticated
		c.user = creds.User
		c.lastError = ""
		c.mu.Unlock()

		c.logger.Info("revalidation unreliable, using cached identity",
			"err", err)
		c.bus.Publish(bus.NewEvent(bus.EventSessionChanged))
		return nil
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateRevalidating {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if errors.Is(err, core.ErrUnauthorized) {
		c.logger.Info("persisted token rejected, clearing session")
	} else {
		c.logger.Info("revalidation failed without a usable cached identity",
			"err", err)
	}
	c.clearAll()
	return nil
}

// clearAll resets the controller and the store to the empty pair.
func (c *Controller) clearAll() {
	c.mu.Lock()
	c.gen++
	c.state = StateUnauthenticated
	c.user = core.User{}
	c.token = ""
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("clearing credentials", "err", err)
	}
}
