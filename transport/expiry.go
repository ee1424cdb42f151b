package transport

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/credstore"
)

// Navigator performs the navigate-to-login side effect and reports where the
// user currently is, so an expiry detected on a login-adjacent page does not
// bounce the user in a loop.
type Navigator interface {
	// CurrentPath returns the current location path, e.g. "/products/42".
	CurrentPath() string

	// NavigateToLogin redirects the user to the login page.
	NavigateToLogin()
}

// loginAdjacentPrefixes are locations where an expiry redirect is skipped.
var loginAdjacentPrefixes = []string{"/login", "/register", "/forgot-password"}

func loginAdjacent(path string) bool {
	for _, prefix := range loginAdjacentPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// expiryLatch serializes authorization-failure detections into a single
// cleanup, broadcast, and navigation per expiry episode. An episode is keyed
// by the rejected credential: however many in-flight requests carried the
// same stale token, the first rejection runs the episode and the rest are
// no-ops, whether they land during the cleanup or after it. A rejection of a
// different (newer) token starts a fresh episode.
type expiryLatch struct {
	store  credstore.Store
	bus    bus.EventBus
	nav    Navigator
	logger *slog.Logger

	mu          sync.Mutex
	armed       bool
	handled     bool
	lastHandled string
}

func newExpiryLatch(store credstore.Store, b bus.EventBus, nav Navigator, logger *slog.Logger) *expiryLatch {
	return &expiryLatch{
		store:  store,
		bus:    b,
		nav:    nav,
		logger: logger,
	}
}

// trip runs one expiry episode: clear credentials, broadcast, navigate.
// token is the bearer credential the failing request carried. Safe to call
// from any number of concurrently failing requests.
func (l *expiryLatch) trip(token string) {
	l.mu.Lock()
	if l.armed || (l.handled && token != "" && token == l.lastHandled) {
		l.mu.Unlock()
		return
	}
	l.armed = true
	l.mu.Unlock()

	defer func() {
		// The episode ends once navigation has been scheduled; the same
		// stale token stays handled, a newer one starts a fresh episode.
		l.mu.Lock()
		l.armed = false
		l.handled = true
		l.lastHandled = token
		l.mu.Unlock()
	}()

	if err := l.store.Clear(); err != nil {
		l.logger.Warn("clearing credentials on expiry", "err", err)
	}
	l.bus.Publish(bus.NewEvent(bus.EventSessionCleared))
	l.bus.Publish(bus.NewEvent(bus.EventSessionExpired))

	if l.nav == nil {
		return
	}
	if loginAdjacent(l.nav.CurrentPath()) {
		l.logger.Debug("expiry on login-adjacent page, skipping redirect")
		return
	}
	l.nav.NavigateToLogin()
}
