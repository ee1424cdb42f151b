// Package transport is the single path every outbound request takes to the
// storefront backend. It injects the bearer credential, classifies failures
// into the core error taxonomy, and owns the authorization-failure
// broadcaster: the first request to observe a rejected credential clears
// persisted state, publishes one session.expired event, and schedules one
// navigation to the login page.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/credstore"
)

// TokenSource supplies the current bearer token. The session controller is
// the authoritative implementation; an empty string means "no session".
type TokenSource interface {
	Token() string
}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// HTTPClient is the underlying client (default: http.Client with a
	// 15 second timeout).
	HTTPClient *http.Client

	// Store is cleared when an authorization failure is detected.
	Store credstore.Store

	// Bus receives session.expired and session.cleared events.
	Bus bus.EventBus

	// Navigator performs the redirect-to-login side effect. Optional.
	Navigator Navigator

	// Logger receives request-level logging (default: slog.Default()).
	Logger *slog.Logger
}

// Client funnels all backend traffic through one response-handling path.
type Client struct {
	baseURL string
	httpc   *http.Client
	store   credstore.Store
	bus     bus.EventBus
	logger  *slog.Logger

	tokens TokenSource
	expiry *expiryLatch
}

// NewClient creates a Client from the given configuration.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	if config.Store == nil {
		return nil, errors.New("transport: credential store is required")
	}
	if config.Bus == nil {
		return nil, errors.New("transport: event bus is required")
	}

	httpc := config.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpc:   httpc,
		store:   config.Store,
		bus:     config.Bus,
		logger:  logger,
		expiry:  newExpiryLatch(config.Store, config.Bus, config.Navigator, logger),
	}, nil
}

// SetTokenSource installs the bearer token provider. Requests issued before
// a source is installed go out unauthenticated.
func (c *Client) SetTokenSource(src TokenSource) {
	c.tokens = src
}

// loginResponse is the raw shape of POST /login. The user payload is kept
// raw; the session controller normalizes it.
type loginResponse struct {
	Token string         `json:"token"`
	User  map[string]any `json:"user"`
}

// Login exchanges credentials for a token and user payload. A rejected
// attempt returns ErrInvalidCredentials; it never trips the expiry latch
// because there is no session to expire.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (string, map[string]any, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"remember": remember,
	}

	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/login", body, &resp, false)
	if err != nil {
		if loginRejected(err) {
			return "", nil, fmt.Errorf("%w", core.ErrInvalidCredentials)
		}
		return "", nil, err
	}
	if resp.Token == "" {
		return "", nil, fmt.Errorf("%w: login response missing token", core.ErrServerDegraded)
	}
	return resp.Token, resp.User, nil
}

// loginRejected reports whether the login endpoint refused the credentials:
// a plain 401, or the 403/422 validation rejections it answers with. The
// mapping lives here rather than in the shared classifier because those
// statuses mean something else on every other endpoint.
func loginRejected(err error) bool {
	if errors.Is(err, core.ErrUnauthorized) {
		return true
	}
	var statusErr *core.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusForbidden ||
			statusErr.Status == http.StatusUnprocessableEntity
	}
	return false
}

// Logout sends the best-effort server notification. The response body and
// most failures are ignored by callers; only the error classification is
// returned for logging.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, true)
}

// FetchUser retrieves the identity bound to the current token. Used for
// startup revalidation.
func (c *Client) FetchUser(ctx context.Context) (map[string]any, error) {
	var raw map[string]any
	if err := c.do(ctx, http.MethodGet, "/user", nil, &raw, true); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListFavorites retrieves the signed-in user's favorite records.
func (c *Client) ListFavorites(ctx context.Context) ([]core.FavoriteRecord, error) {
	var records []core.FavoriteRecord
	if err := c.do(ctx, http.MethodGet, "/favorites", nil, &records, true); err != nil {
		return nil, err
	}
	return records, nil
}

// AddFavorite creates a favorite record for the given pair.
func (c *Client) AddFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) (core.FavoriteRecord, error) {
	body := map[string]any{
		"favorite_type": ftype,
		"item_id":       itemID,
	}
	var record core.FavoriteRecord
	if err := c.do(ctx, http.MethodPost, "/favorites", body, &record, true); err != nil {
		return core.FavoriteRecord{}, err
	}
	return record, nil
}

// RemoveFavorite deletes the favorite record for the given pair.
func (c *Client) RemoveFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) error {
	body := map[string]any{
		"favorite_type": ftype,
		"item_id":       itemID,
	}
	return c.do(ctx, http.MethodDelete, "/favorites", body, nil, true)
}

// collectionPaths maps favorite types to their listing endpoints.
var collectionPaths = map[core.FavoriteType]string{
	core.FavoriteTypeBlog:    "/blogs",
	core.FavoriteTypeProduct: "/products",
	core.FavoriteTypeService: "/services",
}

// ListCollection retrieves the catalog collection for the given type.
func (c *Client) ListCollection(ctx context.Context, ftype core.FavoriteType) ([]core.EntityItem, error) {
	path, ok := collectionPaths[ftype]
	if !ok {
		return nil, fmt.Errorf("transport: unknown collection type %q", ftype)
	}
	var items []core.EntityItem
	if err := c.do(ctx, http.MethodGet, path, nil, &items, false); err != nil {
		return nil, err
	}
	return items, nil
}

// do performs one request through the shared response-handling path.
// An authorization failure on an authenticated request trips the expiry
// latch before the error is returned.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("transport: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	var bearer string
	if authed {
		if bearer = c.token(); bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		classified := core.ClassifyTransport(err)
		c.logger.Debug("request failed before response",
			"method", method, "path", path, "err", err)
		return classified
	}
	defer resp.Body.Close()

	if err := core.ClassifyStatus(resp.StatusCode); err != nil {
		c.logger.Debug("request rejected",
			"method", method, "path", path, "status", resp.StatusCode)
		// Only a rejected credential is an expiry; a 401 on a request that
		// carried no token has no session to clear.
		if authed && bearer != "" && errors.Is(err, core.ErrUnauthorized) {
			c.expiry.trip(bearer)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", core.ErrServerDegraded, err)
	}
	return nil
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}
