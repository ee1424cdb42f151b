package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/credstore"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

type fakeNavigator struct {
	mu       sync.Mutex
	path     string
	navCount int32
	blockNav chan struct{} // if non-nil, NavigateToLogin blocks until closed
}

func (n *fakeNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *fakeNavigator) NavigateToLogin() {
	atomic.AddInt32(&n.navCount, 1)
	if n.blockNav != nil {
		<-n.blockNav
	}
}

func (n *fakeNavigator) navigations() int32 {
	return atomic.LoadInt32(&n.navCount)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *credstore.MemStore, *bus.MemBus, *fakeNavigator) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := credstore.NewMemStore()
	b := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { b.Close() })
	nav := &fakeNavigator{path: "/products"}

	client, err := NewClient(Config{
		BaseURL:   srv.URL,
		Store:     store,
		Bus:       b,
		Navigator: nav,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, store, b, nav
}

func TestClient_LoginSuccess(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ada@example.com" {
			t.Errorf("email not forwarded: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": 5, "email": "ada@example.com"},
		})
	}))

	token, rawUser, err := client.Login(context.Background(), "ada@example.com", "pw", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q", token)
	}
	if rawUser["email"] != "ada@example.com" {
		t.Errorf("user payload = %v", rawUser)
	}
}

func TestClient_LoginRejectedIsInvalidCredentials(t *testing.T) {
	client, store, _, nav := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	store.Write(credstore.Credentials{Token: "existing"})

	_, _, err := client.Login(context.Background(), "ada@example.com", "wrong", false)
	if !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials", err)
	}

	// A rejected login is not an expiry: no cleanup, no redirect.
	if _, ok, _ := store.Read(); !ok {
		t.Error("login rejection must not clear the credential store")
	}
	if nav.navigations() != 0 {
		t.Error("login rejection must not navigate")
	}
}

func TestClient_LoginValidationRejectionIsInvalidCredentials(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, _, err := client.Login(context.Background(), "ada@example.com", "", false)
	if !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("got %v, want ErrInvalidCredentials for a 422 on /login", err)
	}
}

func TestClient_ValidationRejectionOutsideLoginIsNotCredentials(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	client.SetTokenSource(staticTokens("tok"))

	_, err := client.AddFavorite(context.Background(), core.FavoriteTypeProduct, 42)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, core.ErrInvalidCredentials) {
		// "Invalid email or password." on a favorites action would be wrong.
		t.Fatalf("favorites rejection misclassified as credentials: %v", err)
	}
	if msg := core.UserMessage(err); msg == "" {
		t.Error("a rejected mutation should still surface a message")
	}
}

func TestClient_BearerInjection(t *testing.T) {
	var gotAuth string
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]core.FavoriteRecord{})
	}))
	client.SetTokenSource(staticTokens("tok-7"))

	if _, err := client.ListFavorites(context.Background()); err != nil {
		t.Fatalf("ListFavorites: %v", err)
	}
	if gotAuth != "Bearer tok-7" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_RequestIDSet(t *testing.T) {
	var gotID string
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-ID")
		json.NewEncoder(w).Encode([]core.EntityItem{})
	}))

	if _, err := client.ListCollection(context.Background(), core.FavoriteTypeProduct); err != nil {
		t.Fatalf("ListCollection: %v", err)
	}
	if gotID == "" {
		t.Error("X-Request-ID should be set on every request")
	}
}

func TestClient_UnauthorizedTripsExpiryOnce(t *testing.T) {
	client, store, b, nav := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	client.SetTokenSource(staticTokens("stale"))
	store.Write(credstore.Credentials{Token: "stale", User: core.User{Name: "Ada"}})

	expired := b.Subscribe(bus.EventSessionExpired)
	defer expired.Close()

	_, err := client.ListFavorites(context.Background())
	if !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}

	if _, ok, _ := store.Read(); ok {
		t.Error("expiry must clear the credential store")
	}
	select {
	case <-expired.Events():
	case <-time.After(time.Second):
		t.Fatal("expected session.expired event")
	}
	if nav.navigations() != 1 {
		t.Errorf("navigations = %d, want 1", nav.navigations())
	}
}

func TestClient_ConcurrentUnauthorizedSingleEpisode(t *testing.T) {
	release := make(chan struct{})
	client, store, b, nav := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	nav.blockNav = release
	client.SetTokenSource(staticTokens("stale"))
	store.Write(credstore.Credentials{Token: "stale", User: core.User{Name: "Ada"}})

	expired := b.Subscribe(bus.EventSessionExpired)
	defer expired.Close()

	// A stale favorites fetch and a stale catalog fetch fail together.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.ListFavorites(context.Background())
	}()
	go func() {
		defer wg.Done()
		client.FetchUser(context.Background())
	}()

	// Let both requests hit the latch before the first navigation finishes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := nav.navigations(); got != 1 {
		t.Errorf("navigations = %d, want 1", got)
	}

	events := 0
	for {
		select {
		case <-expired.Events():
			events++
		case <-time.After(100 * time.Millisecond):
			if events != 1 {
				t.Errorf("session.expired events = %d, want 1", events)
			}
			return
		}
	}
}

func TestClient_ExpiryOnLoginPageSkipsRedirect(t *testing.T) {
	client, _, _, nav := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	nav.path = "/login"
	client.SetTokenSource(staticTokens("stale"))

	client.ListFavorites(context.Background())

	if nav.navigations() != 0 {
		t.Errorf("navigations = %d, want 0 on login-adjacent page", nav.navigations())
	}
}

func TestClient_ServerErrorClassified(t *testing.T) {
	client, store, _, nav := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	client.SetTokenSource(staticTokens("tok"))
	store.Write(credstore.Credentials{Token: "tok"})

	_, err := client.FetchUser(context.Background())
	if !errors.Is(err, core.ErrServerDegraded) {
		t.Fatalf("got %v, want ErrServerDegraded", err)
	}
	if _, ok, _ := store.Read(); !ok {
		t.Error("server degradation must not clear credentials")
	}
	if nav.navigations() != 0 {
		t.Error("server degradation must not navigate")
	}
}

func TestClient_NetworkErrorClassified(t *testing.T) {
	store := credstore.NewMemStore()
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	client, err := NewClient(Config{
		// Reserved TEST-NET-1 address; connection cannot be established.
		BaseURL:    "http://192.0.2.1:9",
		HTTPClient: &http.Client{Timeout: 200 * time.Millisecond},
		Store:      store,
		Bus:        b,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.ListCollection(context.Background(), core.FavoriteTypeBlog)
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, core.ErrUnauthorized) || errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("connectivity loss misclassified: %v", err)
	}
}

func TestClient_ListCollection(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" {
			t.Errorf("path = %q, want /products", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]core.EntityItem{
			{ID: 42, Title: "Trowel", FavoriteCount: 3},
		})
	}))

	items, err := client.ListCollection(context.Background(), core.FavoriteTypeProduct)
	if err != nil {
		t.Fatalf("ListCollection: %v", err)
	}
	if len(items) != 1 || items[0].ID != 42 || items[0].FavoriteCount != 3 {
		t.Errorf("items = %+v", items)
	}
}

func TestClient_ListCollectionUnknownType(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if _, err := client.ListCollection(context.Background(), core.FavoriteType("comment")); err == nil {
		t.Fatal("unknown collection type should error")
	}
}

func TestClient_AddRemoveFavorite(t *testing.T) {
	client, _, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(core.FavoriteRecord{
				ID:           11,
				FavoriteType: core.FavoriteType(body["favorite_type"].(string)),
				ItemID:       int64(body["item_id"].(float64)),
			})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	client.SetTokenSource(staticTokens("tok"))

	rec, err := client.AddFavorite(context.Background(), core.FavoriteTypeProduct, 42)
	if err != nil {
		t.Fatalf("AddFavorite: %v", err)
	}
	if rec.ID != 11 || rec.FavoriteType != core.FavoriteTypeProduct || rec.ItemID != 42 {
		t.Errorf("record = %+v", rec)
	}

	if err := client.RemoveFavorite(context.Background(), core.FavoriteTypeProduct, 42); err != nil {
		t.Fatalf("RemoveFavorite: %v", err)
	}
}
