package refresh

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/petal-labs/trellis/catalog"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/favorites"
)

type fakeTokens struct{}

func (fakeTokens) Token() string { return "tok" }

type fakeBackend struct {
	listCalls       int32
	collectionCalls int32
}

func (f *fakeBackend) ListFavorites(ctx context.Context) ([]core.FavoriteRecord, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return []core.FavoriteRecord{
		{ID: 1, FavoriteType: core.FavoriteTypeProduct, ItemID: 42},
	}, nil
}

func (f *fakeBackend) AddFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) (core.FavoriteRecord, error) {
	return core.FavoriteRecord{}, nil
}

func (f *fakeBackend) RemoveFavorite(ctx context.Context, ftype core.FavoriteType, itemID int64) error {
	return nil
}

func (f *fakeBackend) ListCollection(ctx context.Context, ftype core.FavoriteType) ([]core.EntityItem, error) {
	atomic.AddInt32(&f.collectionCalls, 1)
	return []core.EntityItem{{ID: 42, FavoriteCount: 7}}, nil
}

func newFixtures(t *testing.T) (*favorites.Registry, *catalog.Collections, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	registry, err := favorites.NewRegistry(favorites.RegistryConfig{
		Backend: backend,
		Tokens:  fakeTokens{},
	})
	if err != nil {
		t.Fatal(err)
	}
	collections, err := catalog.NewCollections(catalog.Config{Backend: backend})
	if err != nil {
		t.Fatal(err)
	}
	return registry, collections, backend
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 5m", false},
		{"*/10 * * * *", false},
		{"@hourly", false},
		{"", true},
		{"not a schedule", true},
		{"CRON_TZ=America/New_York 0 * * * *", true},
		{"TZ=UTC 0 * * * *", true},
	}

	for _, tt := range tests {
		_, err := ParseSchedule(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	registry, collections, _ := newFixtures(t)

	_, err := NewScheduler(Config{
		Registry: registry,
		Catalog:  collections,
		Schedule: "nope",
	})
	if err == nil {
		t.Fatal("invalid schedule should be rejected at construction")
	}
}

func TestRunOnce_SkipsUnloadedState(t *testing.T) {
	registry, collections, backend := newFixtures(t)

	s, err := NewScheduler(Config{Registry: registry, Catalog: collections})
	if err != nil {
		t.Fatal(err)
	}

	s.RunOnce(context.Background())

	if atomic.LoadInt32(&backend.listCalls) != 0 {
		t.Error("unloaded registry must not be fetched")
	}
	if atomic.LoadInt32(&backend.collectionCalls) != 0 {
		t.Error("unloaded collections must not be fetched")
	}
}

func TestRunOnce_RefreshesLoadedState(t *testing.T) {
	registry, collections, backend := newFixtures(t)

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := collections.Load(context.Background(), core.FavoriteTypeProduct); err != nil {
		t.Fatal(err)
	}
	atomic.StoreInt32(&backend.listCalls, 0)
	atomic.StoreInt32(&backend.collectionCalls, 0)

	s, err := NewScheduler(Config{Registry: registry, Catalog: collections})
	if err != nil {
		t.Fatal(err)
	}

	s.RunOnce(context.Background())

	if got := atomic.LoadInt32(&backend.listCalls); got != 1 {
		t.Errorf("registry fetches = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&backend.collectionCalls); got != 1 {
		t.Errorf("collection fetches = %d, want 1 (only the loaded one)", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	registry, collections, _ := newFixtures(t)

	s, err := NewScheduler(Config{
		Registry: registry,
		Catalog:  collections,
		Schedule: "@every 1h",
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	s.Stop()
}
