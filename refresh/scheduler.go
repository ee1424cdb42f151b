// Package refresh periodically re-fetches the favorites registry and the
// loaded catalog collections, bounding the drift that incremental counter
// adjustments can accumulate between full fetches.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/trellis/catalog"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/favorites"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule validates a refresh schedule expression. Standard five-field
// cron expressions and descriptors such as "@every 5m" are accepted;
// timezone prefixes are not, schedules run in UTC.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("refresh: schedule expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("refresh: schedule must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule expression: %w", err)
	}
	return schedule, nil
}

// Config configures a Scheduler.
type Config struct {
	Registry *favorites.Registry
	Catalog  *catalog.Collections

	// Schedule is the cron expression driving the re-sync
	// (default: "@every 5m").
	Schedule string

	// Timeout bounds one re-sync pass (default: 30 seconds).
	Timeout time.Duration

	// Logger receives scheduler logging (default: slog.Default()).
	Logger *slog.Logger
}

// Scheduler drives periodic re-syncs.
type Scheduler struct {
	registry *favorites.Registry
	catalog  *catalog.Collections
	timeout  time.Duration
	logger   *slog.Logger

	cron *cron.Cron
}

// NewScheduler creates a Scheduler. Start begins the schedule; Stop halts it.
func NewScheduler(config Config) (*Scheduler, error) {
	if config.Registry == nil {
		return nil, errors.New("refresh: registry is required")
	}
	if config.Catalog == nil {
		return nil, errors.New("refresh: catalog is required")
	}

	schedule := config.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		registry: config.Registry,
		catalog:  config.Catalog,
		timeout:  timeout,
		logger:   logger,
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLocation(time.UTC),
		),
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("refresh: registering schedule: %w", err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.RunOnce(ctx)
}

// RunOnce performs one re-sync pass: the favorites registry is refetched if
// this session has loaded it, and every loaded catalog collection is wholly
// replaced. Failures are logged, not surfaced; the next pass tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.registry.Loaded() {
		if err := s.registry.Refresh(ctx); err != nil {
			s.logger.Warn("refreshing favorites registry", "err", err)
		}
	}

	for _, ftype := range core.FavoriteTypes() {
		if !s.catalog.Loaded(ftype) {
			continue
		}
		if err := s.catalog.Load(ctx, ftype); err != nil {
			s.logger.Warn("refreshing collection", "type", ftype, "err", err)
		}
	}
}
