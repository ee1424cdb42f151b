package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/trellis/bus"
	"github.com/petal-labs/trellis/catalog"
	"github.com/petal-labs/trellis/core"
	"github.com/petal-labs/trellis/favorites"
	trellisotel "github.com/petal-labs/trellis/otel"
	"github.com/petal-labs/trellis/refresh"
)

// watchClient is the slice of the assembled client the watch helpers need.
type watchClient interface {
	Favorites() *favorites.Registry
	Catalog() *catalog.Collections
}

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream client events and keep collections fresh",
		Long: "Watch revalidates the session, loads the favorites registry, and " +
			"prints every client event until interrupted. Loaded collections are " +
			"re-fetched on the refresh schedule so favorite counters stay honest.",
		Args: cobra.NoArgs,
		RunE: runWatch,
	}

	cmd.Flags().String("refresh", "", "Re-sync schedule, e.g. \"@every 5m\" (default from config)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP collector address for trace export, e.g. localhost:4318")
	cmd.Flags().StringArray("collection", nil, "Collection to keep loaded (repeatable; default: all)")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	client, cfg, err := buildClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()

	// Observability first so session events from startup are captured.
	shutdownTracing, err := setupWatchTracing(cmd, cfg)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	observer, err := setupWatchObserver(client.Events())
	if err != nil {
		return exitError(exitConfig, "initializing observability: %v", err)
	}
	defer observer.Close()

	// Event printing subscribes before any activity so nothing is missed.
	sub := client.Events().SubscribeAll()
	defer sub.Close()

	if err := client.CheckAuth(cmd.Context()); err != nil {
		return classifyExit(err)
	}
	if client.IsAuthenticated() {
		user, _ := client.CurrentUser()
		fmt.Fprintf(out, "Watching as %s\n", user.Email)
		if err := client.Favorites().EnsureLoaded(cmd.Context()); err != nil {
			return classifyExit(err)
		}
	} else {
		fmt.Fprintln(out, "Watching unauthenticated (catalog only)")
	}

	if err := loadWatchCollections(cmd, client); err != nil {
		return err
	}

	scheduler, err := buildWatchScheduler(cmd, cfg, client)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopping...")
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			printEvent(cmd, e)
		}
	}
}

func setupWatchTracing(cmd *cobra.Command, cfg Config) (func(), error) {
	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	if endpoint == "" {
		endpoint = cfg.OTLPEndpoint
	}
	if endpoint == "" {
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(cmd.Context(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, exitError(exitConfig, "creating OTLP exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otelapi.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}

func setupWatchObserver(eventBus bus.EventBus) (*trellisotel.Observer, error) {
	metrics, err := trellisotel.NewMetricsHandler(
		otelapi.GetMeterProvider().Meter("trellis/client"),
	)
	if err != nil {
		return nil, err
	}
	tracing := trellisotel.NewTracingHandler(
		otelapi.GetTracerProvider().Tracer("trellis/client"),
	)
	return trellisotel.NewObserver(eventBus, metrics, tracing), nil
}

func loadWatchCollections(cmd *cobra.Command, client watchClient) error {
	ftypes, err := watchCollectionTypes(cmd)
	if err != nil {
		return err
	}
	for _, ftype := range ftypes {
		if err := client.Catalog().Load(cmd.Context(), ftype); err != nil {
			return classifyExit(err)
		}
	}
	return nil
}

func watchCollectionTypes(cmd *cobra.Command) ([]core.FavoriteType, error) {
	raw, _ := cmd.Flags().GetStringArray("collection")
	if len(raw) == 0 {
		return core.FavoriteTypes(), nil
	}
	ftypes := make([]core.FavoriteType, 0, len(raw))
	for _, arg := range raw {
		ftype, err := parseFavoriteType(arg)
		if err != nil {
			return nil, err
		}
		ftypes = append(ftypes, ftype)
	}
	return ftypes, nil
}

func buildWatchScheduler(cmd *cobra.Command, cfg Config, client watchClient) (*refresh.Scheduler, error) {
	schedule, _ := cmd.Flags().GetString("refresh")
	if schedule == "" {
		schedule = cfg.Refresh
	}

	scheduler, err := refresh.NewScheduler(refresh.Config{
		Registry: client.Favorites(),
		Catalog:  client.Catalog(),
		Schedule: schedule,
	})
	if err != nil {
		return nil, exitError(exitUsage, "%v", err)
	}
	return scheduler, nil
}

func printEvent(cmd *cobra.Command, e bus.Event) {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(time.TimeOnly))
	sb.WriteString("  ")
	sb.WriteString(e.Kind.String())

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s=%v", k, e.Payload[k]))
	}

	fmt.Fprintln(cmd.OutOrStdout(), sb.String())
}
