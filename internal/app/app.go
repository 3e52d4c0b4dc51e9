// ABOUTME: Composition root wiring config into SQLite tiers, registries, metrics and a storage manager
// ABOUTME: Exposes one JSON slot per configured key plus the reload, watch and HTTP surfaces used by the CLI

package app

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-storage/internal/config"
	"github.com/2389/coven-storage/internal/registry"
	"github.com/2389/coven-storage/internal/storage"
	"github.com/2389/coven-storage/internal/store"
	"github.com/2389/coven-storage/internal/tier"
	"github.com/2389/coven-storage/internal/watch"
)

// MirrorName is the expvar map holding the debug mirror.
const MirrorName = "coven_storage"

// ErrUnknownKey is returned for keys missing from the configured schema.
var ErrUnknownKey = errors.New("unknown key")

// App holds every component built from one config.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	shared store.Backend
	local  store.Backend
	tiers  *tier.Store

	overflow *registry.Overflow
	versions *registry.Versions

	registry *prometheus.Registry
	metrics  *storage.Metrics
	mirror   *storage.ExpvarMirror
	manager  *storage.Manager
	slots    map[string]*storage.Slot[json.RawMessage]
}

// New opens both tier databases, loads the registries and registers a slot
// for every key in cfg. Registry load failures are logged and the registry
// starts empty.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	shared, err := store.NewSQLiteStore(cfg.Tiers.Shared.Path)
	if err != nil {
		return nil, fmt.Errorf("opening shared tier: %w", err)
	}
	local, err := store.NewSQLiteStore(cfg.Tiers.Local.Path)
	if err != nil {
		shared.Close()
		return nil, fmt.Errorf("opening local tier: %w", err)
	}

	return build(ctx, cfg, shared, local, logger)
}

// build wires the components over already opened backends.
func build(ctx context.Context, cfg *config.Config, shared, local store.Backend, logger *slog.Logger) (*App, error) {
	tiers := tier.New(shared, local, cfg.Tiers.QuotaBytes, logger)

	a := &App{
		cfg:      cfg,
		logger:   logger.With("component", "app"),
		shared:   shared,
		local:    local,
		tiers:    tiers,
		overflow: registry.NewOverflow(tiers, logger),
		versions: registry.NewVersions(tiers, cfg.VersionsTier(), logger),
		mirror:   storage.NewExpvarMirror(MirrorName),
		slots:    make(map[string]*storage.Slot[json.RawMessage]),
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector())
		a.metrics = storage.NewMetrics(a.registry)
	}

	if err := a.Reload(ctx); err != nil {
		a.logger.Warn("starting with empty registries", "error", err)
	}

	a.manager = storage.NewManager(tiers, a.overflow, a.versions, storage.Options{
		Logger:  logger,
		Metrics: a.metrics,
		Mirror:  a.mirror,
	})

	for _, k := range cfg.Keys {
		def, err := k.DefaultJSON()
		if err != nil {
			a.Close()
			return nil, err
		}
		slot, err := storage.Register(a.manager, storage.Definition[json.RawMessage]{
			Key:     k.Name,
			Default: def,
			Tier:    k.ParsedTier(),
			Version: k.Version,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("registering %s: %w", k.Name, err)
		}
		a.slots[k.Name] = slot
	}

	return a, nil
}

// Config returns the config the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Manager returns the storage manager.
func (a *App) Manager() *storage.Manager {
	return a.manager
}

// Mirror returns the debug mirror.
func (a *App) Mirror() *storage.ExpvarMirror {
	return a.mirror
}

// Slot returns the slot for a configured key.
func (a *App) Slot(name string) (*storage.Slot[json.RawMessage], error) {
	slot, ok := a.slots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return slot, nil
}

// Reload re-reads both registries from their tiers. Each registry keeps its
// previous state when its own load fails. Changes are logged and exported as
// gauges.
func (a *App) Reload(ctx context.Context) error {
	prevOverflow := a.overflow.Keys()
	prevVersions := a.versions.Snapshot()

	err := errors.Join(
		a.overflow.Load(ctx),
		a.versions.Load(ctx),
	)

	overflow := a.overflow.Keys()
	versions := a.versions.Snapshot()
	a.logRegistryChanges(prevOverflow, overflow, prevVersions, versions)
	a.metrics.ObserveRegistries(overflow, versions)
	return err
}

func (a *App) logRegistryChanges(prevOverflow, overflow []string, prevVersions, versions map[string]string) {
	toLocal, toShared := diffKeys(prevOverflow, overflow)
	if len(toLocal) > 0 || len(toShared) > 0 {
		a.logger.Info("overflow registry changed", "to_local", toLocal, "to_shared", toShared)
	}

	for _, k := range sortedKeys(versions) {
		if prev, ok := prevVersions[k]; !ok || prev != versions[k] {
			a.logger.Info("recorded version changed", "key", k, "from", prev, "to", versions[k])
		}
	}
	for _, k := range sortedKeys(prevVersions) {
		if _, ok := versions[k]; !ok {
			a.logger.Info("recorded version removed", "key", k, "from", prevVersions[k])
		}
	}
}

// diffKeys returns the keys only in next and the keys only in prev.
func diffKeys(prev, next []string) (added, removed []string) {
	before := make(map[string]bool, len(prev))
	for _, k := range prev {
		before[k] = true
	}
	for _, k := range next {
		if !before[k] {
			added = append(added, k)
		}
		delete(before, k)
	}
	for _, k := range prev {
		if before[k] {
			removed = append(removed, k)
		}
	}
	return added, removed
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler serves metrics (when enabled), the expvar debug mirror and a
// health check.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/debug/vars", expvar.Handler())
	if a.registry != nil {
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		}))
	}
	return mux
}

// Watch re-reads the registries whenever another process changes a tier
// database, until ctx is done. With metrics enabled it also serves Handler on
// the configured address.
func (a *App) Watch(ctx context.Context) error {
	w, err := watch.New(watch.Config{
		Paths:    a.watchPaths(),
		Debounce: a.cfg.Watch.Debounce,
	}, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", a.cfg.Metrics.Addr, err)
		}
		srv = &http.Server{
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.logger.Info("serving metrics", "addr", ln.Addr().String(), "path", a.cfg.Metrics.Path)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- w.Run(ctx, func(ctx context.Context) error {
			a.logger.Info("tier database changed, reloading registries")
			return a.Reload(ctx)
		})
	}()

	var result error
	select {
	case result = <-runErr:
	case result = <-errCh:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = errors.Join(result, fmt.Errorf("shutting down metrics server: %w", err))
		}
	}
	return result
}

// watchPaths lists the on-disk tier databases.
func (a *App) watchPaths() []string {
	var paths []string
	for _, p := range []string{a.cfg.Tiers.Shared.Path, a.cfg.Tiers.Local.Path} {
		if p != ":memory:" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Close closes both tier databases. Pending writes should be awaited first.
func (a *App) Close() error {
	var errs []error
	if err := a.shared.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing shared tier: %w", err))
	}
	if err := a.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing local tier: %w", err))
	}
	return errors.Join(errs...)
}
