// Command hostdemo wires discovery, one supervisor per discovered
// plugin, the embedded event bus, the restart/crash audit log, and the
// introspection gateway into a single running host. It is a runnable
// demonstration of the library packages, not a supported product
// surface: the core specification is scoped as an embeddable library,
// with no CLI of its own.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/junctionrelay/collector-host/discovery"
	"github.com/junctionrelay/collector-host/internal/audit"
	"github.com/junctionrelay/collector-host/internal/config"
	"github.com/junctionrelay/collector-host/internal/eventbus"
	"github.com/junctionrelay/collector-host/internal/gateway"
	"github.com/junctionrelay/collector-host/internal/logging"
	"github.com/junctionrelay/collector-host/protocol"
	"github.com/junctionrelay/collector-host/supervisor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := getEnv("CONFIG_PATH", "./config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("no config file found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
		cfg.SetPath(configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := eventbus.New(eventbus.Config{Host: cfg.EventBus.Host, Port: cfg.EventBus.Port}, logger)
	if err != nil {
		logger.Error("failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Audit.DatabasePath), 0o755); err != nil {
		logger.Error("failed to create audit directory", "error", err)
		os.Exit(1)
	}
	auditStore, err := audit.Open(cfg.Audit.DatabasePath)
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()
	if err := auditStore.Migrate(ctx); err != nil {
		logger.Error("failed to migrate audit store", "error", err)
		os.Exit(1)
	}

	registry := newSupervisorRegistry()
	gw := gateway.New(registry, cfg.Gateway.AllowedOrigins, logger)

	var plugins []protocol.Plugin
	for _, root := range cfg.Discovery.Roots {
		plugins = append(plugins, discovery.Scan(root)...)
	}
	logger.Info("discovered plugins", "count", len(plugins))

	for _, plugin := range plugins {
		startSupervisor(ctx, plugin, cfg, bus, auditStore, gw, registry, logger)
	}

	server := &http.Server{Addr: cfg.Gateway.Address, Handler: gw.Handler()}
	go func() {
		logger.Info("gateway listening", "address", cfg.Gateway.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	for _, view := range registry.List() {
		sv := view.(*supervisorView)
		_ = sv.sup.Stop(shutdownCtx)
	}
}

func startSupervisor(
	ctx context.Context,
	plugin protocol.Plugin,
	cfg *config.Config,
	bus *eventbus.EventBus,
	auditStore *audit.Store,
	gw *gateway.Gateway,
	registry *supervisorRegistry,
	logger *slog.Logger,
) {
	sup := supervisor.New(plugin,
		supervisor.WithRequestTimeout(cfg.RequestTimeout()),
		supervisor.WithReadyTimeout(cfg.ReadyTimeout()),
		supervisor.WithMaxRestarts(cfg.Supervisor.MaxRestarts),
		supervisor.WithRestartDelay(cfg.RestartDelay()),
		supervisor.WithLogger(logger),
		supervisor.WithCallbacks(supervisor.Callbacks{
			OnLog: func(line string) { logger.Info(line, "plugin", plugin.Name) },
			OnExit: func(err error) {
				_ = bus.PublishExit(plugin.Name, err)
				_ = auditStore.RecordExit(context.Background(), plugin.Name, err.Error())
			},
			OnRestart: func(attempt int) {
				_ = bus.PublishRestart(plugin.Name, attempt)
				_ = auditStore.RecordRestart(context.Background(), plugin.Name, attempt)
			},
			OnMaxRestartsExceeded: func() {
				_ = bus.PublishMaxRestartsExceeded(plugin.Name)
				_ = auditStore.RecordMaxRestartsExceeded(context.Background(), plugin.Name)
			},
		}),
	)

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start supervisor", "plugin", plugin.Name, "error", err)
		return
	}
	registry.add(sup)

	go pollSensors(ctx, sup, bus, gw, logger)
}

// pollSensors periodically fetches sensors from a running plugin and
// forwards the batch to the event bus and the gateway's websocket
// stream.
func pollSensors(ctx context.Context, sup *supervisor.Supervisor, bus *eventbus.EventBus, gw *gateway.Gateway, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sensors, err := sup.FetchSensors(ctx)
			if err != nil {
				logger.Warn("fetchSensors failed", "plugin", sup.Name(), "error", err)
				continue
			}
			_ = bus.PublishSensorBatch(sup.Name(), sensors)
			gw.Broadcast(map[string]interface{}{
				"plugin":  sup.Name(),
				"sensors": sensors,
			})
		}
	}
}

// supervisorView adapts *supervisor.Supervisor to gateway.SupervisorView.
type supervisorView struct {
	sup *supervisor.Supervisor
}

func (v *supervisorView) Name() string { return v.sup.Name() }
func (v *supervisorView) State() string { return v.sup.State().String() }
func (v *supervisorView) GetLogs(n int) []logging.Entry { return v.sup.GetLogs(n) }

// supervisorRegistry is a mutex-guarded lookup of running supervisors by
// plugin name, implementing gateway.Registry.
type supervisorRegistry struct {
	mu     sync.RWMutex
	byName map[string]*supervisorView
}

func newSupervisorRegistry() *supervisorRegistry {
	return &supervisorRegistry{byName: make(map[string]*supervisorView)}
}

func (r *supervisorRegistry) add(sup *supervisor.Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[sup.Name()] = &supervisorView{sup: sup}
}

func (r *supervisorRegistry) List() []gateway.SupervisorView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]gateway.SupervisorView, 0, len(r.byName))
	for _, v := range r.byName {
		views = append(views, v)
	}
	return views
}

func (r *supervisorRegistry) Get(name string) (gateway.SupervisorView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
