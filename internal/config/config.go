// Package config provides configuration management for the collector
// host: the supervisor defaults applied to every spawned plugin, the
// discovery roots to scan, and the addresses the gateway and event bus
// bind to. Configuration is loaded from YAML and can be hot-reloaded.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the host's top-level configuration.
type Config struct {
	Version    string           `yaml:"version"`
	System     SystemConfig     `yaml:"system"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Audit      AuditConfig      `yaml:"audit"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// SupervisorConfig holds the defaults applied to every supervisor unless
// a caller overrides them (§6).
type SupervisorConfig struct {
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
	ReadyTimeoutMs   int `yaml:"ready_timeout_ms"`
	MaxRestarts      int `yaml:"max_restarts"`
	RestartDelayMs   int `yaml:"restart_delay_ms"`
}

// DiscoveryConfig holds the roots to scan for plugins (§4.D).
// WatchForAdds is read from the file, but nothing in this module watches
// the roots.
type DiscoveryConfig struct {
	Roots        []string `yaml:"roots"`
	WatchForAdds bool     `yaml:"watch_for_adds"`
}

// GatewayConfig holds the introspection HTTP API's bind address.
type GatewayConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EventBusConfig holds the embedded event bus's bind settings.
type EventBusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuditConfig holds the restart/crash audit log's storage path.
type AuditConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		System: SystemConfig{
			Name:      "collector-host",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Supervisor: SupervisorConfig{
			RequestTimeoutMs: 30000,
			ReadyTimeoutMs:   30000,
			MaxRestarts:      3,
			RestartDelayMs:   1000,
		},
		Discovery: DiscoveryConfig{
			Roots: []string{"./plugins"},
		},
		Gateway: GatewayConfig{
			Address: "127.0.0.1:8090",
		},
		EventBus: EventBusConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Audit: AuditConfig{
			DatabasePath: "./data/audit.db",
		},
	}
}

// Load reads and parses the YAML configuration file at path, filling in
// any fields the file omits from Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.path = path

	return cfg, nil
}

// Save writes the configuration back to its source path as YAML.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:    c.Version,
		System:     c.System,
		Supervisor: c.Supervisor,
		Discovery:  c.Discovery,
		Gateway:    c.Gateway,
		EventBus:   c.EventBus,
		Audit:      c.Audit,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := "# collector-host configuration\n# auto-generated - manual edits are preserved across reloads\n\n"
	data = append([]byte(header), data...)

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmpPath, c.path)
}

// Watch starts watching the configuration file for writes, including its
// replacement by rename as Save does, debouncing and reloading on change.
// Registered OnChange callbacks fire after each reload.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(c.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(filepath.Dir(c.path))
}

// OnChange registers fn to run after every successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Supervisor = newCfg.Supervisor
	c.Discovery = newCfg.Discovery
	c.Gateway = newCfg.Gateway
	c.EventBus = newCfg.EventBus
	c.Audit = newCfg.Audit
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}

// RequestTimeout returns the supervisor request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Supervisor.RequestTimeoutMs) * time.Millisecond
}

// ReadyTimeout returns the supervisor readiness timeout as a Duration.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Supervisor.ReadyTimeoutMs) * time.Millisecond
}

// RestartDelay returns the supervisor restart delay as a Duration.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Supervisor.RestartDelayMs) * time.Millisecond
}

// SetPath overrides the path Save/Watch operate on.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the path this config was loaded from or last saved to.
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}
