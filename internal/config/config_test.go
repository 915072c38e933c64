package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
version: "1"
system:
  name: "Test Host"
  log_level: "debug"
supervisor:
  request_timeout_ms: 15000
  max_restarts: 5
discovery:
  roots:
    - ./plugins
    - ./vendor-plugins
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.System.Name != "Test Host" {
		t.Errorf("Name = %q, want %q", cfg.System.Name, "Test Host")
	}
	if cfg.Supervisor.RequestTimeoutMs != 15000 {
		t.Errorf("RequestTimeoutMs = %d, want 15000", cfg.Supervisor.RequestTimeoutMs)
	}
	if cfg.Supervisor.MaxRestarts != 5 {
		t.Errorf("MaxRestarts = %d, want 5", cfg.Supervisor.MaxRestarts)
	}
	if len(cfg.Discovery.Roots) != 2 || cfg.Discovery.Roots[1] != "./vendor-plugins" {
		t.Errorf("Roots = %+v", cfg.Discovery.Roots)
	}
	// Fields the file omits fall back to Default().
	if cfg.Supervisor.ReadyTimeoutMs != 30000 {
		t.Errorf("ReadyTimeoutMs = %d, want default 30000", cfg.Supervisor.ReadyTimeoutMs)
	}
}

func TestLoadNonExistent(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error when loading non-existent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := Default()
	cfg.SetPath(configPath)
	cfg.System.Name = "Saved Host"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() after Save() error = %v", err)
	}
	if reloaded.System.Name != "Saved Host" {
		t.Errorf("System.Name = %q, want %q", reloaded.System.Name, "Saved Host")
	}
}

func TestGetPath(t *testing.T) {
	cfg := Default()
	cfg.SetPath("/some/path.yaml")
	if cfg.GetPath() != "/some/path.yaml" {
		t.Errorf("GetPath() = %q", cfg.GetPath())
	}
}

func TestOnChangeFiresAfterWatchedWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	cfg := Default()
	cfg.SetPath(configPath)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := cfg.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	fired := make(chan struct{}, 1)
	cfg.OnChange(func(c *Config) { fired <- struct{}{} })

	cfg.System.Name = "Changed Host"
	if err := cfg.Save(); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange callback did not fire after watched write")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.Supervisor.RequestTimeoutMs = 15000
	cfg.Supervisor.ReadyTimeoutMs = 20000
	cfg.Supervisor.RestartDelayMs = 500

	if cfg.RequestTimeout() != 15*time.Second {
		t.Errorf("RequestTimeout() = %v", cfg.RequestTimeout())
	}
	if cfg.ReadyTimeout() != 20*time.Second {
		t.Errorf("ReadyTimeout() = %v", cfg.ReadyTimeout())
	}
	if cfg.RestartDelay() != 500*time.Millisecond {
		t.Errorf("RestartDelay() = %v", cfg.RestartDelay())
	}
}
