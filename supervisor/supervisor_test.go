package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/junctionrelay/collector-host/protocol"
)

// buildFixture compiles cmd/samplecollector into a temp binary once per
// test run and returns its path. Building a real child process exercises
// the supervisor against actual stdio pipes and process exit codes
// instead of an in-process substitute, matching the restart-with-replay
// scenario's requirement of a plugin that really terminates.
func buildFixture(t *testing.T) string {
	t.Helper()

	repoRoot, err := filepath.Abs("..")
	if err != nil {
		t.Fatalf("resolving repo root: %v", err)
	}

	binPath := filepath.Join(t.TempDir(), "samplecollector")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/samplecollector")
	cmd.Dir = repoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("building samplecollector fixture: %v\n%s", err, out)
	}
	return binPath
}

func resolverFor(binPath string) LaunchResolver {
	return func(plugin protocol.Plugin) (string, []string, error) {
		return binPath, nil, nil
	}
}

func newFixturePlugin(dir string) protocol.Plugin {
	return protocol.Plugin{Name: "samplecollector", Version: "0.0.0", Path: dir, Entry: "samplecollector"}
}

func TestStartAndFetchSensors(t *testing.T) {
	binPath := buildFixture(t)
	plugin := newFixturePlugin(t.TempDir())

	sup := New(plugin, WithLaunchResolver(resolverFor(binPath)), WithReadyTimeout(15*time.Second))
	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop(context.Background())

	sensors, err := sup.FetchSensors(ctx)
	if err != nil {
		t.Fatalf("FetchSensors() error = %v", err)
	}
	if len(sensors) != 1 || sensors[0].UniqueSensorKey != "time-of-day" {
		t.Errorf("FetchSensors() = %+v, want one time-of-day sensor", sensors)
	}
}

func TestStopRejectsSubsequentSends(t *testing.T) {
	binPath := buildFixture(t)
	plugin := newFixturePlugin(t.TempDir())

	sup := New(plugin, WithLaunchResolver(resolverFor(binPath)), WithReadyTimeout(15*time.Second))
	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := sup.FetchSensors(ctx); err != ErrNotRunning {
		t.Errorf("FetchSensors() after Stop() error = %v, want %v", err, ErrNotRunning)
	}
}

func TestRestartWithConfigureReplay(t *testing.T) {
	binPath := buildFixture(t)
	plugin := newFixturePlugin(t.TempDir())

	var mu sync.Mutex
	var restarts int
	var exits int

	sup := New(plugin,
		WithLaunchResolver(func(protocol.Plugin) (string, []string, error) {
			return binPath, nil, nil
		}),
		WithReadyTimeout(15*time.Second),
		WithRestartDelay(10*time.Millisecond),
		WithCallbacks(Callbacks{
			OnRestart: func(attempt int) { mu.Lock(); restarts++; mu.Unlock() },
			OnExit:    func(err error) { mu.Lock(); exits++; mu.Unlock() },
		}),
	)

	// The fixture crashes on its third fetchSensors call.
	ctx := context.Background()
	os.Setenv("SAMPLECOLLECTOR_CRASH_AFTER", "3")
	defer os.Unsetenv("SAMPLECOLLECTOR_CRASH_AFTER")

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sup.Stop(context.Background())

	if _, err := sup.Configure(ctx, protocol.ConfigureParams{CollectorID: 42}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := sup.FetchSensors(ctx); err != nil {
			t.Fatalf("FetchSensors() call %d error = %v", i, err)
		}
	}

	// The third call crashes the child; the in-flight request is rejected
	// with a process-exit error rather than succeeding.
	_, _ = sup.FetchSensors(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sup.State() == StateReady {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sup.State() != StateReady {
		t.Fatalf("supervisor did not return to Ready after restart, state = %v", sup.State())
	}

	mu.Lock()
	gotRestarts, gotExits := restarts, exits
	mu.Unlock()
	if gotRestarts != 1 {
		t.Errorf("restarts = %d, want 1", gotRestarts)
	}
	if gotExits != 1 {
		t.Errorf("exits = %d, want 1", gotExits)
	}

	sensors, err := sup.FetchSensors(ctx)
	if err != nil {
		t.Fatalf("FetchSensors() after restart error = %v", err)
	}
	if len(sensors) != 1 {
		t.Errorf("FetchSensors() after restart = %+v, want one sensor", sensors)
	}
}
