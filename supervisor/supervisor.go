// Package supervisor owns one plugin's child process: it spawns the
// process described by a discovered plugin descriptor, multiplexes
// request/response envelopes over its stdio pipes, forwards its stderr to
// a log callback and ring buffer, and restarts it a bounded number of
// times across unexpected exits, replaying the last configuration onto
// the fresh child. See §4.C.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/junctionrelay/collector-host/internal/logging"
	"github.com/junctionrelay/collector-host/protocol"
)

// State is the supervisor's position in the crash-recovery state machine.
type State int

const (
	StateIdle State = iota
	StateSpawning
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateReady:
		return "ready"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrNotRunning is returned by send() and its typed wrappers whenever
	// the supervisor is not Ready: after Stop, after the restart limit is
	// reached, and while a respawn is in progress.
	ErrNotRunning = errors.New("Plugin process not running")
)

type pendingRequest struct {
	ch    chan *protocol.Response
	timer *time.Timer
}

// Supervisor drives one plugin's child process across its lifetime.
// Construct with New, then call Start.
type Supervisor struct {
	plugin protocol.Plugin
	opts   Options
	logger *slog.Logger
	logs   *logging.RingBuffer

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	nextID       int64
	pending      map[interface{}]*pendingRequest
	restartCount int
	lastConfig   *protocol.ConfigureParams
	stopped      bool
	generation   string
	doneCh       chan struct{}
}

// New creates a Supervisor for the given plugin descriptor.
func New(plugin protocol.Plugin, opts ...Option) *Supervisor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Supervisor{
		plugin:  plugin,
		opts:    o,
		logger:  o.Logger.With("component", "supervisor", "plugin", plugin.Name),
		logs:    logging.NewRingBuffer(1000),
		state:   StateIdle,
		pending: make(map[interface{}]*pendingRequest),
	}
}

// Name returns the plugin name this supervisor owns.
func (s *Supervisor) Name() string { return s.plugin.Name }

// State reports the supervisor's current position in the state machine.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetLogs returns up to n of the most recently seen stderr lines.
func (s *Supervisor) GetLogs(n int) []logging.Entry {
	return s.logs.GetRecent(n)
}

// Start spawns the child and waits for its readiness line, per the spawn
// algorithm in §4.C. It returns once the child is Ready, or with an error
// if spawning or the readiness wait fails.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("supervisor for %s already started", s.plugin.Name)
	}
	s.state = StateSpawning
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	return nil
}

// spawn resolves the launch command, starts the child process, attaches
// its stdio pipes, and blocks until the readiness line arrives or
// opts.ReadyTimeout elapses.
func (s *Supervisor) spawn(ctx context.Context) error {
	command, args, err := s.opts.Resolver(s.plugin)
	if err != nil {
		return fmt.Errorf("resolving launch command for %s: %w", s.plugin.Name, err)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = s.plugin.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.plugin.Name, err)
	}

	generation := uuid.NewString()
	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.generation = generation
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	readyCh := make(chan struct{}, 1)
	go s.readStderr(stderr, readyCh)
	go s.readStdout(stdout)
	go s.monitor(cmd, generation)

	select {
	case <-readyCh:
		return nil
	case <-time.After(s.opts.ReadyTimeout):
		_ = cmd.Process.Kill()
		return fmt.Errorf("Timeout waiting for plugin ready: %s", s.plugin.Name)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}
}

// readStderr tags and forwards every stderr line to the log callback and
// ring buffer. The first line is also the readiness signal.
func (s *Supervisor) readStderr(r io.Reader, readyCh chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		tagged := fmt.Sprintf("[%s] %s", s.plugin.Name, line)

		s.logs.Add(logging.Entry{Time: time.Now().UnixNano(), Plugin: s.plugin.Name, Line: line})
		if s.opts.Callbacks.OnLog != nil {
			s.opts.Callbacks.OnLog(tagged)
		}

		if first {
			first = false
			select {
			case readyCh <- struct{}{}:
			default:
			}
		}
	}
}

// readStdout parses each line as a response envelope and resolves or
// rejects the matching pending request. Unparseable lines are logged and
// discarded; they do not crash the supervisor.
func (s *Supervisor) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			s.logger.Warn("discarding unparseable response line", "line", line, "error", err)
			continue
		}

		s.mu.Lock()
		pr, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			continue
		}
		pr.timer.Stop()
		pr.ch <- &resp
	}
}

// monitor waits for the child to exit, rejects all pending requests, and
// runs the restart policy described in §4.C.
func (s *Supervisor) monitor(cmd *exec.Cmd, generation string) {
	waitErr := cmd.Wait()

	s.mu.Lock()
	if s.generation != generation {
		// superseded by a later spawn; nothing to do
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[interface{}]*pendingRequest)
	done := s.doneCh
	wasStopped := s.stopped
	if !wasStopped {
		s.state = StateSpawning
	}
	s.mu.Unlock()

	exitErr := fmt.Errorf("Plugin process exited with code %d", exitCode(waitErr))
	for _, pr := range pending {
		pr.timer.Stop()
		pr.ch <- protocol.ErrorFromErr(nil, exitErr)
	}

	if s.opts.Callbacks.OnExit != nil {
		s.opts.Callbacks.OnExit(exitErr)
	}

	close(done)

	if wasStopped {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.restartCount++
	attempt := s.restartCount
	exceeded := attempt > s.opts.MaxRestarts
	s.mu.Unlock()

	if exceeded {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		if s.opts.Callbacks.OnMaxRestartsExceeded != nil {
			s.opts.Callbacks.OnMaxRestartsExceeded()
		}
		return
	}

	s.mu.Lock()
	s.state = StateSpawning
	s.mu.Unlock()
	if s.opts.Callbacks.OnRestart != nil {
		s.opts.Callbacks.OnRestart(attempt)
	}

	time.Sleep(s.opts.RestartDelay)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ReadyTimeout)
	defer cancel()
	if err := s.spawn(ctx); err != nil {
		s.logger.Error("respawn failed, abandoning", "attempt", attempt, "error", err)
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.state = StateReady
	lastConfig := s.lastConfig
	s.mu.Unlock()

	if lastConfig != nil {
		replayCtx, replayCancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer replayCancel()
		if _, err := s.Configure(replayCtx, *lastConfig); err != nil {
			s.logger.Error("configure replay failed after restart, abandoning", "attempt", attempt, "error", err)
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// send allocates an id, registers the pending entry, writes the envelope
// to the child's stdin, and blocks until a response arrives, the timer
// expires, or ctx is cancelled.
func (s *Supervisor) send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	if s.stopped || s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	id := atomic.AddInt64(&s.nextID, 1)
	stdin := s.stdin
	s.mu.Unlock()

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params for %s: %w", method, err)
		}
		rawParams = data
	}

	req := protocol.Request{JSONRPC: protocol.Version, Method: method, Params: rawParams, ID: float64(id)}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request %s: %w", method, err)
	}
	data = append(data, '\n')

	pr := &pendingRequest{ch: make(chan *protocol.Response, 1)}
	pr.timer = time.AfterFunc(s.opts.RequestTimeout, func() {
		s.mu.Lock()
		_, ok := s.pending[float64(id)]
		if ok {
			delete(s.pending, float64(id))
		}
		s.mu.Unlock()
		if ok {
			pr.ch <- protocol.NewError(float64(id), protocol.CodeServerError,
				fmt.Sprintf("Request timed out after %dms: %s", s.opts.RequestTimeout.Milliseconds(), method), nil)
		}
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		pr.timer.Stop()
		return nil, ErrNotRunning
	}
	s.pending[float64(id)] = pr
	s.mu.Unlock()

	if _, err := stdin.Write(data); err != nil {
		s.mu.Lock()
		delete(s.pending, float64(id))
		s.mu.Unlock()
		pr.timer.Stop()
		return nil, fmt.Errorf("Plugin process not running: %w", err)
	}

	select {
	case resp := <-pr.ch:
		if resp.Error != nil {
			return nil, errors.New(resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMetadata calls getMetadata.
func (s *Supervisor) GetMetadata(ctx context.Context) (*protocol.CollectorMetadata, error) {
	raw, err := s.send(ctx, protocol.MethodGetMetadata, nil)
	if err != nil {
		return nil, err
	}
	var meta protocol.CollectorMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return &meta, nil
}

// Configure calls configure, and on success stores params for replay
// after a future restart.
func (s *Supervisor) Configure(ctx context.Context, params protocol.ConfigureParams) (json.RawMessage, error) {
	raw, err := s.send(ctx, protocol.MethodConfigure, params)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastConfig = &params
	s.mu.Unlock()
	return raw, nil
}

// TestConnection calls testConnection.
func (s *Supervisor) TestConnection(ctx context.Context) (json.RawMessage, error) {
	return s.send(ctx, protocol.MethodTestConnection, nil)
}

// FetchSensors calls fetchSensors.
func (s *Supervisor) FetchSensors(ctx context.Context) ([]protocol.SensorRecord, error) {
	raw, err := s.send(ctx, protocol.MethodFetchSensors, nil)
	if err != nil {
		return nil, err
	}
	return unmarshalSensors(raw)
}

// FetchSelectedSensors calls fetchSelectedSensors with the given ids.
func (s *Supervisor) FetchSelectedSensors(ctx context.Context, sensorIDs []string) ([]protocol.SensorRecord, error) {
	raw, err := s.send(ctx, protocol.MethodFetchSelectedSensors, map[string]interface{}{"sensorIds": sensorIDs})
	if err != nil {
		return nil, err
	}
	return unmarshalSensors(raw)
}

// StartSession calls startSession.
func (s *Supervisor) StartSession(ctx context.Context) (json.RawMessage, error) {
	return s.send(ctx, protocol.MethodStartSession, nil)
}

// StopSession calls stopSession.
func (s *Supervisor) StopSession(ctx context.Context) (json.RawMessage, error) {
	return s.send(ctx, protocol.MethodStopSession, nil)
}

// HealthCheck calls healthCheck.
func (s *Supervisor) HealthCheck(ctx context.Context) (healthy bool, uptime float64, err error) {
	raw, err := s.send(ctx, protocol.MethodHealthCheck, nil)
	if err != nil {
		return false, 0, err
	}
	var result struct {
		Healthy bool    `json:"healthy"`
		Uptime  float64 `json:"uptime"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, 0, fmt.Errorf("unmarshaling health check: %w", err)
	}
	return result.Healthy, result.Uptime, nil
}

func unmarshalSensors(raw json.RawMessage) ([]protocol.SensorRecord, error) {
	var result struct {
		Sensors []protocol.SensorRecord `json:"sensors"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling sensors: %w", err)
	}
	return result.Sensors, nil
}

// Stop sets the stopped flag, cancels pending timers via the exit path,
// closes the child's stdin, and signals it to terminate. It waits briefly
// for the monitor goroutine to observe the exit before returning.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cmd := s.cmd
	stdin := s.stdin
	done := s.doneCh
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return ctx.Err()
	}
}
