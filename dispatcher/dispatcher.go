// Package dispatcher implements the plugin side of the collector protocol:
// a loop that reads framed JSON-RPC requests from standard input, routes
// them to user-supplied handlers, and writes framed responses to standard
// output, per spec §4.B.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/junctionrelay/collector-host/protocol"
)

// Handlers is the open handler set a plugin supplies. Every field is
// optional; an absent handler falls back to the default behavior
// described in §4.B for its method.
type Handlers struct {
	Configure            func(ctx context.Context, params protocol.ConfigureParams) (interface{}, error)
	FetchSensors         func(ctx context.Context, config protocol.ConfigureParams) ([]protocol.SensorRecord, error)
	FetchSelectedSensors func(ctx context.Context, config protocol.ConfigureParams, sensorIDs []string) ([]protocol.SensorRecord, error)
	TestConnection       func(ctx context.Context, config protocol.ConfigureParams) (interface{}, error)
	StartSession         func(ctx context.Context, config protocol.ConfigureParams) (interface{}, error)
	StopSession          func(ctx context.Context, config protocol.ConfigureParams) (interface{}, error)
}

// Config describes a dispatcher instance: the metadata it reports from
// getMetadata, and its handler set.
type Config struct {
	Metadata protocol.CollectorMetadata
	Handlers Handlers
}

// Dispatcher runs the plugin-side request loop. Construct with New and
// call Run.
type Dispatcher struct {
	cfg       Config
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	startedAt time.Time

	mu        sync.Mutex
	current   protocol.ConfigureParams
	hasConfig bool
}

// Option customizes a Dispatcher, primarily for tests that substitute the
// standard streams with in-memory pipes.
type Option func(*Dispatcher)

// WithStdin overrides the stream requests are read from (default os.Stdin).
func WithStdin(r io.Reader) Option {
	return func(d *Dispatcher) { d.stdin = r }
}

// WithStdout overrides the stream responses are written to (default os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(d *Dispatcher) { d.stdout = w }
}

// WithStderr overrides the stream the readiness token and logs are written
// to (default os.Stderr).
func WithStderr(w io.Writer) Option {
	return func(d *Dispatcher) { d.stderr = w }
}

// New creates a Dispatcher for the given configuration.
func New(cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run emits the readiness token, then reads framed requests until stdin
// closes or ctx is cancelled, dispatching each to a handler and writing
// exactly one framed response per request line (§4.B, §8).
func (d *Dispatcher) Run(ctx context.Context) error {
	d.startedAt = time.Now()

	if _, err := fmt.Fprintf(d.stderr, "[plugin] %s ready\n", d.cfg.Metadata.DisplayName); err != nil {
		return fmt.Errorf("failed to emit readiness token: %w", err)
	}

	scanner := bufio.NewScanner(d.stdin)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if line == "" {
				continue
			}
			resp := d.handleLine(ctx, line)
			if err := d.writeResponse(resp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

func (d *Dispatcher) writeResponse(resp *protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	data = append(data, '\n')
	_, err = d.stdout.Write(data)
	return err
}

// handleLine decodes one request line and routes it. It never panics or
// returns an error itself — every failure is mapped to an error envelope,
// per §7's propagation policy.
func (d *Dispatcher) handleLine(ctx context.Context, line string) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = protocol.NewError(requestID(line), protocol.CodeServerError, fmt.Sprintf("panic in handler: %v", r), nil)
		}
	}()

	var req protocol.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return protocol.ParseErrorResponse()
	}
	if err := req.Validate(); err != nil {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, err.Error(), nil)
	}

	return d.route(ctx, &req)
}

// requestID best-effort recovers an id from a line that failed full
// decoding; returns 0 when nothing usable is found, matching the
// parse-error envelope shape in §3.
func requestID(line string) interface{} {
	var partial struct {
		ID interface{} `json:"id"`
	}
	if err := json.Unmarshal([]byte(line), &partial); err != nil {
		return 0
	}
	if partial.ID == nil {
		return 0
	}
	return partial.ID
}

func (d *Dispatcher) route(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodGetMetadata:
		return d.result(req.ID, d.cfg.Metadata)

	case protocol.MethodConfigure:
		var params protocol.ConfigureParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return protocol.NewError(req.ID, protocol.CodeInvalidParams, err.Error(), nil)
			}
		}
		if params.DecimalPlaces != nil {
			clamped := protocol.ClampDecimalPlaces(*params.DecimalPlaces)
			params.DecimalPlaces = &clamped
		}
		d.setConfig(params)

		if d.cfg.Handlers.Configure != nil {
			result, err := d.cfg.Handlers.Configure(ctx, params)
			if err != nil {
				return protocol.ErrorFromErr(req.ID, err)
			}
			return d.result(req.ID, result)
		}
		return d.result(req.ID, map[string]bool{"success": true})

	case protocol.MethodFetchSensors:
		if d.cfg.Handlers.FetchSensors == nil {
			return d.result(req.ID, map[string]interface{}{"sensors": []protocol.SensorRecord{}})
		}
		sensors, err := d.cfg.Handlers.FetchSensors(ctx, d.config())
		if err != nil {
			return protocol.ErrorFromErr(req.ID, err)
		}
		protocol.SanitizeSensorRecords(sensors)
		return d.result(req.ID, map[string]interface{}{"sensors": sensors})

	case protocol.MethodFetchSelectedSensors:
		return d.handleFetchSelectedSensors(ctx, req)

	case protocol.MethodTestConnection:
		return d.handleOptional(ctx, req, d.cfg.Handlers.TestConnection)

	case protocol.MethodStartSession:
		return d.handleOptional(ctx, req, d.cfg.Handlers.StartSession)

	case protocol.MethodStopSession:
		return d.handleOptional(ctx, req, d.cfg.Handlers.StopSession)

	case protocol.MethodHealthCheck:
		return d.result(req.ID, map[string]interface{}{
			"healthy": true,
			"uptime":  time.Since(d.startedAt).Seconds(),
		})

	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}
}

// handleFetchSelectedSensors implements the automatic fallback described
// in §4.B and §9: when no dedicated handler exists, it calls fetchSensors
// and filters the result by the requested sensorIds.
func (d *Dispatcher) handleFetchSelectedSensors(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		SensorIDs []string `json:"sensorIds"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidParams, err.Error(), nil)
		}
	}

	if d.cfg.Handlers.FetchSelectedSensors != nil {
		sensors, err := d.cfg.Handlers.FetchSelectedSensors(ctx, d.config(), params.SensorIDs)
		if err != nil {
			return protocol.ErrorFromErr(req.ID, err)
		}
		protocol.SanitizeSensorRecords(sensors)
		return d.result(req.ID, map[string]interface{}{"sensors": sensors})
	}

	if d.cfg.Handlers.FetchSensors == nil {
		return d.result(req.ID, map[string]interface{}{"sensors": []protocol.SensorRecord{}})
	}

	all, err := d.cfg.Handlers.FetchSensors(ctx, d.config())
	if err != nil {
		return protocol.ErrorFromErr(req.ID, err)
	}
	protocol.SanitizeSensorRecords(all)
	selected := protocol.FilterSelected(all, params.SensorIDs)
	return d.result(req.ID, map[string]interface{}{"sensors": selected})
}

func (d *Dispatcher) handleOptional(ctx context.Context, req *protocol.Request, handler func(context.Context, protocol.ConfigureParams) (interface{}, error)) *protocol.Response {
	if handler == nil {
		return d.result(req.ID, map[string]bool{"success": true})
	}
	result, err := handler(ctx, d.config())
	if err != nil {
		return protocol.ErrorFromErr(req.ID, err)
	}
	return d.result(req.ID, result)
}

func (d *Dispatcher) result(id interface{}, v interface{}) *protocol.Response {
	resp, err := protocol.NewResult(id, v)
	if err != nil {
		return protocol.NewError(id, protocol.CodeInternalError, err.Error(), nil)
	}
	return resp
}

func (d *Dispatcher) setConfig(params protocol.ConfigureParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = params
	d.hasConfig = true
}

func (d *Dispatcher) config() protocol.ConfigureParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
