// Package eventbus provides pub/sub messaging between the host and
// anything observing it, over an embedded NATS server. The supervisor
// package stays decoupled from NATS entirely; a host wires its
// lifecycle callbacks (onRestart, onExit, onMaxRestartsExceeded) to the
// Publish* helpers here, and wires sensor batches from fetchSensors to
// PublishSensorBatch.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/junctionrelay/collector-host/protocol"
)

// DefaultPort is the embedded bus's preferred NATS port. It is an
// internal port, not the conventional 4222, since the host is expected
// to run alongside an unrelated NATS deployment.
const DefaultPort = 14222

// EventBus is an embedded NATS server plus client connection.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// Config configures the event bus.
type Config struct {
	Host string
	Port int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: DefaultPort}
}

// New starts an embedded NATS server and connects a client to it. If
// cfg.Port is already taken, an available port is found automatically.
func New(cfg Config, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	actualPort, err := reserveOrFind(cfg.Host, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate event bus port: %w", err)
	}
	if actualPort != cfg.Port {
		logger.Info("event bus port conflict detected, using alternative", "preferred", cfg.Port, "actual", actualPort)
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   actualPort,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("event bus not ready after 2 seconds (port %d)", actualPort)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded event bus: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}
	eb.logger.Info("event bus started", "url", ns.ClientURL())

	return eb, nil
}

// reserveOrFind tries port, falling back to an OS-assigned ephemeral port
// if it is taken. The host's event bus is single-instance, so the
// multi-service reservation bookkeeping a larger port manager would need
// isn't warranted here.
func reserveOrFind(host string, port int) (int, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	if ln, err := net.Listen("tcp", addr); err == nil {
		ln.Close()
		return port, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return 0, fmt.Errorf("no available port on %s: %w", host, err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Conn returns the underlying NATS connection for advanced use.
func (eb *EventBus) Conn() *nats.Conn { return eb.conn }

// ClientURL returns the URL clients use to connect to this bus.
func (eb *EventBus) ClientURL() string { return eb.server.ClientURL() }

// Publish JSON-marshals data and publishes it to subject.
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for %s: %w", subject, err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes handler to subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()
	return sub, nil
}

// Unsubscribe removes every subscription registered for subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()
	for _, sub := range eb.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(eb.subs, subject)
}

// Stop drains the client connection and shuts down the embedded server.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("event bus stopped")
}

// HealthCheck reports whether the bus connection is still active.
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("event bus connection not active")
	}
	return nil
}

// Subjects a host publishes supervisor lifecycle and sensor events to.
const (
	SubjectSupervisorRestarted    = "supervisors.lifecycle.restarted"
	SubjectSupervisorExited       = "supervisors.lifecycle.exited"
	SubjectSupervisorMaxRestarted = "supervisors.lifecycle.max_restarts_exceeded"
	SubjectSensorBatch            = "sensors.batch"
)

// SupervisorLifecycleEvent is published on restart/exit/give-up.
type SupervisorLifecycleEvent struct {
	Plugin    string    `json:"plugin"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// PublishRestart publishes a supervisor restart attempt.
func (eb *EventBus) PublishRestart(plugin string, attempt int) error {
	return eb.Publish(SubjectSupervisorRestarted, SupervisorLifecycleEvent{
		Plugin: plugin, Event: "restarted", Timestamp: time.Now(), Attempt: attempt,
	})
}

// PublishExit publishes a supervisor's child-exit event.
func (eb *EventBus) PublishExit(plugin string, exitErr error) error {
	msg := ""
	if exitErr != nil {
		msg = exitErr.Error()
	}
	return eb.Publish(SubjectSupervisorExited, SupervisorLifecycleEvent{
		Plugin: plugin, Event: "exited", Timestamp: time.Now(), Error: msg,
	})
}

// PublishMaxRestartsExceeded publishes that a supervisor has given up.
func (eb *EventBus) PublishMaxRestartsExceeded(plugin string) error {
	return eb.Publish(SubjectSupervisorMaxRestarted, SupervisorLifecycleEvent{
		Plugin: plugin, Event: "max_restarts_exceeded", Timestamp: time.Now(),
	})
}

// SensorBatch is a named plugin's fetchSensors result, published for
// downstream consumers (also forwarded over the gateway's websocket).
type SensorBatch struct {
	Plugin    string                   `json:"plugin"`
	Timestamp time.Time                `json:"timestamp"`
	Sensors   []protocol.SensorRecord  `json:"sensors"`
}

// PublishSensorBatch publishes a plugin's latest fetchSensors result.
func (eb *EventBus) PublishSensorBatch(plugin string, sensors []protocol.SensorRecord) error {
	return eb.Publish(SubjectSensorBatch, SensorBatch{
		Plugin: plugin, Timestamp: time.Now(), Sensors: sensors,
	})
}
