// Package gateway exposes an HTTP introspection API over a host's
// running supervisors: their state, their recent log lines, and a
// websocket stream of aggregated sensor batches as they are fetched.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/junctionrelay/collector-host/internal/logging"
)

// SupervisorView is the read-only surface the gateway needs from a
// running supervisor; internal/gateway does not import package
// supervisor directly so the two stay decoupled.
type SupervisorView interface {
	Name() string
	State() string
	GetLogs(n int) []logging.Entry
}

// Registry resolves supervisors by name for the gateway's routes. A host
// binary supplies the concrete implementation (typically a map guarded
// by a mutex, keyed by plugin name).
type Registry interface {
	List() []SupervisorView
	Get(name string) (SupervisorView, bool)
}

// Gateway is the introspection HTTP API plus websocket broadcaster.
type Gateway struct {
	registry Registry
	logger   *slog.Logger
	router   *chi.Mux

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]chan []byte
}

// New builds a Gateway backed by registry.
func New(registry Registry, allowedOrigins []string, logger *slog.Logger) *Gateway {
	gw := &Gateway{
		registry: registry,
		logger:   logger.With("component", "gateway"),
		clients:  make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	gw.setupRouter(allowedOrigins)
	return gw
}

func (gw *Gateway) setupRouter(allowedOrigins []string) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/supervisors", gw.listSupervisors)
	r.Get("/supervisors/{name}/logs", gw.supervisorLogs)
	r.Get("/stream", gw.stream)

	gw.router = r
}

// Handler returns the HTTP handler to mount or serve directly.
func (gw *Gateway) Handler() http.Handler { return gw.router }

type supervisorSummary struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

func (gw *Gateway) listSupervisors(w http.ResponseWriter, r *http.Request) {
	views := gw.registry.List()
	summaries := make([]supervisorSummary, 0, len(views))
	for _, v := range views {
		summaries = append(summaries, supervisorSummary{Name: v.Name(), State: v.State()})
	}
	gw.respondJSON(w, summaries)
}

func (gw *Gateway) supervisorLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	view, ok := gw.registry.Get(name)
	if !ok {
		gw.respondError(w, http.StatusNotFound, "supervisor not found: "+name)
		return
	}
	gw.respondJSON(w, view.GetLogs(200))
}

// stream upgrades to a websocket connection and forwards every message
// given to Broadcast until the client disconnects.
func (gw *Gateway) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, 64)
	gw.clientsMu.Lock()
	gw.clients[conn] = ch
	gw.clientsMu.Unlock()

	defer func() {
		gw.clientsMu.Lock()
		delete(gw.clients, conn)
		gw.clientsMu.Unlock()
		conn.Close()
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcast JSON-marshals v and sends it to every connected stream
// client, dropping the message for any client whose buffer is full
// rather than blocking the caller.
func (gw *Gateway) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		gw.logger.Error("failed to marshal broadcast payload", "error", err)
		return
	}

	gw.clientsMu.RLock()
	defer gw.clientsMu.RUnlock()
	for _, ch := range gw.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

func (gw *Gateway) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (gw *Gateway) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
