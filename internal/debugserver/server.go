package debugserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/featureflag/internal/features"
	"github.com/vitaliisemenov/featureflag/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// websocketSubscriber adapts a single WebSocket connection to the
// Subscriber interface. Writes are serialized with a mutex since
// gorilla/websocket connections are not safe for concurrent writers.
type websocketSubscriber struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

func newWebsocketSubscriber(conn *websocket.Conn) *websocketSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &websocketSubscriber{id: uuid.NewString(), conn: conn, ctx: ctx, cancel: cancel}
}

func (s *websocketSubscriber) ID() string               { return s.id }
func (s *websocketSubscriber) Context() context.Context { return s.ctx }

func (s *websocketSubscriber) Send(change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(change)
}

func (s *websocketSubscriber) Close() error {
	s.cancel()
	return s.conn.Close()
}

// Server exposes the feature table's live change stream over
// WebSocket, plus a snapshot endpoint, a health check, and Prometheus
// metrics.
type Server struct {
	hub        *Hub
	table      *features.Table
	logger     *slog.Logger
	httpServer *http.Server
	listener   uuid.UUID
}

// New builds a debug server bound to table. It registers its own
// listener on table so every feature change is broadcast; call Close
// to unregister it and stop the hub.
func New(addr string, table *features.Table, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	hub := NewHub(log, nil)

	s := &Server{hub: hub, table: table, logger: log}
	s.listener = table.AddListener(func(feature string, value *string) {
		_ = hub.Publish(Change{Feature: feature, Value: value, Timestamp: time.Now()})
	})

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/snapshot", s.handleSnapshot)
	router.HandleFunc("/healthz", s.handleHealth)
	router.Handle("/metrics", promhttp.Handler())
	router.Use(logger.RequestLogger(log))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("debugserver: websocket upgrade failed", "error", err)
		return
	}

	sub := newWebsocketSubscriber(conn)
	s.hub.Subscribe(sub)

	// The connection is write-only from the server's perspective; a
	// read loop is still required so gorilla/websocket observes client
	// close frames and pings.
	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.table.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.ActiveSubscribers(),
	})
}

// ListenAndServe starts the hub's broadcast worker and the HTTP server.
// It blocks until the server stops; Close from another goroutine to
// shut it down.
func (s *Server) ListenAndServe() error {
	s.hub.Start(context.Background())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close unregisters the feature-table listener, stops the hub, and
// shuts down the HTTP server.
func (s *Server) Close(ctx context.Context) error {
	s.table.RemoveListener(s.listener)
	_ = s.hub.Stop(ctx)
	return s.httpServer.Shutdown(ctx)
}
