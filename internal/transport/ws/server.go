package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
)

// Handler receives connection lifecycle callbacks and decoded inbound events.
type Handler interface {
	// Connected is invoked once per accepted connection, before any events.
	Connected(connID, token string)
	// HandleEvent is invoked for every well-formed inbound envelope.
	HandleEvent(connID string, env Envelope)
	// Disconnected is invoked exactly once when the connection is gone.
	Disconnected(connID string)
}

type errorPayload struct {
	Message string `json:"message"`
}

// Server accepts websocket connections and runs their read loops.
type Server struct {
	cfg     config.ServerConfig
	hub     *Hub
	handler Handler
	logger  *zap.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a websocket server delivering events to handler.
//
// Precondition: hub, handler, and logger must be non-nil.
func NewServer(cfg config.ServerConfig, hub *Hub, handler Handler, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced upstream by the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens for connections and blocks until Stop is called.
//
// Postcondition: Returns nil on graceful shutdown, otherwise the listen error.
func (s *Server) Start() error {
	s.logger.Info("websocket server listening",
		zap.String("addr", s.cfg.Addr()),
	)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting up to the configured shutdown timeout
// for in-flight handlers.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("websocket server shutdown", zap.Error(err))
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	connID := uuid.NewString()
	s.hub.Register(connID, conn)
	s.handler.Connected(connID, r.URL.Query().Get("token"))

	s.logger.Info("connection accepted",
		zap.String("conn_id", connID),
		zap.String("remote", r.RemoteAddr),
	)

	s.readLoop(connID, conn)
}

// readLoop pumps inbound frames until the connection drops. It owns the
// connection's close and the disconnect callback.
func (s *Server) readLoop(connID string, conn *websocket.Conn) {
	start := time.Now()
	defer func() {
		s.hub.Unregister(connID)
		_ = conn.Close()
		s.handler.Disconnected(connID)
		s.logger.Info("connection closed",
			zap.String("conn_id", connID),
			zap.Duration("connected", time.Since(start)),
		)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("unexpected connection close",
					zap.String("conn_id", connID),
					zap.Error(err),
				)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			s.hub.Send(connID, "error", errorPayload{Message: "malformed message"})
			continue
		}

		s.handler.HandleEvent(connID, env)
	}
}
