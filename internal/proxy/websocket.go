package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/imei-registry/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Endpoints resolves a session token to its browser's DevTools URL
type Endpoints interface {
	DebugURL(id string) (string, bool)
}

// Server relays a client WebSocket to the CDP endpoint of a session's browser
type Server struct {
	endpoints   Endpoints
	logger      *zap.Logger
	dialTimeout time.Duration
}

func NewServer(endpoints Endpoints, logger *zap.Logger) *Server {
	return &Server{
		endpoints:   endpoints,
		logger:      logger,
		dialTimeout: 10 * time.Second,
	}
}

func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request, sessionID string) {
	log := s.logger.With(logging.SessionField(sessionID))

	chromeURL, ok := s.endpoints.DebugURL(sessionID)
	if !ok {
		http.Error(w, "Session not found or has no debug endpoint", http.StatusNotFound)
		return
	}

	// Dial Chrome first so a dead browser is reported as a plain HTTP error
	ctx, cancel := context.WithTimeout(r.Context(), s.dialTimeout)
	defer cancel()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, chromeURL, nil)
	if err != nil {
		log.Warn("Failed to connect to Chrome", zap.Error(err))
		http.Error(w, "Browser debug endpoint unavailable", http.StatusBadGateway)
		return
	}
	defer chromeConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer clientConn.Close()

	log.Info("Debug client connected")

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.proxyMessages(log, clientConn, chromeConn, "client->chrome")
	}()

	go func() {
		errChan <- s.proxyMessages(log, chromeConn, clientConn, "chrome->client")
	}()

	// Wait for either direction to close
	err = <-errChan
	if err != nil && !isClosed(err) {
		log.Warn("Proxy error", zap.Error(err))
	}

	log.Info("Debug client disconnected")
}

func (s *Server) proxyMessages(log *zap.Logger, src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			log.Debug("Failed to write message", zap.String("direction", direction), zap.Error(err))
			return err
		}
	}
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}
