package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opslink/opslink/internal/events"
	"github.com/opslink/opslink/internal/infrastructure/redis"
	"github.com/opslink/opslink/internal/security"
	"github.com/opslink/opslink/internal/security/middleware"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

// StreamHandler upgrades /ws/events to a WebSocket and relays the caller's
// agency event channel to the socket. Browsers cannot set an Authorization
// header on the upgrade request, so the token rides in the query string.
type StreamHandler struct {
	redis          *redis.Client
	logger         *slog.Logger
	allowedOrigins []string
}

// NewStreamHandler creates a new event stream handler
func NewStreamHandler(redisClient *redis.Client, allowedOrigins []string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		redis:          redisClient,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

// upgrader is initialized per-request to use instance's allowed origins
func (h *StreamHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no origin
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/events
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if err := security.Authorize(identity); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if h.redis == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ctx := r.Context()
	sub := h.redis.Subscribe(ctx, events.Channel(identity.AgencyID))
	defer sub.Close()

	h.logger.Info("event stream opened",
		slog.String("agency_id", identity.AgencyID),
		slog.String("user_id", identity.UserID),
	)

	// Reader goroutine: consume control frames and detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(maxMessageSize)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
