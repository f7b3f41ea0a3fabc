package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/calmify/wellness-backend/server/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadLimit    = 10 * 1024 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
)

type WebSocketHandler struct {
	service  EmotionService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

type ClientMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      any    `json:"data"`
}

// wsSession serializes writes; gorilla connections allow one writer.
type wsSession struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	frames   sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func (s *wsSession) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func NewWebSocketHandler(service EmotionService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 || contains(allowedOrigins, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return contains(allowedOrigins, origin)
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	session := &wsSession{
		id:     uuid.NewString(),
		conn:   conn,
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	defer session.frames.Wait()
	defer session.close()

	clientIP := c.ClientIP()
	h.logger.Info("WebSocket client connected",
		zap.String("client_ip", clientIP),
		zap.String("session_id", session.id))

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	h.sendMessage(session, "connected", map[string]any{"timestamp": time.Now().Unix()})

	go h.pingRoutine(session)

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("session_id", session.id), zap.Error(err))
			}
			h.logger.Info("WebSocket client disconnected", zap.String("session_id", session.id))
			return
		}
		h.handleMessage(session, clientIP, &message)
	}
}

func (h *WebSocketHandler) handleMessage(session *wsSession, clientIP string, message *ClientMessage) {
	switch message.Type {
	case "frame":
		h.processFrame(session, clientIP, message)
	case "ping":
		h.sendMessage(session, "pong", map[string]any{"timestamp": time.Now().Unix()})
	case "trend":
		trend, err := h.service.Trend()
		if err != nil {
			h.logger.Error("Failed to analyze stress trend", zap.Error(err))
			h.sendError(session, "Failed to analyze stress trend")
			return
		}
		h.sendMessage(session, "trend", models.TrendResponse{Trend: trend, NoRecords: trend.Empty()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(session, "Unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) processFrame(session *wsSession, clientIP string, message *ClientMessage) {
	imageData, err := extractImageData(message.Data)
	if err != nil {
		h.sendError(session, "Invalid image data")
		return
	}

	request := &models.EmotionRequest{
		ImageData: imageData,
		Timestamp: message.Timestamp,
		ClientID:  clientIP + "/" + session.id,
	}

	session.frames.Add(1)
	go func() {
		defer session.frames.Done()

		start := time.Now()
		result, err := h.service.Process(session.ctx, request)
		if err != nil {
			if session.ctx.Err() != nil {
				return
			}
			_, msg := emotionErrorStatus(err)
			h.sendError(session, msg)
			return
		}

		h.sendMessage(session, "emotion", models.NewEmotionResponse(result, time.Since(start)))
	}()
}

func (h *WebSocketHandler) sendMessage(session *wsSession, messageType string, data any) {
	session.writeMu.Lock()
	defer session.writeMu.Unlock()

	session.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := session.conn.WriteJSON(ServerMessage{
		Type:      messageType,
		SessionID: session.id,
		Data:      data,
	})
	if err != nil {
		h.logger.Error("Failed to send WebSocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(session *wsSession, errorMsg string) {
	h.sendMessage(session, "error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (h *WebSocketHandler) pingRoutine(session *wsSession) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			session.writeMu.Lock()
			session.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := session.conn.WriteMessage(websocket.PingMessage, nil)
			session.writeMu.Unlock()
			if err != nil {
				h.logger.Warn("Failed to send ping", zap.Error(err))
				session.close()
				return
			}
		case <-session.done:
			return
		}
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
