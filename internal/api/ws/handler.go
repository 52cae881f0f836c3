// Package ws exposes the session socket: the voice client opens one
// WebSocket per training call, streams session events in, and receives
// persona utterances back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-call-coach-service/internal/models"
	"ai-call-coach-service/internal/observability/logging"
	"ai-call-coach-service/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// startedAck confirms session creation to the client, carrying the generated
// session ID when the client did not supply one.
type startedAck struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Scenario  string `json:"scenario"`
	Timestamp int64  `json:"timestamp"`
}

// Handler serves the session socket endpoint.
type Handler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the socket handler.
func NewHandler(m *session.Manager) *Handler {
	return &Handler{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.WithComponent("ws"),
	}
}

// Mux returns the HTTP mux with the session socket mounted.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/session", h.serveSession)
	return mux
}

// serveSession runs one training call over one socket. The first message
// must be a session.start event naming the scenario.
func (h *Handler) serveSession(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	start, err := h.readStart(conn)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Rejecting connection without session.start")
		h.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	s, err := h.manager.Start(start.SessionID, start.Scenario)
	if err != nil {
		h.logger.Error().Err(err).Str("scenario", start.Scenario).Msg("Session start failed")
		h.closeWith(conn, websocket.CloseInternalServerErr, "session start failed")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(startedAck{
		EventType: "session.started",
		SessionID: s.ID,
		Scenario:  s.Scenario,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		h.logger.Warn().Err(err).Msg("Ack write failed")
		h.endSession(s)
		return
	}

	go h.writeLoop(conn, s)
	h.readLoop(conn, s)
}

// readStart expects the opening session.start event.
func (h *Handler) readStart(conn *websocket.Conn) (models.SessionEvent, error) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	var ev models.SessionEvent
	if err := conn.ReadJSON(&ev); err != nil {
		return ev, errors.New("malformed opening event")
	}
	if ev.EventType != models.EventSessionStart {
		return ev, errors.New("first event must be session.start")
	}
	if ev.Scenario == "" {
		return ev, errors.New("session.start requires a scenario")
	}
	return ev, nil
}

// readLoop delivers inbound events to the session until the socket closes or
// the client ends the session.
func (h *Handler) readLoop(conn *websocket.Conn, s *session.Session) {
	defer h.endSession(s)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("Socket closed unexpectedly")
			}
			return
		}
		var ev models.SessionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("Dropping malformed event")
			continue
		}
		if ev.EventType == models.EventSessionEnd {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		err = s.Deliver(ctx, ev)
		cancel()
		if err != nil {
			h.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("Event delivery failed")
			return
		}
	}
}

// writeLoop pushes persona utterances and keepalive pings.
func (h *Handler) writeLoop(conn *websocket.Conn, s *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case u, ok := <-s.Outbound():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				h.logger.Warn().Err(err).Str("sessionId", s.ID).Msg("Utterance write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// endSession asks the session to tear down. Idempotent: a session already
// gone is fine.
func (h *Handler) endSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.Deliver(ctx, models.SessionEvent{EventType: models.EventSessionEnd}); err != nil {
		return
	}
	select {
	case <-s.Done():
	case <-time.After(30 * time.Second):
		h.logger.Warn().Str("sessionId", s.ID).Msg("Session teardown timed out")
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
