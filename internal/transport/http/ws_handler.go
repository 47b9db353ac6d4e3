package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type WSHandler struct {
	ctrl     *app.Controller
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(ctrl *app.Controller, hub *Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		ctrl: ctrl,
		hub:  hub,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	DisplayName string `json:"displayName"`
}

type answerPayload struct {
	QuestionID string             `json:"questionId"`
	Value      domain.AnswerValue `json:"value"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Error   domain.ErrorKind `json:"error"`
	Message string           `json:"message"`
}

// ServeWS upgrades GET /ws/:code?playerId=... and wires the socket into the session use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		writeError(w, h.log, domain.NewError(domain.KindInvalidRequest, "missing playerId"))
		return
	}
	snap, err := h.ctrl.Snapshot(r.Context(), ps.ByName("code"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	code := snap.Code

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "code", code, "err", err)
		return
	}
	defer conn.Close()

	c := h.hub.Register(code, playerID)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, c, writerDone)

	// the request context ends with the handler; socket work must outlive neither
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a returning member gets its state right away
	if _, err := h.ctrl.Resync(ctx, code, playerID); err != nil && !errors.Is(err, domain.ErrPlayerNotInSession) {
		h.sendError(c, err)
	}

	left := h.readLoop(ctx, conn, c)

	if h.hub.Unregister(c) == 0 && !left {
		err := h.ctrl.LeaveSession(ctx, code, playerID)
		if err != nil && domain.KindOf(err) == domain.KindInternal {
			h.log.Error("leave on disconnect", "code", code, "player", playerID, "err", err)
		}
	}
	<-writerDone
}

// readLoop handles inbound messages until the socket closes. It reports whether the player
// left explicitly.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, c *client) bool {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	left := false
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("ws read error", "code", c.code, "player", c.playerID, "err", err)
			}
			return left
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.dispatch(ctx, c, inbound); err != nil {
			h.sendError(c, err)
			continue
		}
		if inbound.Type == "leave" {
			left = true
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *client, inbound inboundMessage) error {
	switch inbound.Type {
	case "join":
		var payload joinPayload
		if err := decodePayload(inbound.Payload, &payload); err != nil {
			return err
		}
		if _, err := h.ctrl.JoinSession(ctx, c.code, c.playerID, payload.DisplayName); err != nil {
			return err
		}
		_, err := h.ctrl.Resync(ctx, c.code, c.playerID)
		return err
	case "start":
		return h.ctrl.StartSession(ctx, c.code, c.playerID)
	case "submitAnswer":
		var payload answerPayload
		if err := decodePayload(inbound.Payload, &payload); err != nil {
			return err
		}
		_, err := h.ctrl.SubmitAnswer(ctx, c.code, c.playerID, payload.QuestionID, payload.Value)
		return err
	case "advance":
		return h.ctrl.AdvanceQuestion(ctx, c.code, c.playerID)
	case "end":
		return h.ctrl.EndSession(ctx, c.code, c.playerID)
	case "leave":
		return h.ctrl.LeaveSession(ctx, c.code, c.playerID)
	case "sync":
		_, err := h.ctrl.Resync(ctx, c.code, c.playerID)
		return err
	case "ping":
		h.hub.deliver(c, outboundMessage[any]{Type: "pong", Payload: struct{}{}})
		return nil
	default:
		return domain.NewError(domain.KindInvalidRequest, "unsupported message type")
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "code", c.code, "player", c.playerID, "err", err)
				// unblock the reader so the handler can clean up
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *WSHandler) sendError(c *client, err error) {
	h.hub.deliver(c, outboundMessage[any]{Type: "error", Payload: errorBody(h.log, err)})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.NewError(domain.KindInvalidRequest, "missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		if errors.Is(err, domain.ErrInvalidAnswerValue) {
			return domain.ErrInvalidAnswerValue
		}
		return domain.NewError(domain.KindInvalidRequest, "malformed payload")
	}
	return nil
}

// errorBody hides internal faults behind a generic message and logs the cause.
func errorBody(log *slog.Logger, err error) errorPayload {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		log.Error("internal error", "err", err)
		return errorPayload{Error: kind, Message: "internal error"}
	}
	return errorPayload{Error: kind, Message: err.Error()}
}
