package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/utils"
)

// WSHandler is the live call-state channel: clients push participant state
// deltas (mic/camera/speaking/audio level) and receive the session's event
// stream. Media itself never flows here; this is metadata only.
type WSHandler struct {
	sessions services.SessionService
	redis    *redis.Client
	upgrader websocket.Upgrader
}

func NewWSHandler(sessions services.SessionService, rdb *redis.Client) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		redis:    rdb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin in prod
		},
	}
}

const (
	// the read deadline is refreshed on every pong; pings must arrive well
	// inside it
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

type wsClientMsg struct {
	Type  string                         `json:"type"` // state|leave
	Delta services.ParticipantStateDelta `json:"delta"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.PingMessage, nil)
}

func (h *WSHandler) SessionWS(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	if sessionID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WSHandler.SessionWS", "missing session_id", nil))
		return
	}

	// membership check before the upgrade
	sess, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.FindParticipant(userID) == nil {
		writeError(c, utils.E(utils.CodeForbidden, "WSHandler.SessionWS", "forbidden", nil))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.redis.Subscribe(ctx, events.Channel(sessionID))
	defer pubsub.Close()

	// reader: WS deltas -> engine
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})

		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}

			var msg wsClientMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"invalid json"}`))
				continue
			}

			switch msg.Type {
			case "state":
				p, err := h.sessions.UpdateParticipantState(ctx, sessionID, userID, msg.Delta)
				if err != nil {
					_ = wc.writeText(wsErrorPayload(err))
					continue
				}
				b, _ := json.Marshal(gin.H{"type": "state_ack", "participant": p})
				_ = wc.writeText(b)

			case "leave":
				res, err := h.sessions.Leave(ctx, sessionID, userID)
				if err != nil {
					_ = wc.writeText(wsErrorPayload(err))
					continue
				}
				b, _ := json.Marshal(gin.H{"type": "left", "status": res.Status, "elapsed_seconds": res.ElapsedSeconds})
				_ = wc.writeText(b)
				return

			default:
				_ = wc.writeText([]byte(`{"type":"error","code":"INVALID_ARGUMENT","message":"unknown message type"}`))
			}
		}
	}()

	// unblock the subscription as soon as the reader goes away
	go func() {
		select {
		case <-readDone:
		case <-ctx.Done():
		}
		pubsub.Close()
	}()

	pumpEvents(ctx, wc, pubsub.Channel(), readDone, wsPingInterval)
}

// pumpEvents forwards session events to the socket and keeps the connection
// alive with periodic pings. Returns when the subscription closes, the reader
// exits, or a write fails.
func pumpEvents(ctx context.Context, wc *wsConn, msgs <-chan *redis.Message, readDone <-chan struct{}, pingEvery time.Duration) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if err := wc.ping(); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if err := wc.writeText([]byte(m.Payload)); err != nil {
				return
			}
		}
	}
}

func wsErrorPayload(err error) []byte {
	code := utils.CodeInternal
	msg := "internal error"
	var ae *utils.AppError
	if errors.As(err, &ae) {
		code = ae.Code
		msg = ae.Message
	}
	b, _ := json.Marshal(gin.H{"type": "error", "code": code, "message": msg})
	return b
}
