package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// wsReply is one outbound frame: an answer or an error.
type wsReply struct {
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// handleWebSocket 处理WebSocket连接，每一帧为一次提问，按到达顺序依次处理
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.From(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := logging.From(ctx)
	logger.Info("websocket connected")

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go pingLoop(ctx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var req AskRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.write(ctx, conn, wsReply{Error: "invalid frame", Code: utils.CodeInvalidRequest})
			continue
		}

		res, err := h.sessions.Send(ctx, req.input())
		if err != nil {
			status, body := utils.DescribeError(err)
			if status >= http.StatusInternalServerError {
				logger.Error("websocket ask failed", "status", status, "error", err)
			}
			h.write(ctx, conn, wsReply{SessionID: res.SessionID, Error: body.Error, Code: body.Code})
			continue
		}
		h.write(ctx, conn, wsReply{Response: res.Response, SessionID: res.SessionID})
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, reply wsReply) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		logging.From(ctx).Warn("websocket write failed", "error", err)
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
