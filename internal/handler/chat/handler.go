package chat

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/persona-lens/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/persona-lens/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

// SessionService 对话会话管理
type SessionService interface {
	Send(ctx context.Context, input chatservice.SendInput) (chatservice.SendResult, error)
	Close(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) (chat.Session, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	sessions SessionService
	upgrader websocket.Upgrader
}

// New 创建聊天处理器
func New(sessions SessionService) *Handler {
	return &Handler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ask", h.handleAsk)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleCloseSession)
	r.Get("/ws/ask", h.handleWebSocket)
}

// AskRequest is the ask_persona input, shared by HTTP and WebSocket.
type AskRequest struct {
	PersonaID          string `json:"pid"`
	Question           string `json:"question"`
	SessionID          string `json:"session_id"`
	ProductDescription string `json:"product_description,omitempty"`
}

// AskResponse is the ask_persona output.
type AskResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func (req AskRequest) input() chatservice.SendInput {
	return chatservice.SendInput{
		PersonaID:          req.PersonaID,
		Question:           req.Question,
		SessionID:          req.SessionID,
		ProductDescription: req.ProductDescription,
	}
}

// handleAsk 向人设提问，必要时创建会话
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}

	res, err := h.sessions.Send(r.Context(), req.input())
	if err != nil {
		utils.RespondServiceErrorWithSession(w, r, err, res.SessionID)
		return
	}

	utils.RespondJSON(w, http.StatusOK, AskResponse{Response: res.Response, SessionID: res.SessionID})
}

// handleGetSession 返回会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleCloseSession 关闭会话
func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
