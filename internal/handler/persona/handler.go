package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas/{pid}", h.handleGetPersona)
}

// handleGetPersona 返回人设卡片（不含向量）
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	rec, err := h.personas.Get(chi.URLParam(r, "pid"))
	if err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec.Card())
}
