package feedback

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-lens/backend/internal/model/feedback"
	feedbackservice "github.com/zhouzirui/persona-lens/backend/internal/service/feedback"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

// Engine 人设反馈生成
type Engine interface {
	Get(ctx context.Context, pid, product string) (feedback.Record, error)
	Batch(ctx context.Context, pids []string, product string) (feedbackservice.BatchResult, error)
}

// Handler 反馈的HTTP处理器
type Handler struct {
	engine Engine
}

// New 创建反馈处理器
func New(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册反馈相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.handleFeedback)
	r.Post("/feedback/batch", h.handleBatch)
}

type feedbackResponse struct {
	Feedback feedback.Record `json:"feedback"`
}

type batchResponse struct {
	Feedback map[string]feedback.Record `json:"feedback"`
	Failed   []string                   `json:"failed"`
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID          string `json:"pid"`
		ProductDescription string `json:"product_description"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}

	rec, err := h.engine.Get(r.Context(), payload.PersonaID, payload.ProductDescription)
	if err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, feedbackResponse{Feedback: rec})
}

// handleBatch 并发生成多个人设的反馈，失败的人设单独列出
func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaIDs         []string `json:"pids"`
		ProductDescription string   `json:"product_description"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}

	res, err := h.engine.Batch(r.Context(), payload.PersonaIDs, payload.ProductDescription)
	if err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}

	failed := make([]string, 0, len(res.Failed))
	for _, f := range res.Failed {
		failed = append(failed, f.PersonaID)
	}
	utils.RespondJSON(w, http.StatusOK, batchResponse{Feedback: res.Feedback, Failed: failed})
}
