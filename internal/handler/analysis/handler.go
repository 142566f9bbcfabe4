package analysis

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	analysisservice "github.com/zhouzirui/persona-lens/backend/internal/service/analysis"
	"github.com/zhouzirui/persona-lens/backend/internal/service/profile"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

// Analyzer 产品画像分析
type Analyzer interface {
	Analyze(ctx context.Context, req analysisservice.Request) (profile.Profile, error)
}

// Handler 产品分析的HTTP处理器
type Handler struct {
	analyzer Analyzer
}

// New 创建分析处理器
func New(analyzer Analyzer) *Handler {
	return &Handler{analyzer: analyzer}
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/analyze", h.handleAnalyze)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductDescription string `json:"product_description"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}

	out, err := h.analyzer.Analyze(r.Context(), analysisservice.Request{ProductDescription: payload.ProductDescription})
	if err != nil {
		utils.RespondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
