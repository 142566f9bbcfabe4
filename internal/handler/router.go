package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	analysishandler "github.com/zhouzirui/persona-lens/backend/internal/handler/analysis"
	chathandler "github.com/zhouzirui/persona-lens/backend/internal/handler/chat"
	feedbackhandler "github.com/zhouzirui/persona-lens/backend/internal/handler/feedback"
	personahandler "github.com/zhouzirui/persona-lens/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/persona-lens/backend/internal/middleware"
	personaModel "github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/pkg/utils"
)

// Services 路由依赖的核心服务
type Services struct {
	Personas personaModel.Store
	Analysis analysishandler.Analyzer
	Chat     chathandler.SessionService
	Feedback feedbackhandler.Engine
	Logger   *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusNotFound, utils.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, utils.CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"personas": svc.Personas.Len(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		personahandler.New(svc.Personas).RegisterRoutes(api)
		analysishandler.New(svc.Analysis).RegisterRoutes(api)
		chathandler.New(svc.Chat).RegisterRoutes(api)
		feedbackhandler.New(svc.Feedback).RegisterRoutes(api)
	})

	return r
}
