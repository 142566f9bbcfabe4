package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/persona-lens/backend/internal/logging"
)

// RequestLogger 为每个请求注入带 request_id 的 logger，并在结束时记录访问日志。
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			logger := base.With("request_id", chimw.GetReqID(r.Context()))
			ctx := logging.With(r.Context(), logger)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				// hijacked connections (websocket) never write a status
				status = http.StatusSwitchingProtocols
			}
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(started),
				"remote", r.RemoteAddr,
			)
		})
	}
}
